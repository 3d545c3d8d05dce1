package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"automation-service/internal/domain"

	log "github.com/sirupsen/logrus"

	"github.com/labstack/echo/v4"
)

type decisionRequest struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Comment  string `json:"comment"`
}

func (s *Server) ListApprovals(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		}
		limit = parsed
	}

	ctx := c.Request().Context()
	approvals, err := s.approvals.List(ctx, c.QueryParam("status"), limit)
	if err != nil {
		log.WithError(err).Error("Failed to list approvals")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}

	if c.QueryParam("view") == "summary" {
		now := time.Now().UTC()
		summaries := make([]domain.ApprovalSummary, 0, len(approvals))
		for _, approval := range approvals {
			summaries = append(summaries, approval.Summary(now))
		}
		return c.JSON(http.StatusOK, summaries)
	}

	return c.JSON(http.StatusOK, approvals)
}

func (s *Server) GetApproval(c echo.Context) error {
	ctx := c.Request().Context()
	approval, err := s.approvals.GetByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrApprovalNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "approval not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
	return c.JSON(http.StatusOK, approval)
}

func (s *Server) ApproveRequest(c echo.Context) error {
	return s.decide(c, true)
}

func (s *Server) RejectRequest(c echo.Context) error {
	return s.decide(c, false)
}

func (s *Server) decide(c echo.Context, approve bool) error {
	var req decisionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.UserID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id is required"})
	}

	ctx := c.Request().Context()
	var approval *domain.ApprovalRequest
	var err error
	if approve {
		approval, err = s.workflow.Approve(ctx, c.Param("id"), req.UserID, req.UserName, req.Comment)
	} else {
		approval, err = s.workflow.Reject(ctx, c.Param("id"), req.UserID, req.UserName, req.Comment)
	}

	if err != nil {
		switch {
		case errors.Is(err, domain.ErrApprovalNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "approval not found"})
		case errors.Is(err, domain.ErrInvalidApprovalState):
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		case errors.Is(err, domain.ErrNotAuthorizedApprover):
			return c.JSON(http.StatusForbidden, map[string]string{"error": err.Error()})
		}
		log.WithError(err).WithField("approval_id", c.Param("id")).Error("Failed to record approval decision")
		if approval != nil {
			// Decision was recorded but execution failed; surface the
			// updated approval alongside the error.
			return c.JSON(http.StatusInternalServerError, map[string]interface{}{
				"error":    err.Error(),
				"approval": approval,
			})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}

	return c.JSON(http.StatusOK, approval)
}

// ExecuteApproval manually re-triggers an approved automation. Already
// executed approvals are a no-op (the response reflects the stored
// execution result).
func (s *Server) ExecuteApproval(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.executor.ExecuteApprovedAutomation(ctx, c.Param("id")); err != nil {
		switch {
		case errors.Is(err, domain.ErrApprovalNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "approval not found"})
		case errors.Is(err, domain.ErrInvalidApprovalState):
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		log.WithError(err).WithField("approval_id", c.Param("id")).Error("Failed to execute approval")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	approval, err := s.approvals.GetByID(ctx, c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
	return c.JSON(http.StatusOK, approval)
}

func (s *Server) ApprovalStats(c echo.Context) error {
	ctx := c.Request().Context()
	stats, err := s.approvals.Stats(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to load approval stats")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
	return c.JSON(http.StatusOK, stats)
}
