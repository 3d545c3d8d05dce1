package server

import (
	"errors"
	"net/http"
	"time"

	"automation-service/internal/domain"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/labstack/echo/v4"
)

type ruleRequest struct {
	Name                   string                 `json:"name"`
	Description            string                 `json:"description"`
	IsActive               *bool                  `json:"is_active"`
	TriggerType            string                 `json:"trigger_type"`
	Conditions             map[string]interface{} `json:"conditions"`
	Actions                []domain.Action        `json:"actions"`
	Priority               int                    `json:"priority"`
	RequiresApproval       bool                   `json:"requires_approval"`
	ImpactLevel            string                 `json:"impact_level"`
	AutoApprovalConditions map[string]interface{} `json:"auto_approval_conditions"`
	AuthorizedApprovers    []string               `json:"authorized_approvers"`
}

func (req *ruleRequest) validate() error {
	if req.Name == "" {
		return errors.New("name is required")
	}
	if req.TriggerType == "" {
		return errors.New("trigger_type is required")
	}
	if len(req.Actions) == 0 {
		return errors.New("at least one action is required")
	}
	valid := false
	for _, level := range domain.ValidImpactLevels() {
		if req.ImpactLevel == level {
			valid = true
			break
		}
	}
	if !valid {
		return errors.New("impact_level must be one of low, medium, high, critical")
	}
	// Reject malformed conditions at the door instead of silently
	// never matching.
	if _, err := domain.ParseConditions(req.Conditions); err != nil {
		return err
	}
	if _, err := domain.ParseConditions(req.AutoApprovalConditions); err != nil {
		return err
	}
	return nil
}

func (s *Server) CreateRule(c echo.Context) error {
	var req ruleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := req.validate(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	now := time.Now().UTC()
	rule := domain.Rule{
		ID:                     uuid.NewString(),
		Name:                   req.Name,
		Description:            req.Description,
		Status:                 domain.RuleStatusActive,
		IsActive:               isActive,
		TriggerType:            req.TriggerType,
		Conditions:             req.Conditions,
		Actions:                req.Actions,
		Priority:               req.Priority,
		RequiresApproval:       req.RequiresApproval,
		ImpactLevel:            req.ImpactLevel,
		AutoApprovalConditions: req.AutoApprovalConditions,
		AuthorizedApprovers:    req.AuthorizedApprovers,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	ctx := c.Request().Context()
	if err := s.ruleRepo.Create(ctx, &rule); err != nil {
		log.WithError(err).Error("Failed to create rule")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}

	return c.JSON(http.StatusCreated, rule)
}

func (s *Server) GetRule(c echo.Context) error {
	ctx := c.Request().Context()
	rule, err := s.ruleRepo.GetByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrRuleNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "rule not found"})
		}
		log.WithError(err).WithField("rule_id", c.Param("id")).Error("Failed to get rule")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
	return c.JSON(http.StatusOK, rule)
}

func (s *Server) ListRules(c echo.Context) error {
	includeArchived := c.QueryParam("include_archived") == "true"

	ctx := c.Request().Context()
	rules, err := s.ruleRepo.List(ctx, includeArchived)
	if err != nil {
		log.WithError(err).Error("Failed to list rules")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
	return c.JSON(http.StatusOK, rules)
}

func (s *Server) UpdateRule(c echo.Context) error {
	var req ruleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := req.validate(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	ctx := c.Request().Context()
	rule, err := s.ruleRepo.GetByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrRuleNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "rule not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}

	rule.Name = req.Name
	rule.Description = req.Description
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	rule.TriggerType = req.TriggerType
	rule.Conditions = req.Conditions
	rule.Actions = req.Actions
	rule.Priority = req.Priority
	rule.RequiresApproval = req.RequiresApproval
	rule.ImpactLevel = req.ImpactLevel
	rule.AutoApprovalConditions = req.AutoApprovalConditions
	rule.AuthorizedApprovers = req.AuthorizedApprovers

	if err := s.ruleRepo.Update(ctx, rule); err != nil {
		if errors.Is(err, domain.ErrRuleNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "rule not found"})
		}
		log.WithError(err).WithField("rule_id", rule.ID).Error("Failed to update rule")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}

	return c.JSON(http.StatusOK, rule)
}

func (s *Server) ArchiveRule(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.ruleRepo.Archive(ctx, c.Param("id")); err != nil {
		if errors.Is(err, domain.ErrRuleNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "rule not found"})
		}
		log.WithError(err).WithField("rule_id", c.Param("id")).Error("Failed to archive rule")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
	return c.NoContent(http.StatusNoContent)
}
