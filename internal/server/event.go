package server

import (
	"net/http"
	"strconv"
	"time"

	"automation-service/internal/domain"

	log "github.com/sirupsen/logrus"

	"github.com/labstack/echo/v4"
)

type publishRequest struct {
	Source   string                 `json:"source"`
	Type     string                 `json:"type"`
	Payload  map[string]interface{} `json:"payload"`
	Metadata map[string]interface{} `json:"metadata"`
}

// PublishEvent is the inbound collaborator endpoint: other platform
// modules announce what happened here.
func (s *Server) PublishEvent(c echo.Context) error {
	var req publishRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Source == "" || req.Type == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "source and type are required"})
	}

	ctx := c.Request().Context()
	event, err := s.bus.Publish(ctx, req.Source, req.Type, req.Payload, req.Metadata)
	if err != nil {
		log.WithError(err).Error("Failed to publish event")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}

	return c.JSON(http.StatusCreated, event)
}

func (s *Server) ListEvents(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		}
		limit = parsed
	}

	ctx := c.Request().Context()
	var events []domain.Event
	var err error
	switch {
	case c.QueryParam("type") != "":
		events, err = s.bus.EventsByType(ctx, c.QueryParam("type"), limit)
	case c.QueryParam("source") != "":
		events, err = s.bus.EventsBySource(ctx, c.QueryParam("source"), limit)
	case c.QueryParam("automated") == "true":
		events, err = s.bus.EventsWithAutomation(ctx, limit)
	default:
		events, err = s.bus.RecentEvents(ctx, limit)
	}

	if err != nil {
		log.WithError(err).Error("Failed to list events")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) EventStats(c echo.Context) error {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)

	if raw := c.QueryParam("start"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid start date"})
		}
		start = parsed
	}
	if raw := c.QueryParam("end"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid end date"})
		}
		end = parsed
	}

	ctx := c.Request().Context()
	stats, err := s.bus.Stats(ctx, start, end)
	if err != nil {
		log.WithError(err).Error("Failed to load event stats")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
	return c.JSON(http.StatusOK, stats)
}
