package server

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"automation-service/internal/domain"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/labstack/echo/v4"
)

type webhookRequest struct {
	Name             string                 `json:"name"`
	Description      string                 `json:"description"`
	URL              string                 `json:"url"`
	IsActive         *bool                  `json:"is_active"`
	SubscribedEvents []string               `json:"subscribed_events"`
	AuthType         string                 `json:"auth_type"`
	AuthConfig       map[string]interface{} `json:"auth_config"`
	RetryCount       int                    `json:"retry_count"`
	RetryDelayMs     int                    `json:"retry_delay_ms"`
	TimeoutMs        int                    `json:"timeout_ms"`
	CustomHeaders    map[string]string      `json:"custom_headers"`
}

func (req *webhookRequest) validate() error {
	if req.Name == "" {
		return errors.New("name is required")
	}
	parsed, err := url.Parse(req.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return errors.New("url must be a valid http(s) URL")
	}
	if len(req.SubscribedEvents) == 0 {
		return errors.New("at least one subscribed event is required")
	}
	switch req.AuthType {
	case "", domain.AuthNone, domain.AuthBearer, domain.AuthAPIKey, domain.AuthBasic:
	default:
		return errors.New("auth_type must be one of none, bearer, api_key, basic")
	}
	if req.RetryCount < 0 {
		return errors.New("retry_count must not be negative")
	}
	return nil
}

func (s *Server) CreateWebhook(c echo.Context) error {
	var req webhookRequest
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
	authType := req.AuthType
	if authType == "" {
		authType = domain.AuthNone
	}

	now := time.Now().UTC()
	webhook := domain.Webhook{
		ID:               uuid.NewString(),
		Name:             req.Name,
		Description:      req.Description,
		URL:              req.URL,
		Status:           domain.WebhookStatusActive,
		IsActive:         isActive,
		SubscribedEvents: req.SubscribedEvents,
		AuthType:         authType,
		AuthConfig:       req.AuthConfig,
		RetryCount:       req.RetryCount,
		RetryDelayMs:     req.RetryDelayMs,
		TimeoutMs:        req.TimeoutMs,
		CustomHeaders:    req.CustomHeaders,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	ctx := c.Request().Context()
	if err := s.webhookRepo.Create(ctx, &webhook); err != nil {
		log.WithError(err).Error("Failed to create webhook")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}

	return c.JSON(http.StatusCreated, webhook)
}

func (s *Server) GetWebhook(c echo.Context) error {
	ctx := c.Request().Context()
	webhook, err := s.webhookRepo.GetByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrWebhookNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "webhook not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
	return c.JSON(http.StatusOK, webhook)
}

func (s *Server) ListWebhooks(c echo.Context) error {
	includeArchived := c.QueryParam("include_archived") == "true"

	ctx := c.Request().Context()
	webhooks, err := s.webhookRepo.List(ctx, includeArchived)
	if err != nil {
		log.WithError(err).Error("Failed to list webhooks")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
	return c.JSON(http.StatusOK, webhooks)
}

func (s *Server) UpdateWebhook(c echo.Context) error {
	var req webhookRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := req.validate(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	ctx := c.Request().Context()
	webhook, err := s.webhookRepo.GetByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrWebhookNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "webhook not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}

	webhook.Name = req.Name
	webhook.Description = req.Description
	webhook.URL = req.URL
	if req.IsActive != nil {
		webhook.IsActive = *req.IsActive
	}
	webhook.SubscribedEvents = req.SubscribedEvents
	if req.AuthType != "" {
		webhook.AuthType = req.AuthType
	}
	webhook.AuthConfig = req.AuthConfig
	webhook.RetryCount = req.RetryCount
	webhook.RetryDelayMs = req.RetryDelayMs
	webhook.TimeoutMs = req.TimeoutMs
	webhook.CustomHeaders = req.CustomHeaders

	if err := s.webhookRepo.Update(ctx, webhook); err != nil {
		if errors.Is(err, domain.ErrWebhookNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "webhook not found"})
		}
		log.WithError(err).WithField("webhook_id", webhook.ID).Error("Failed to update webhook")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}

	return c.JSON(http.StatusOK, webhook)
}

func (s *Server) ArchiveWebhook(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.webhookRepo.Archive(ctx, c.Param("id")); err != nil {
		if errors.Is(err, domain.ErrWebhookNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "webhook not found"})
		}
		log.WithError(err).WithField("webhook_id", c.Param("id")).Error("Failed to archive webhook")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
	return c.NoContent(http.StatusNoContent)
}

// PingWebhook sends a synthetic test event so operators can verify the
// endpoint configuration before subscribing it to real traffic.
func (s *Server) PingWebhook(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.dispatcher.Ping(ctx, c.Param("id")); err != nil {
		if errors.Is(err, domain.ErrWebhookNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "webhook not found"})
		}
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "delivered"})
}
