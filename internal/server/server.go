package server

import (
	"database/sql"
	"net/http"

	"automation-service/internal/repository"
	"automation-service/internal/service"

	log "github.com/sirupsen/logrus"

	"github.com/labstack/echo/v4"
)

// Server exposes the admin surface: rule CRUD, approval decisions,
// webhook CRUD and the read-only event projections.
type Server struct {
	bus         *service.EventBus
	workflow    *service.ApprovalWorkflow
	executor    *service.ActionExecutor
	dispatcher  *service.WebhookDispatcher
	ruleRepo    repository.RuleRepository
	approvals   repository.ApprovalRepository
	webhookRepo repository.WebhookRepository
	db          *sql.DB
}

func NewServer(
	bus *service.EventBus,
	workflow *service.ApprovalWorkflow,
	executor *service.ActionExecutor,
	dispatcher *service.WebhookDispatcher,
	ruleRepo repository.RuleRepository,
	approvals repository.ApprovalRepository,
	webhookRepo repository.WebhookRepository,
	db *sql.DB,
) *Server {
	return &Server{
		bus:         bus,
		workflow:    workflow,
		executor:    executor,
		dispatcher:  dispatcher,
		ruleRepo:    ruleRepo,
		approvals:   approvals,
		webhookRepo: webhookRepo,
		db:          db,
	}
}

func (s *Server) HealthCheck(c echo.Context) error {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			log.WithField("error", err).Error("Health check failed: database is down")
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  "database connection error",
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
