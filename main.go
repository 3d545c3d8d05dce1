package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"

	"automation-service/internal/config"
	"automation-service/internal/domain"
	"automation-service/internal/publisher"
	"automation-service/internal/relay"
	"automation-service/internal/repository"
	"automation-service/internal/server"
	"automation-service/internal/service"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	log "github.com/sirupsen/logrus"

	"github.com/labstack/echo/v4"
)

func main() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn("Could not load .env file.")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithField("error", err).Fatal("Could not load configuration")
	}

	log.Info("Starting database migration...")
	m, err := migrate.New("file://db/migrations", cfg.DB.URL)
	if err != nil {
		log.WithField("error", err).Fatal("Could not create migrate instance")
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.WithField("error", err).Fatal("Could not apply migration")
	}
	log.Info("Database migration finished successfully.")

	db, err := sql.Open("postgres", cfg.DB.URL)
	if err != nil {
		log.WithField("error", err).Fatal("Could not connect to the database")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DB.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		log.WithField("error", err).Fatal("Could not ping the database")
	}
	log.Info("Successfully connected to the PostgreSQL database.")

	// Create repositories
	eventRepo := repository.NewPostgresEventRepository(db)
	ruleRepo := repository.NewPostgresRuleRepository(db)
	approvalRepo := repository.NewPostgresApprovalRepository(db)
	webhookRepo := repository.NewPostgresWebhookRepository(db)

	// Wire the automation pipeline
	registry := service.NewHandlerRegistry()
	executor := service.NewActionExecutor(registry, ruleRepo, approvalRepo)
	workflow := service.NewApprovalWorkflow(approvalRepo, executor)
	dispatcher := service.NewWebhookDispatcher(webhookRepo)
	bus := service.NewEventBus(eventRepo, ruleRepo, workflow, dispatcher)

	// webhook.trigger is the one action the engine serves itself; the
	// other side effects are registered by their owning modules.
	registry.Register(service.ActionWebhookTrigger, func(ctx context.Context, actionConfig map[string]interface{}, event domain.Event) error {
		webhookID, _ := actionConfig["webhook_id"].(string)
		if webhookID == "" {
			return errors.New("webhook_id is required")
		}
		webhook, err := webhookRepo.GetByID(ctx, webhookID)
		if err != nil {
			return err
		}
		return dispatcher.Deliver(ctx, *webhook, event)
	})

	if cfg.Kafka.BootstrapServers != "" {
		streamPublisher, err := publisher.NewStreamPublisher(cfg.Kafka.BootstrapServers, cfg.Kafka.EventTopic)
		if err != nil {
			log.WithField("error", err).Fatal("Could not create event stream publisher")
		}
		defer streamPublisher.Close()
		bus.AddSink(streamPublisher)
	}

	if cfg.Redis.Addr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		defer rc.Close()

		eventRelay := relay.New(rc, cfg.Redis.RelayChannel, uuid.NewString())
		bus.AddSink(eventRelay)
		go eventRelay.Run(context.Background(), bus.BroadcastRemote)
		log.WithField("channel", cfg.Redis.RelayChannel).Info("Redis event relay started")
	}

	go workflow.RunExpirationSweep(context.Background(), cfg.Automation.SweepInterval)

	// Create server
	srv := server.NewServer(bus, workflow, executor, dispatcher, ruleRepo, approvalRepo, webhookRepo, db)
	auth := server.NewAuth(cfg.HTTP.JWTSecret)

	// Setup Echo
	e := echo.New()

	// Health check
	e.GET("/health", srv.HealthCheck)

	api := e.Group("/api", auth.Middleware)

	events := api.Group("/events")
	events.POST("", srv.PublishEvent)
	events.GET("", srv.ListEvents)
	events.GET("/stats", srv.EventStats)

	rules := api.Group("/rules")
	rules.POST("", srv.CreateRule)
	rules.GET("", srv.ListRules)
	rules.GET("/:id", srv.GetRule)
	rules.PUT("/:id", srv.UpdateRule)
	rules.DELETE("/:id", srv.ArchiveRule)

	approvals := api.Group("/approvals")
	approvals.GET("", srv.ListApprovals)
	approvals.GET("/stats", srv.ApprovalStats)
	approvals.GET("/:id", srv.GetApproval)
	approvals.POST("/:id/approve", srv.ApproveRequest)
	approvals.POST("/:id/reject", srv.RejectRequest)
	approvals.POST("/:id/execute", srv.ExecuteApproval)

	webhooks := api.Group("/webhooks")
	webhooks.POST("", srv.CreateWebhook)
	webhooks.GET("", srv.ListWebhooks)
	webhooks.GET("/:id", srv.GetWebhook)
	webhooks.PUT("/:id", srv.UpdateWebhook)
	webhooks.DELETE("/:id", srv.ArchiveWebhook)
	webhooks.POST("/:id/ping", srv.PingWebhook)

	log.WithField("port", cfg.HTTP.Port).Info("Automation service is starting with Echo")

	if err := e.Start(":" + cfg.HTTP.Port); err != nil && err != http.ErrServerClosed {
		log.WithField("error", err).Fatal("Echo server failed to start")
	}
}
