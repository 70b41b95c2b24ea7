package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsegrid/pulsegrid/internal/alert"
	"github.com/pulsegrid/pulsegrid/internal/api/handler"
	"github.com/pulsegrid/pulsegrid/internal/api/middleware"
	"github.com/pulsegrid/pulsegrid/internal/config"
	"github.com/pulsegrid/pulsegrid/internal/email"
	"github.com/pulsegrid/pulsegrid/internal/ratelimit"
	"github.com/pulsegrid/pulsegrid/internal/telemetry"
	"github.com/pulsegrid/pulsegrid/internal/webhook"
	"github.com/pulsegrid/pulsegrid/internal/ws"
)

type Dependencies struct {
	Config *config.Config
	DB     *pgxpool.Pool
}

type Router struct {
	app           *fiber.App
	logger        *slog.Logger
	deps          *Dependencies
	registry      *ws.Registry
	cancelCleanup context.CancelFunc
}

func NewRouter(logger *slog.Logger, deps *Dependencies) *Router {
	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(logger),
		AppName:      "Pulsegrid API",
	})

	return &Router{
		app:    app,
		logger: logger,
		deps:   deps,
	}
}

func (r *Router) Setup() {
	// Global middlewares
	r.app.Use(requestid.New())
	r.app.Use(middleware.Recover(r.logger))
	r.app.Use(middleware.Logger(r.logger))
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check endpoints
	var pinger handler.Pinger
	if r.deps != nil && r.deps.DB != nil {
		pinger = r.deps.DB
	}
	healthHandler := handler.NewHealthHandler(pinger)
	r.app.Get("/health", healthHandler.Health)
	r.app.Get("/ready", healthHandler.Ready)

	if r.deps == nil || r.deps.DB == nil {
		return
	}

	cfg := r.deps.Config

	// Repositories
	eventRepo := telemetry.NewRepository(r.deps.DB)
	alertRepo := alert.NewRepository(r.deps.DB)

	// Live session registry
	r.registry = ws.NewRegistry(eventRepo, r.logger)

	// Notification pipeline
	webhookService := webhook.NewService(time.Duration(cfg.WebhookTimeoutSeconds) * time.Second)
	emailSender := email.NewSender(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUser, cfg.SMTPPassword, r.logger)
	notifier := alert.NewNotifier(r.registry, emailSender, webhookService, r.logger)
	cooldown := alert.NewCooldownTracker(alertRepo)
	dispatcher := alert.NewDispatcher(alertRepo, cooldown, notifier, r.logger)

	// Ingest rate limiting
	limiter := ratelimit.NewRateLimiter(r.deps.DB, time.Duration(cfg.IngestRateWindow)*time.Second)

	cleanupCtx, cancel := context.WithCancel(context.Background())
	r.cancelCleanup = cancel
	go r.runLimiterCleanup(cleanupCtx, limiter)

	// Handlers
	ingestHandler := handler.NewIngestHandler(eventRepo, r.registry, dispatcher, limiter, cfg.IngestRateLimit, r.logger)
	eventsHandler := handler.NewEventsHandler(eventRepo, r.logger)
	rulesHandler := handler.NewRulesHandler(alertRepo, r.logger)
	alertsHandler := handler.NewAlertsHandler(alertRepo, r.logger)
	limitsHandler := handler.NewLimitsHandler(limiter, r.logger)

	v1 := r.app.Group("/api/v1")

	// Telemetry routes
	v1.Post("/ingest", ingestHandler.Ingest)
	v1.Post("/events", ingestHandler.Ingest)
	v1.Get("/events", eventsHandler.Query)
	v1.Delete("/devices/:device_id/rate-limit", limitsHandler.Reset)

	// Alert rule routes
	v1.Get("/rules", rulesHandler.List)
	v1.Post("/rules", rulesHandler.Create)
	v1.Get("/rules/:id", rulesHandler.Get)
	v1.Put("/rules/:id", rulesHandler.Update)
	v1.Delete("/rules/:id", rulesHandler.Delete)

	// Alert instance routes
	v1.Get("/alerts", alertsHandler.List)
	v1.Post("/alerts/:id/acknowledge", alertsHandler.Acknowledge)
	v1.Post("/alerts/:id/resolve", alertsHandler.Resolve)

	// WebSocket endpoint
	r.app.Get("/ws", ws.UpgradeMiddleware(), ws.Handler(r.registry))
}

func (r *Router) runLimiterCleanup(ctx context.Context, limiter *ratelimit.RateLimiter) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := limiter.CleanupExpired(ctx)
			if err != nil {
				r.logger.Warn("rate limit cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				r.logger.Debug("rate limit counters cleaned", "removed", removed)
			}
		}
	}
}

func (r *Router) App() *fiber.App {
	return r.app
}

func (r *Router) Listen(addr string) error {
	return r.app.Listen(addr)
}

func (r *Router) Shutdown() error {
	if r.cancelCleanup != nil {
		r.cancelCleanup()
	}
	return r.app.Shutdown()
}
