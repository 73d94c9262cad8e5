package bootstrap

import (
	"strings"

	"mailsync_server/adapter/in/http"
	"mailsync_server/adapter/in/worker"
	"mailsync_server/config"
	"mailsync_server/core/service/categorize"
	"mailsync_server/infra/middleware"
	"mailsync_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rs/zerolog"
)

// NewAPI builds the HTTP server on an existing dependency graph. The pool
// and categorize processor are optional; they are present when the worker
// runs in the same process and nil otherwise.
func NewAPI(cfg *config.Config, deps *Dependencies, pool *worker.Pool, categorizeProc *categorize.Processor) (*fiber.App, error) {
	middleware.InitTokenBlacklist(deps.Redis)

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             10 * 1024 * 1024,
		ServerHeader:          "",
		DisableDefaultDate:    true,
		StreamRequestBody:     true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// CORS. AllowCredentials:true requires explicit origins, never "*".
	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	// Health check (no auth required)
	healthHandler := http.NewHealthHandler(deps.DB, deps.Redis, deps.MongoDB)
	healthHandler.Register(app)

	// Authenticated API
	api := app.Group("/api", middleware.JWTAuth(cfg.JWTSecret))

	syncHandler := http.NewSyncHandler(deps.Orchestrator, deps.Notifier)
	syncHandler.Register(api)

	zlog := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	sseHandler := http.NewSSEHandler(deps.SSEHub, deps.RealtimeAdapter, zlog)
	sseHandler.Register(api)

	adminHandler := http.NewAdminHandler(
		deps.QueueAdmin,
		deps.Orchestrator,
		pool,
		categorizeProc,
		deps.RealtimeAdapter,
		deps.DB,
		deps.Redis,
	)
	adminHandler.Register(api)

	logger.Info("API routes registered")
	return app, nil
}
