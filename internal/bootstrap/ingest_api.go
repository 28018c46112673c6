package bootstrap

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"

	httpin "ingest_server/adapter/in/http"
	"ingest_server/config"
	"ingest_server/infra/middleware"
	"ingest_server/pkg/logger"
)

// NewAPI wires a fresh dependency graph and builds the fiber app over
// it. Single-process deployments that also run the scheduler should
// build the graph once and use NewAPIWithDeps instead, so both trigger
// surfaces share one coordinator.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "newsletter-api",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	return NewAPIWithDeps(cfg, deps), cleanup, nil
}

// NewAPIWithDeps builds the fiber app serving the read API, the
// operator surface, and the ingested image assets over an existing
// dependency graph.
func NewAPIWithDeps(cfg *config.Config, deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),

		// go-json over encoding/json for response serialization
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:    1 * 1024 * 1024,
		ServerHeader: "",
	})

	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
		} else {
			allowOrigins = "http://localhost:3000"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  allowOrigins,
		AllowMethods:  "GET,POST,DELETE,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders: "X-Request-ID",
	}))

	// Health check (no auth required)
	healthHandler := httpin.NewHealthHandler(deps.DB, deps.Redis, deps.MongoDB)
	healthHandler.Register(app)

	// Sanitized newsletter bodies reference images under this prefix.
	app.Static(cfg.ImageURLPrefix, deps.ImageStore.Dir())

	api := app.Group("/api/v1")

	// Dashboard read surface
	newsletterHandler := httpin.NewNewsletterHandler(deps.NewsletterRepo)
	newsletterHandler.RegisterRoutes(api)

	// Operator surface behind the admin guard
	admin := api.Group("/ingest", middleware.AdminAuth(cfg.AdminJWTSecret))
	runHandler := httpin.NewRunHandler(deps.Coordinator, deps.ReportRepo, deps.TokenProvider)
	runHandler.RegisterRoutes(admin)

	return app
}
