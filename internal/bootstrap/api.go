package bootstrap

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"

	ingress "github.com/chittycc/chittyrouter/adapter/in/http"
	"github.com/chittycc/chittyrouter/config"
	"github.com/chittycc/chittyrouter/infra/middleware"
	"github.com/chittycc/chittyrouter/pkg/logger"
)

// NewAPI assembles the HTTP ingress: dependencies, middleware stack, and
// route registration. The returned cleanup closes every backing store.
func NewAPI(cfg *config.Config) (*fiber.App, *Dependencies, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "chittyrouter",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		StrictRouting:         false,
		CaseSensitive:         false,

		ReadBufferSize:  16384,
		WriteBufferSize: 16384,

		// go-json over encoding/json for serialization throughput
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		// Body limit mirrors the envelope size limit so oversize uploads
		// are rejected before they reach normalization.
		BodyLimit: int(cfg.MaxEnvelopeBytes),

		ServerHeader:       "",
		DisableDefaultDate: true,

		StreamRequestBody:            true,
		DisablePreParseMultipartForm: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-Request-ID,X-Chitty-Kind",
	}))

	ingress.NewHealthHandler(deps.SQLDB, deps.Redis, deps.MongoDB, deps.Neo4j).Register(app)
	ingress.NewIntakeHandler(deps.Pipeline).Register(app)
	ingress.NewAuditHandler(deps.Recorder).Register(app)
	ingress.NewMetricsHandler(deps.Counters, deps.Latency, deps.Recorder, deps.Classifier).Register(app)

	logger.Info("API server initialized")

	return app, deps, cleanup, nil
}
