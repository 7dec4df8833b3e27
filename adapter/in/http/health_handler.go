package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

const gatewayVersion = "1.0.0"

// HealthHandler reports liveness and backing-store readiness.
type HealthHandler struct {
	db    *sqlx.DB
	redis *redis.Client
	mongo *mongo.Client
	neo4j neo4j.DriverWithContext
}

// NewHealthHandler creates a health handler; any dependency may be nil
// when that store is not configured.
func NewHealthHandler(db *sqlx.DB, rdb *redis.Client, mc *mongo.Client, driver neo4j.DriverWithContext) *HealthHandler {
	return &HealthHandler{db: db, redis: rdb, mongo: mc, neo4j: driver}
}

// Register registers health routes.
func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
}

// checkStores pings every configured store within ctx.
func (h *HealthHandler) checkStores(ctx context.Context) (map[string]string, bool) {
	checks := make(map[string]string)
	allHealthy := true

	check := func(name string, ping func(context.Context) error, configured bool) {
		if !configured {
			checks[name] = "not configured"
			return
		}
		if err := ping(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks[name] = "healthy"
		}
	}

	check("postgres", func(ctx context.Context) error {
		return h.db.PingContext(ctx)
	}, h.db != nil)
	check("redis", func(ctx context.Context) error {
		return h.redis.Ping(ctx).Err()
	}, h.redis != nil)
	check("mongodb", func(ctx context.Context) error {
		return h.mongo.Ping(ctx, nil)
	}, h.mongo != nil)
	check("neo4j", func(ctx context.Context) error {
		return h.neo4j.VerifyConnectivity(ctx)
	}, h.neo4j != nil)

	return checks, allHealthy
}

// Health reports liveness: always 200, healthy or degraded depending on
// the backing stores.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	services, allHealthy := h.checkStores(ctx)
	status := "healthy"
	if !allHealthy {
		status = "degraded"
	}

	return c.JSON(fiber.Map{
		"status":    status,
		"services":  services,
		"version":   gatewayVersion,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready reports readiness: 503 until every configured store answers.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	checks, allHealthy := h.checkStores(ctx)

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
