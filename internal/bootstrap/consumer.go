package bootstrap

import (
	"fmt"
	"os"

	"github.com/chittycc/chittyrouter/config"
	"github.com/chittycc/chittyrouter/internal/stream"
	"github.com/chittycc/chittyrouter/pkg/logger"
)

// NewConsumer assembles the stream intake path: the same pipeline as the
// API process, fed from the Redis Streams consumer group. Requires Redis.
func NewConsumer(cfg *config.Config) (*stream.Consumer, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "chittyrouter-consumer",
	})

	if cfg.RedisURL == "" {
		return nil, nil, fmt.Errorf("bootstrap: consumer mode requires CHITTY_REDIS_URL")
	}

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "chittyrouter"
	}

	redisStream := stream.NewRedisStream(deps.Redis, stream.Options{
		Stream:     cfg.StreamName,
		Group:      cfg.StreamGroup,
		BatchSize:  cfg.ConsumerBatchSize,
		BlockMS:    cfg.ConsumerBlockMS,
		MaxRetries: cfg.ConsumerMaxRetries,
	})
	consumer := stream.NewConsumer(redisStream, deps.Pipeline, hostname)

	logger.Info("Stream consumer initialized (stream=%s, group=%s, consumer=%s)", cfg.StreamName, cfg.StreamGroup, hostname)

	return consumer, cleanup, nil
}
