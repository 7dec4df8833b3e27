// Package bootstrap wires configuration, backing stores, adapters, and
// the pipeline into runnable API and consumer processes.
package bootstrap

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/chittycc/chittyrouter/adapter/in/mail"
	"github.com/chittycc/chittyrouter/adapter/out/ai"
	"github.com/chittycc/chittyrouter/adapter/out/forward"
	"github.com/chittycc/chittyrouter/adapter/out/identity"
	"github.com/chittycc/chittyrouter/adapter/out/pdfextract"
	"github.com/chittycc/chittyrouter/adapter/out/sink"
	"github.com/chittycc/chittyrouter/adapter/out/store"
	"github.com/chittycc/chittyrouter/config"
	"github.com/chittycc/chittyrouter/core/port/out"
	"github.com/chittycc/chittyrouter/core/service/audit"
	"github.com/chittycc/chittyrouter/core/service/classify"
	"github.com/chittycc/chittyrouter/core/service/normalize"
	"github.com/chittycc/chittyrouter/core/service/persist"
	"github.com/chittycc/chittyrouter/core/service/pipeline"
	"github.com/chittycc/chittyrouter/core/service/recognize"
	"github.com/chittycc/chittyrouter/core/service/route"
	"github.com/chittycc/chittyrouter/core/service/triage"
	"github.com/chittycc/chittyrouter/infra/database"
	"github.com/chittycc/chittyrouter/pkg/envelopeid"
	"github.com/chittycc/chittyrouter/pkg/httputil"
	"github.com/chittycc/chittyrouter/pkg/logger"
	"github.com/chittycc/chittyrouter/pkg/metrics"
	"github.com/chittycc/chittyrouter/pkg/ratelimit"
)

// Dependencies holds everything a process mode needs.
type Dependencies struct {
	Config *config.Config

	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client
	Neo4j   neo4j.DriverWithContext

	Store      out.KVStore
	Counters   *metrics.Counters
	Latency    *metrics.LatencyRegistry
	Recorder   *audit.Recorder
	Classifier *classify.Adapter
	Pipeline   *pipeline.Coordinator
}

// NewDependencies connects the configured stores and assembles the
// pipeline. Optional stores (MongoDB, Neo4j, OpenAI, id authority) are
// skipped when unconfigured; the pipeline degrades per its policies.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{
		Config:   cfg,
		Counters: metrics.NewCounters(),
		Latency:  metrics.NewLatencyRegistry(1000),
	}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// PostgreSQL (metadata sink)
	if cfg.DatabaseURL != "" {
		pool, err := database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.DB = pool
		cleanups = append(cleanups, pool.Close)

		sqlDB, err := database.NewSqlx(cfg.DatabaseURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.SQLDB = sqlDB
		cleanups = append(cleanups, func() { sqlDB.Close() })
	}

	// Redis (KV store, rate limiting, stream intake)
	if cfg.RedisURL != "" {
		client, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.Redis = client
		cleanups = append(cleanups, func() { client.Close() })
		deps.Store = store.NewRedisStore(client)
	} else {
		logger.Warn("Redis not configured, using in-process state")
		deps.Store = store.NewMemoryStore()
	}

	// MongoDB (blob sink)
	if cfg.MongoDBURL != "" {
		client, err := database.NewMongo(cfg.MongoDBURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.MongoDB = client
		cleanups = append(cleanups, func() {
			client.Disconnect(context.Background())
		})
	}

	// Neo4j (vector sink)
	if cfg.Neo4jURL != "" {
		driver, err := database.NewNeo4j(cfg.Neo4jURL, cfg.Neo4jUsername, cfg.Neo4jPassword)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.Neo4j = driver
		cleanups = append(cleanups, func() {
			driver.Close(context.Background())
		})
	}

	coordinator, err := buildPipeline(cfg, deps)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Pipeline = coordinator

	return deps, cleanup, nil
}

// MailHandler returns the inbound-mail ingress bound to this pipeline,
// for embedding in the host platform's message hook.
func (d *Dependencies) MailHandler() *mail.Handler {
	return mail.NewHandler(d.Pipeline, mail.Config{
		AutoAck:        d.Config.AutoAck,
		AutoAckSubject: d.Config.AutoAckSubject,
	})
}

func buildPipeline(cfg *config.Config, deps *Dependencies) (*pipeline.Coordinator, error) {
	minter, err := envelopeid.NewMinter(cfg.NodeID)
	if err != nil {
		return nil, err
	}

	// Model-backed capabilities degrade to drop reasons when no API key
	// is configured.
	var (
		classifier  out.Classifier
		transcriber out.Transcriber
		describer   out.VisionDescriber
		embedder    sink.Embedder
	)
	if cfg.OpenAIAPIKey != "" {
		client := ai.NewClient(ai.Config{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.ClassifierModel,
		})
		classifier = client
		transcriber = client
		describer = client
		embedder = client
	} else {
		logger.Warn("OpenAI API key not configured, classifier and media capabilities disabled")
	}

	normalizer := normalize.NewService(
		normalize.Config{
			MaxEnvelopeBytes:   cfg.MaxEnvelopeBytes,
			MaxAttachmentBytes: cfg.MaxAttachmentBytes,
			RetainFullContent:  cfg.RetainFullContent,
			PreviewChars:       cfg.ContentTruncateLength,
		},
		minter,
		httputil.NewClient(httputil.FetcherClientConfig()),
		pdfextract.NewExtractor(),
		transcriber,
		describer,
	)

	table := cfg.RouteTable()
	deps.Recorder = audit.NewRecorder(deps.Store)
	deps.Classifier = classify.New(classifier, deps.Store, classify.Config{
		Timeout:  cfg.ClassifierTimeout,
		CacheTTL: cfg.ClassifierCacheTTL,
	}, deps.Counters)

	var forwarder out.Forwarder = forward.New(cfg.ForwarderURL, cfg.ForwarderToken)

	var idAuthority out.IdAuthority
	if cfg.IdAuthorityURL != "" {
		idAuthority = identity.New(cfg.IdAuthorityURL)
	}

	return pipeline.New(pipeline.Deps{
		Normalizer: normalizer,
		Recognizer: recognize.New(table),
		Scorer:     triage.NewScorer(),
		Classifier: deps.Classifier,
		Router:     route.NewEngine(table, cfg.RetentionDays),
		Persister:  persist.NewManager(buildSinks(cfg, deps, embedder), cfg.RetentionTTL, deps.Counters),
		Recorder:   deps.Recorder,
		Guard: ratelimit.NewGuard(deps.Redis, ratelimit.Limits{
			PerSenderHour: cfg.PerSenderHourLimit,
			PerDomainHour: cfg.PerDomainHourLimit,
			DedupTTL:      cfg.DedupTTL,
		}),
		Forwarder: forwarder,
		Identity:  idAuthority,
		Store:     deps.Store,
		Counters:  deps.Counters,
		Latency:   deps.Latency,
	}, pipeline.Config{
		Deadline:       cfg.PipelineDeadline,
		MaxInflight:    cfg.MaxInflight,
		AllowAnonymous: cfg.AllowAnonymous,
	}), nil
}

// buildSinks registers the configured sinks, falling back to in-process
// metadata storage so the pipeline always has a primary sink.
func buildSinks(cfg *config.Config, deps *Dependencies, embedder sink.Embedder) []out.Sink {
	var sinks []out.Sink

	if deps.SQLDB != nil {
		metadataSink := sink.NewMetadataSink(deps.SQLDB)
		if err := metadataSink.EnsureSchema(context.Background()); err != nil {
			logger.WithError(err).Warn("metadata schema setup failed")
		}
		sinks = append(sinks, metadataSink)
	} else {
		logger.Warn("PostgreSQL not configured, metadata sink is in-process")
		sinks = append(sinks, sink.NewMemorySink("metadata"))
	}

	if deps.MongoDB != nil {
		blobSink := sink.NewBlobSink(deps.MongoDB.Database(cfg.MongoDBName))
		if err := blobSink.EnsureIndexes(context.Background()); err != nil {
			logger.WithError(err).Warn("blob index setup failed")
		}
		sinks = append(sinks, blobSink)
	}

	if deps.Neo4j != nil {
		vectorSink := sink.NewVectorSink(deps.Neo4j, "neo4j", embedder)
		if err := vectorSink.EnsureIndexes(context.Background()); err != nil {
			logger.WithError(err).Warn("vector index setup failed")
		}
		sinks = append(sinks, vectorSink)
	}

	return sinks
}
