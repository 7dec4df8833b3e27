// Package config loads and validates gateway configuration from the
// environment. Only recognized CHITTY_* options are accepted; anything
// else under that prefix is a startup error so typos never silently
// fall back to defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chittycc/chittyrouter/core/domain"
)

// Byte-size defaults.
const (
	DefaultMaxEnvelopeBytes   = 50 << 20 // 50 MiB
	DefaultMaxAttachmentBytes = 25 << 20 // 25 MiB
)

type Config struct {
	Port        string
	Environment string

	// Infrastructure
	DatabaseURL string
	RedisURL    string
	MongoDBURL  string
	MongoDBName string

	Neo4jURL      string
	Neo4jUsername string
	Neo4jPassword string

	// Classifier (OpenAI-compatible endpoint)
	OpenAIAPIKey        string
	ClassifierModel     string
	ClassifierTimeout   time.Duration
	ClassifierCacheTTL  time.Duration

	// Forwarder (host mail provider HTTP API)
	ForwarderURL   string
	ForwarderToken string

	// Identity authority
	IdAuthorityURL string
	AllowAnonymous bool

	// Pipeline limits
	MaxEnvelopeBytes   int64
	MaxAttachmentBytes int64
	PipelineDeadline   time.Duration
	MaxInflight        int

	// Privacy
	RetainFullContent     bool
	ContentTruncateLength int

	// Rate limiting and dedup
	PerSenderHourLimit int
	PerDomainHourLimit int
	DedupTTL           time.Duration

	// Routing tables
	DefaultRoute  string
	AddressRoutes map[string]string
	KnownCases    map[string]domain.KnownCase

	// Per-kind retention TTLs (days), seeded with spec defaults and
	// overridable via CHITTY_TTL_<KIND>_DAYS.
	RetentionDays map[domain.Kind]int

	// Email ingress
	AutoAck        bool
	AutoAckSubject string

	// Stream intake (redis streams)
	StreamName          string
	StreamGroup         string
	ConsumerBatchSize   int
	ConsumerBlockMS     int
	ConsumerMaxRetries  int

	// Node identity for envelope ID generation
	NodeID int64
}

// recognized lists every accepted CHITTY_* environment key.
var recognized = map[string]bool{
	"CHITTY_PORT":                    true,
	"CHITTY_ENV":                     true,
	"CHITTY_DATABASE_URL":            true,
	"CHITTY_REDIS_URL":               true,
	"CHITTY_MONGODB_URL":             true,
	"CHITTY_MONGODB_DATABASE":        true,
	"CHITTY_NEO4J_URL":               true,
	"CHITTY_NEO4J_USERNAME":          true,
	"CHITTY_NEO4J_PASSWORD":          true,
	"CHITTY_OPENAI_API_KEY":          true,
	"CHITTY_CLASSIFIER_MODEL":        true,
	"CHITTY_CLASSIFIER_TIMEOUT_MS":   true,
	"CHITTY_CLASSIFIER_CACHE_TTL_S":  true,
	"CHITTY_FORWARDER_URL":           true,
	"CHITTY_FORWARDER_TOKEN":         true,
	"CHITTY_ID_AUTHORITY_URL":        true,
	"CHITTY_ALLOW_ANONYMOUS":         true,
	"CHITTY_MAX_ENVELOPE_BYTES":      true,
	"CHITTY_MAX_ATTACHMENT_BYTES":    true,
	"CHITTY_PIPELINE_DEADLINE_MS":    true,
	"CHITTY_MAX_INFLIGHT":            true,
	"CHITTY_RETAIN_FULL_CONTENT":     true,
	"CHITTY_CONTENT_TRUNCATE_LENGTH": true,
	"CHITTY_PER_SENDER_HOUR_LIMIT":   true,
	"CHITTY_PER_DOMAIN_HOUR_LIMIT":   true,
	"CHITTY_DEDUP_TTL_SECONDS":       true,
	"CHITTY_DEFAULT_ROUTE":           true,
	"CHITTY_ROUTE_TABLE":             true,
	"CHITTY_KNOWN_CASES":             true,
	"CHITTY_AUTO_ACK":                true,
	"CHITTY_AUTO_ACK_SUBJECT":        true,
	"CHITTY_STREAM_NAME":             true,
	"CHITTY_STREAM_GROUP":            true,
	"CHITTY_CONSUMER_BATCH_SIZE":     true,
	"CHITTY_CONSUMER_BLOCK_MS":       true,
	"CHITTY_CONSUMER_MAX_RETRIES":    true,
	"CHITTY_NODE_ID":                 true,
}

// defaultRetentionDays per envelope kind.
var defaultRetentionDays = map[domain.Kind]int{
	domain.KindEmail: 365,
	domain.KindPDF:   1825,
	domain.KindVoice: 90,
	domain.KindAPI:   30,
	domain.KindJSON:  30,
	domain.KindURL:   90,
	domain.KindSMS:   365,
	domain.KindImage: 365,
	domain.KindVideo: 90,
	domain.KindText:  365,
}

func Load() (*Config, error) {
	if err := rejectUnknown(os.Environ()); err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:        getEnv("CHITTY_PORT", "8080"),
		Environment: getEnv("CHITTY_ENV", "development"),

		DatabaseURL: getEnv("CHITTY_DATABASE_URL", ""),
		RedisURL:    getEnv("CHITTY_REDIS_URL", ""),
		MongoDBURL:  getEnv("CHITTY_MONGODB_URL", ""),
		MongoDBName: getEnv("CHITTY_MONGODB_DATABASE", "chittyrouter"),

		Neo4jURL:      getEnv("CHITTY_NEO4J_URL", ""),
		Neo4jUsername: getEnv("CHITTY_NEO4J_USERNAME", "neo4j"),
		Neo4jPassword: getEnv("CHITTY_NEO4J_PASSWORD", ""),

		OpenAIAPIKey:       getEnv("CHITTY_OPENAI_API_KEY", ""),
		ClassifierModel:    getEnv("CHITTY_CLASSIFIER_MODEL", "gpt-4o-mini"),
		ClassifierTimeout:  time.Duration(getEnvInt("CHITTY_CLASSIFIER_TIMEOUT_MS", 2000)) * time.Millisecond,
		ClassifierCacheTTL: time.Duration(getEnvInt("CHITTY_CLASSIFIER_CACHE_TTL_S", 1800)) * time.Second,

		ForwarderURL:   getEnv("CHITTY_FORWARDER_URL", ""),
		ForwarderToken: getEnv("CHITTY_FORWARDER_TOKEN", ""),

		IdAuthorityURL: getEnv("CHITTY_ID_AUTHORITY_URL", ""),
		AllowAnonymous: getEnvBool("CHITTY_ALLOW_ANONYMOUS", false),

		MaxEnvelopeBytes:   getEnvInt64("CHITTY_MAX_ENVELOPE_BYTES", DefaultMaxEnvelopeBytes),
		MaxAttachmentBytes: getEnvInt64("CHITTY_MAX_ATTACHMENT_BYTES", DefaultMaxAttachmentBytes),
		PipelineDeadline:   time.Duration(getEnvInt("CHITTY_PIPELINE_DEADLINE_MS", 30000)) * time.Millisecond,
		MaxInflight:        getEnvInt("CHITTY_MAX_INFLIGHT", 100),

		RetainFullContent:     getEnvBool("CHITTY_RETAIN_FULL_CONTENT", false),
		ContentTruncateLength: getEnvInt("CHITTY_CONTENT_TRUNCATE_LENGTH", 2000),

		PerSenderHourLimit: getEnvInt("CHITTY_PER_SENDER_HOUR_LIMIT", 200),
		PerDomainHourLimit: getEnvInt("CHITTY_PER_DOMAIN_HOUR_LIMIT", 500),
		DedupTTL:           time.Duration(getEnvInt("CHITTY_DEDUP_TTL_SECONDS", 86400)) * time.Second,

		DefaultRoute: getEnv("CHITTY_DEFAULT_ROUTE", "intake@chitty.cc"),

		AutoAck:        getEnvBool("CHITTY_AUTO_ACK", false),
		AutoAckSubject: getEnv("CHITTY_AUTO_ACK_SUBJECT", "Received"),

		StreamName:         getEnv("CHITTY_STREAM_NAME", "chitty:intake"),
		StreamGroup:        getEnv("CHITTY_STREAM_GROUP", "chittyrouter"),
		ConsumerBatchSize:  getEnvInt("CHITTY_CONSUMER_BATCH_SIZE", 50),
		ConsumerBlockMS:    getEnvInt("CHITTY_CONSUMER_BLOCK_MS", 5000),
		ConsumerMaxRetries: getEnvInt("CHITTY_CONSUMER_MAX_RETRIES", 3),

		NodeID: getEnvInt64("CHITTY_NODE_ID", 0),
	}

	var err error
	cfg.AddressRoutes, err = parseRouteTable(getEnv("CHITTY_ROUTE_TABLE", ""))
	if err != nil {
		return nil, err
	}
	cfg.KnownCases, err = parseKnownCases(getEnv("CHITTY_KNOWN_CASES", ""))
	if err != nil {
		return nil, err
	}

	cfg.RetentionDays = make(map[domain.Kind]int, len(defaultRetentionDays))
	for kind, days := range defaultRetentionDays {
		cfg.RetentionDays[kind] = getEnvInt("CHITTY_TTL_"+string(kind)+"_DAYS", days)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxEnvelopeBytes <= 0 {
		return fmt.Errorf("config: max_envelope_bytes must be positive, got %d", c.MaxEnvelopeBytes)
	}
	if c.MaxAttachmentBytes <= 0 || c.MaxAttachmentBytes > c.MaxEnvelopeBytes {
		return fmt.Errorf("config: max_attachment_bytes must be in (0, max_envelope_bytes]")
	}
	if c.ContentTruncateLength < 1000 || c.ContentTruncateLength > 2000 {
		return fmt.Errorf("config: content_truncate_length must be within [1000, 2000], got %d", c.ContentTruncateLength)
	}
	if c.MaxInflight <= 0 {
		return fmt.Errorf("config: max_inflight must be positive, got %d", c.MaxInflight)
	}
	if c.PipelineDeadline <= 0 {
		return fmt.Errorf("config: pipeline_deadline_ms must be positive")
	}
	if c.PerSenderHourLimit <= 0 || c.PerDomainHourLimit <= 0 {
		return fmt.Errorf("config: hourly rate limits must be positive")
	}
	if c.DedupTTL <= 0 {
		return fmt.Errorf("config: dedup_ttl_seconds must be positive")
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("config: node_id must be within [0, 1023], got %d", c.NodeID)
	}
	for kind, days := range c.RetentionDays {
		if days <= 0 {
			return fmt.Errorf("config: retention for %s must be positive, got %d", kind, days)
		}
	}
	return nil
}

// RouteTable assembles the recognizer/router table from configuration.
func (c *Config) RouteTable() *domain.RouteTable {
	return &domain.RouteTable{
		KnownCases:    c.KnownCases,
		AddressRoutes: c.AddressRoutes,
		DefaultRoute:  c.DefaultRoute,
	}
}

// RetentionTTL returns the write TTL for a kind.
func (c *Config) RetentionTTL(kind domain.Kind) time.Duration {
	days, ok := c.RetentionDays[kind]
	if !ok {
		days = 365
	}
	return time.Duration(days) * 24 * time.Hour
}

func rejectUnknown(environ []string) error {
	for _, kv := range environ {
		if !strings.HasPrefix(kv, "CHITTY_") {
			continue
		}
		key := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			key = kv[:i]
		}
		if strings.HasPrefix(key, "CHITTY_TTL_") && strings.HasSuffix(key, "_DAYS") {
			kind := strings.TrimSuffix(strings.TrimPrefix(key, "CHITTY_TTL_"), "_DAYS")
			if _, ok := domain.ParseKind(kind); ok {
				continue
			}
			return fmt.Errorf("config: unrecognized retention kind in %s", key)
		}
		if !recognized[key] {
			return fmt.Errorf("config: unrecognized option %s", key)
		}
	}
	return nil
}

// parseRouteTable parses "addr=forward,addr2=forward2".
func parseRouteTable(raw string) (map[string]string, error) {
	routes := make(map[string]string)
	if raw == "" {
		return routes, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		addr, fwd, ok := strings.Cut(pair, "=")
		if !ok || addr == "" || fwd == "" {
			return nil, fmt.Errorf("config: malformed route entry %q", pair)
		}
		routes[strings.ToLower(strings.TrimSpace(addr))] = strings.TrimSpace(fwd)
	}
	return routes, nil
}

// parseKnownCases parses "addr=CANONICAL:forward:PRIORITY,...".
func parseKnownCases(raw string) (map[string]domain.KnownCase, error) {
	cases := make(map[string]domain.KnownCase)
	if raw == "" {
		return cases, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		addr, spec, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("config: malformed known-case entry %q", pair)
		}
		parts := strings.Split(spec, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("config: known-case entry %q needs canonical:forward:priority", pair)
		}
		level := domain.UrgencyLevel(strings.ToUpper(parts[2]))
		switch level {
		case domain.LevelInfo, domain.LevelLow, domain.LevelMedium, domain.LevelHigh, domain.LevelCritical:
		default:
			return nil, fmt.Errorf("config: unknown priority %q in known-case entry", parts[2])
		}
		key := strings.ToLower(strings.TrimSpace(addr))
		cases[key] = domain.KnownCase{
			Address:         key,
			CanonicalName:   parts[0],
			ForwardTo:       parts[1],
			DefaultPriority: level,
		}
	}
	return cases, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
