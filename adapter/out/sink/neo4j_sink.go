package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/chittycc/chittyrouter/core/domain"
	"github.com/chittycc/chittyrouter/core/port/out"
)

// =============================================================================
// Vector Sink (Neo4j)
// =============================================================================

// vectorDimensions matches the embedding model wired in adapter/out/ai.
const vectorDimensions = 1536

// Embedder turns preview text into an embedding vector. Optional: a nil
// embedder stores preview nodes without vectors, which keeps graph
// queries working while similarity search returns nothing.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSink stores envelope previews as graph nodes with embeddings
// for similarity search. It never receives full bodies; expiry is an
// expires_at property swept by PurgeExpired.
type VectorSink struct {
	driver   neo4j.DriverWithContext
	dbName   string
	embedder Embedder
}

// NewVectorSink creates the Neo4j vector sink.
func NewVectorSink(driver neo4j.DriverWithContext, dbName string, embedder Embedder) *VectorSink {
	return &VectorSink{
		driver:   driver,
		dbName:   dbName,
		embedder: embedder,
	}
}

// EnsureIndexes creates necessary indexes and constraints.
func (s *VectorSink) EnsureIndexes(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.dbName})
	defer session.Close(ctx)

	queries := []string{
		"CREATE CONSTRAINT intake_key_unique IF NOT EXISTS " +
			"FOR (i:Intake) REQUIRE i.key IS UNIQUE",
		fmt.Sprintf("CREATE VECTOR INDEX intake_embedding_index IF NOT EXISTS "+
			"FOR (i:Intake) "+
			"ON (i.embedding) "+
			"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}",
			vectorDimensions),
		`CREATE INDEX intake_case_key_idx IF NOT EXISTS FOR (i:Intake) ON (i.case_key)`,
		`CREATE INDEX intake_expires_idx IF NOT EXISTS FOR (i:Intake) ON (i.expires_at)`,
	}

	for _, query := range queries {
		if _, err := session.Run(ctx, query, nil); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func (s *VectorSink) Name() string { return domain.SinkVector }

func (s *VectorSink) Capabilities() out.SinkCapabilities {
	return out.SinkCapabilities{AcceptsFullContent: false, SupportsTTL: false}
}

// Put merges the preview node under its deterministic key, embedding
// the preview text when an embedder is wired.
func (s *VectorSink) Put(ctx context.Context, key string, obj *out.SinkObject) error {
	preview := obj.Metadata["preview"]

	params := map[string]any{
		"key":          key,
		"envelope_id":  obj.Metadata["envelope_id"],
		"content_hash": obj.Metadata["content_hash"],
		"kind":         obj.Metadata["kind"],
		"case_key":     obj.Metadata["case_key"],
		"preview":      preview,
		"stored_at":    time.Now().UTC().Unix(),
		"expires_at":   time.Now().Add(obj.TTL).UTC().Unix(),
	}

	query := `
		MERGE (i:Intake {key: $key})
		SET i.envelope_id  = $envelope_id,
		    i.content_hash = $content_hash,
		    i.kind         = $kind,
		    i.case_key     = $case_key,
		    i.preview      = $preview,
		    i.stored_at    = $stored_at,
		    i.expires_at   = $expires_at`

	if s.embedder != nil && preview != "" {
		embedding, err := s.embedder.Embed(ctx, preview)
		if err != nil {
			return fmt.Errorf("embed preview: %w", err)
		}
		params["embedding"] = embedding
		query += `
		WITH i
		CALL db.create.setNodeVectorProperty(i, 'embedding', $embedding)`
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.dbName})
	defer session.Close(ctx)

	if _, err := session.Run(ctx, query, params); err != nil {
		return fmt.Errorf("store intake node: %w", err)
	}
	return nil
}

// Get returns the node's properties as a JSON-style document.
func (s *VectorSink) Get(ctx context.Context, key string) (*out.SinkObject, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.dbName})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (i:Intake {key: $key}) WHERE i.expires_at > $now
		 RETURN i.envelope_id AS envelope_id, i.content_hash AS content_hash,
		        i.kind AS kind, i.case_key AS case_key, i.preview AS preview`,
		map[string]any{"key": key, "now": time.Now().UTC().Unix()})
	if err != nil {
		return nil, fmt.Errorf("get intake node: %w", err)
	}

	record, err := result.Single(ctx)
	if err != nil {
		return nil, ErrNotFound
	}

	doc := make(map[string]any, len(record.Keys))
	for i, k := range record.Keys {
		doc[k] = record.Values[i]
	}
	return &out.SinkObject{JSON: doc}, nil
}

// Head describes the node without its preview or embedding.
func (s *VectorSink) Head(ctx context.Context, key string) (*out.SinkHead, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.dbName})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (i:Intake {key: $key}) WHERE i.expires_at > $now
		 RETURN i.content_hash AS content_hash, i.stored_at AS stored_at, i.expires_at AS expires_at`,
		map[string]any{"key": key, "now": time.Now().UTC().Unix()})
	if err != nil {
		return nil, fmt.Errorf("head intake node: %w", err)
	}

	record, err := result.Single(ctx)
	if err != nil {
		return nil, ErrNotFound
	}

	head := &out.SinkHead{Key: key}
	if hash, ok := record.Values[0].(string); ok {
		head.ContentHash = hash
	}
	if storedAt, ok := record.Values[1].(int64); ok {
		head.StoredAt = time.Unix(storedAt, 0).UTC()
	}
	if expiresAt, ok := record.Values[2].(int64); ok {
		head.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	}
	return head, nil
}

// Delete removes the node.
func (s *VectorSink) Delete(ctx context.Context, key string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.dbName})
	defer session.Close(ctx)

	if _, err := session.Run(ctx,
		`MATCH (i:Intake {key: $key}) DETACH DELETE i`,
		map[string]any{"key": key}); err != nil {
		return fmt.Errorf("delete intake node: %w", err)
	}
	return nil
}

// Search performs a similarity search over stored previews. It is not
// on the pipeline path; host platforms embed it for retrieval over the
// vector store.
func (s *VectorSink) Search(ctx context.Context, embedding []float32, topK int) ([]SearchResult, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.dbName})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`CALL db.index.vector.queryNodes('intake_embedding_index', $topK, $embedding)
		 YIELD node, score
		 WHERE node.expires_at > $now
		 RETURN node.key AS key, node.envelope_id AS envelope_id,
		        node.case_key AS case_key, node.preview AS preview, score
		 ORDER BY score DESC`,
		map[string]any{
			"embedding": embedding,
			"topK":      topK,
			"now":       time.Now().UTC().Unix(),
		})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	var results []SearchResult
	for result.Next(ctx) {
		record := result.Record()
		sr := SearchResult{}
		if v, ok := record.Get("key"); ok {
			sr.Key, _ = v.(string)
		}
		if v, ok := record.Get("envelope_id"); ok {
			sr.EnvelopeID, _ = v.(string)
		}
		if v, ok := record.Get("case_key"); ok {
			sr.CaseKey, _ = v.(string)
		}
		if v, ok := record.Get("preview"); ok {
			sr.Preview, _ = v.(string)
		}
		if v, ok := record.Get("score"); ok {
			sr.Score, _ = v.(float64)
		}
		results = append(results, sr)
	}
	return results, result.Err()
}

// SearchResult is one similarity search hit.
type SearchResult struct {
	Key        string  `json:"key"`
	EnvelopeID string  `json:"envelope_id"`
	CaseKey    string  `json:"case_key,omitempty"`
	Preview    string  `json:"preview,omitempty"`
	Score      float64 `json:"score"`
}

// PurgeExpired removes nodes past their retention. Returns nodes
// removed. Meant for a scheduled maintenance job; Neo4j has no native
// TTL, so expiry is enforced out of band.
func (s *VectorSink) PurgeExpired(ctx context.Context) (int64, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.dbName})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (i:Intake) WHERE i.expires_at <= $now
		 WITH i LIMIT 10000
		 DETACH DELETE i
		 RETURN count(*) AS removed`,
		map[string]any{"now": time.Now().UTC().Unix()})
	if err != nil {
		return 0, fmt.Errorf("purge expired nodes: %w", err)
	}

	record, err := result.Single(ctx)
	if err != nil {
		return 0, err
	}
	removed, _ := record.Values[0].(int64)
	return removed, nil
}
