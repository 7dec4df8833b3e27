// Package sink implements the named storage sinks the routing engine
// selects: metadata (PostgreSQL), blob (MongoDB), vector (Neo4j).
package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"github.com/chittycc/chittyrouter/core/domain"
	"github.com/chittycc/chittyrouter/core/port/out"
)

// =============================================================================
// Metadata Sink (PostgreSQL)
// =============================================================================

// MetadataSink stores envelope metadata documents in PostgreSQL. It
// never receives full bodies; TTL is expressed as an expires_at column
// swept by PurgeExpired.
type MetadataSink struct {
	db *sqlx.DB
}

// NewMetadataSink creates the PostgreSQL metadata sink.
func NewMetadataSink(db *sqlx.DB) *MetadataSink {
	return &MetadataSink{db: db}
}

// EnsureSchema creates the backing table and indexes.
func (s *MetadataSink) EnsureSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS envelope_metadata (
			key          TEXT PRIMARY KEY,
			envelope_id  TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			kind         TEXT NOT NULL,
			doc          JSONB NOT NULL,
			size_bytes   BIGINT NOT NULL DEFAULT 0,
			stored_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at   TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS envelope_metadata_envelope_idx ON envelope_metadata (envelope_id);
		CREATE INDEX IF NOT EXISTS envelope_metadata_expires_idx ON envelope_metadata (expires_at);`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *MetadataSink) Name() string { return domain.SinkMetadata }

func (s *MetadataSink) Capabilities() out.SinkCapabilities {
	return out.SinkCapabilities{AcceptsFullContent: false, SupportsTTL: false}
}

type metadataRow struct {
	Key         string    `db:"key"`
	EnvelopeID  string    `db:"envelope_id"`
	ContentHash string    `db:"content_hash"`
	Kind        string    `db:"kind"`
	Doc         []byte    `db:"doc"`
	SizeBytes   int64     `db:"size_bytes"`
	StoredAt    time.Time `db:"stored_at"`
	ExpiresAt   time.Time `db:"expires_at"`
}

// Put upserts the metadata document under its deterministic key.
// Re-delivery of the same envelope overwrites in place.
func (s *MetadataSink) Put(ctx context.Context, key string, obj *out.SinkObject) error {
	doc, err := json.Marshal(obj.JSON)
	if err != nil {
		return fmt.Errorf("encode metadata doc: %w", err)
	}

	query := `
		INSERT INTO envelope_metadata (key, envelope_id, content_hash, kind, doc, size_bytes, stored_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), $7)
		ON CONFLICT (key) DO UPDATE SET
			envelope_id  = EXCLUDED.envelope_id,
			content_hash = EXCLUDED.content_hash,
			kind         = EXCLUDED.kind,
			doc          = EXCLUDED.doc,
			size_bytes   = EXCLUDED.size_bytes,
			stored_at    = now(),
			expires_at   = EXCLUDED.expires_at`

	_, err = s.db.ExecContext(ctx, query,
		key,
		obj.Metadata["envelope_id"],
		obj.Metadata["content_hash"],
		obj.Metadata["kind"],
		doc,
		int64(len(doc)),
		time.Now().Add(obj.TTL).UTC(),
	)
	return err
}

// Get returns the stored document, or an error when absent or expired.
func (s *MetadataSink) Get(ctx context.Context, key string) (*out.SinkObject, error) {
	var row metadataRow
	query := `SELECT key, envelope_id, content_hash, kind, doc, size_bytes, stored_at, expires_at
		FROM envelope_metadata WHERE key = $1 AND expires_at > now()`

	if err := s.db.GetContext(ctx, &row, query, key); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(row.Doc, &doc); err != nil {
		return nil, fmt.Errorf("decode metadata doc: %w", err)
	}

	return &out.SinkObject{
		JSON: doc,
		TTL:  time.Until(row.ExpiresAt),
		Metadata: map[string]string{
			"envelope_id":  row.EnvelopeID,
			"content_hash": row.ContentHash,
			"kind":         row.Kind,
		},
	}, nil
}

// Head describes the stored document without loading it.
func (s *MetadataSink) Head(ctx context.Context, key string) (*out.SinkHead, error) {
	var row metadataRow
	query := `SELECT key, envelope_id, content_hash, kind, size_bytes, stored_at, expires_at
		FROM envelope_metadata WHERE key = $1 AND expires_at > now()`

	if err := s.db.GetContext(ctx, &row, query, key); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &out.SinkHead{
		Key:         row.Key,
		SizeBytes:   row.SizeBytes,
		ContentHash: row.ContentHash,
		StoredAt:    row.StoredAt,
		ExpiresAt:   row.ExpiresAt,
		Metadata: map[string]string{
			"envelope_id": row.EnvelopeID,
			"kind":        row.Kind,
		},
	}, nil
}

// Delete removes the document.
func (s *MetadataSink) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM envelope_metadata WHERE key = $1`, key)
	return err
}

// PurgeExpired deletes rows past their retention. Returns rows
// removed. Meant for a scheduled maintenance job, like the vector
// sink's purge.
func (s *MetadataSink) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM envelope_metadata WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
