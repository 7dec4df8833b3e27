package sink

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	json "github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/chittycc/chittyrouter/core/domain"
	"github.com/chittycc/chittyrouter/core/port/out"
)

// =============================================================================
// Blob Sink (MongoDB)
// =============================================================================

const (
	collectionBlobs = "envelope_blobs"

	// Compression threshold - only compress if content is larger than this
	compressionThreshold = 1024 // 1KB
)

// BlobSink stores full envelope bodies in MongoDB. Expiry is native via
// a TTL index on expires_at.
type BlobSink struct {
	collection *mongo.Collection
}

// NewBlobSink creates the MongoDB blob sink.
func NewBlobSink(db *mongo.Database) *BlobSink {
	return &BlobSink{collection: db.Collection(collectionBlobs)}
}

// EnsureIndexes creates necessary indexes for the collection.
func (s *BlobSink) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "envelope_id", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0), // TTL index
		},
	}

	_, err := s.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

func (s *BlobSink) Name() string { return domain.SinkBlob }

func (s *BlobSink) Capabilities() out.SinkCapabilities {
	return out.SinkCapabilities{AcceptsFullContent: true, SupportsTTL: true}
}

// blobDocument represents the MongoDB document structure.
type blobDocument struct {
	Key          string            `bson:"key"`
	EnvelopeID   string            `bson:"envelope_id"`
	ContentHash  string            `bson:"content_hash"`
	Kind         string            `bson:"kind"`
	Body         []byte            `bson:"body"`
	IsCompressed bool              `bson:"is_compressed"`
	OriginalSize int64             `bson:"original_size"`
	Metadata     map[string]string `bson:"metadata,omitempty"`
	StoredAt     time.Time         `bson:"stored_at"`
	ExpiresAt    time.Time         `bson:"expires_at"`
}

// Put upserts the blob under its deterministic key. JSON-only writes
// (no retained body) store the encoded document instead.
func (s *BlobSink) Put(ctx context.Context, key string, obj *out.SinkObject) error {
	body := obj.Body
	if body == nil && obj.JSON != nil {
		encoded, err := json.Marshal(obj.JSON)
		if err != nil {
			return fmt.Errorf("encode blob doc: %w", err)
		}
		body = encoded
	}

	doc := blobDocument{
		Key:          key,
		EnvelopeID:   obj.Metadata["envelope_id"],
		ContentHash:  obj.Metadata["content_hash"],
		Kind:         obj.Metadata["kind"],
		OriginalSize: int64(len(body)),
		Metadata:     obj.Metadata,
		StoredAt:     time.Now().UTC(),
		ExpiresAt:    time.Now().Add(obj.TTL).UTC(),
	}

	if len(body) > compressionThreshold {
		compressed, err := gzipBytes(body)
		if err != nil {
			return fmt.Errorf("compress blob: %w", err)
		}
		doc.Body = compressed
		doc.IsCompressed = true
	} else {
		doc.Body = body
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"key": key}, doc, opts); err != nil {
		return fmt.Errorf("save blob: %w", err)
	}
	return nil
}

// Get retrieves the blob, decompressing when needed.
func (s *BlobSink) Get(ctx context.Context, key string) (*out.SinkObject, error) {
	var doc blobDocument
	if err := s.collection.FindOne(ctx, bson.M{"key": key}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get blob: %w", err)
	}

	body := doc.Body
	if doc.IsCompressed {
		decompressed, err := gunzipBytes(body)
		if err != nil {
			return nil, fmt.Errorf("decompress blob: %w", err)
		}
		body = decompressed
	}

	return &out.SinkObject{
		Body:     body,
		TTL:      time.Until(doc.ExpiresAt),
		Metadata: doc.Metadata,
	}, nil
}

// Head describes the blob without loading its body.
func (s *BlobSink) Head(ctx context.Context, key string) (*out.SinkHead, error) {
	opts := options.FindOne().SetProjection(bson.M{"body": 0})
	var doc blobDocument
	if err := s.collection.FindOne(ctx, bson.M{"key": key}, opts).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("head blob: %w", err)
	}

	return &out.SinkHead{
		Key:         doc.Key,
		SizeBytes:   doc.OriginalSize,
		ContentHash: doc.ContentHash,
		StoredAt:    doc.StoredAt,
		ExpiresAt:   doc.ExpiresAt,
		Metadata:    doc.Metadata,
	}, nil
}

// Delete removes the blob.
func (s *BlobSink) Delete(ctx context.Context, key string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"key": key}); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
