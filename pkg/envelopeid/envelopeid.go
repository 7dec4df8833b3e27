// Package envelopeid mints envelope identifiers.
//
// Two forms exist:
//   - stable: derived from an email's Message-ID, so a re-delivered
//     message maps to the same envelope ID
//   - generated: a Snowflake ID for inputs with no usable Message-ID
//
// Snowflake ID structure (64 bits):
//
//	┌─────────┬─────────────────────┬────────────┬──────────────┐
//	│ 1 bit   │      41 bits        │  10 bits   │   12 bits    │
//	│ sign(0) │ timestamp (ms)      │  node_id   │  sequence    │
//	└─────────┴─────────────────────┴────────────┴──────────────┘
//
// Generated IDs are time-sortable without coordination; 4096 IDs/ms
// per node.
package envelopeid

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// Custom epoch: 2024-01-01 00:00:00 UTC
	epoch int64 = 1704067200000

	timestampBits = 41
	nodeIDBits    = 10
	sequenceBits  = 12

	maxNodeID   = (1 << nodeIDBits) - 1   // 1023
	maxSequence = (1 << sequenceBits) - 1 // 4095

	timestampShift = nodeIDBits + sequenceBits // 22
	nodeIDShift    = sequenceBits              // 12
)

var (
	ErrInvalidNodeID  = errors.New("node ID must be between 0 and 1023")
	ErrClockMovedBack = errors.New("clock moved backwards")
)

// Generator generates unique Snowflake IDs.
type Generator struct {
	mu       sync.Mutex
	nodeID   int64
	sequence int64
	lastTime int64
}

// NewGenerator creates a new Snowflake ID generator.
// nodeID must be between 0 and 1023.
func NewGenerator(nodeID int64) (*Generator, error) {
	if nodeID < 0 || nodeID > maxNodeID {
		return nil, ErrInvalidNodeID
	}
	return &Generator{nodeID: nodeID}, nil
}

// Generate generates a new unique Snowflake ID.
func (g *Generator) Generate() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := currentTimeMillis()

	if now < g.lastTime {
		return 0, ErrClockMovedBack
	}

	if now == g.lastTime {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// Sequence overflow, wait for next millisecond.
			now = waitNextMillis(g.lastTime)
		}
	} else {
		g.sequence = 0
	}

	g.lastTime = now

	id := ((now - epoch) << timestampShift) |
		(g.nodeID << nodeIDShift) |
		g.sequence

	return id, nil
}

// Timestamp extracts the timestamp from a generated ID.
func Timestamp(id int64) time.Time {
	ts := (id >> timestampShift) + epoch
	return time.UnixMilli(ts)
}

func currentTimeMillis() int64 {
	return time.Now().UnixMilli()
}

func waitNextMillis(lastTime int64) int64 {
	now := currentTimeMillis()
	for now <= lastTime {
		time.Sleep(100 * time.Microsecond)
		now = currentTimeMillis()
	}
	return now
}

// =============================================================================
// Minter
// =============================================================================

// stablePrefix marks Message-ID-derived envelope IDs; generated IDs use
// a bare decimal suffix, so the two forms never collide.
const stablePrefix = "env-m"

// Minter produces envelope IDs.
type Minter struct {
	gen *Generator
}

// NewMinter creates a minter for the given node.
func NewMinter(nodeID int64) (*Minter, error) {
	gen, err := NewGenerator(nodeID)
	if err != nil {
		return nil, err
	}
	return &Minter{gen: gen}, nil
}

// Mint returns the envelope ID for an input. When messageID is non-empty
// the ID is a pure function of it; otherwise a fresh Snowflake ID is
// generated.
func (m *Minter) Mint(messageID string) (string, error) {
	if messageID != "" {
		return Stable(messageID), nil
	}
	id, err := m.gen.Generate()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("env-%d", id), nil
}

// Stable derives the deterministic envelope ID for a Message-ID.
func Stable(messageID string) string {
	sum := sha256.Sum256([]byte(messageID))
	return stablePrefix + hex.EncodeToString(sum[:10])
}
