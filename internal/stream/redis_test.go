package stream

import (
	"testing"
	"time"
)

func TestNewRedisStreamDefaults(t *testing.T) {
	s := NewRedisStream(nil, Options{Group: "g"})

	if s.stream != StreamIntake {
		t.Errorf("stream = %q, want %q", s.stream, StreamIntake)
	}
	if s.batchSize != 50 {
		t.Errorf("batchSize = %d, want 50", s.batchSize)
	}
	if s.block != 5*time.Second {
		t.Errorf("block = %v, want 5s", s.block)
	}
	if s.maxRetries != 3 {
		t.Errorf("maxRetries = %d, want 3", s.maxRetries)
	}
}

func TestNewRedisStreamHonorsOptions(t *testing.T) {
	s := NewRedisStream(nil, Options{
		Stream:     "chitty:intake-test",
		Group:      "g",
		BatchSize:  7,
		BlockMS:    250,
		MaxRetries: 9,
	})

	if s.Stream() != "chitty:intake-test" {
		t.Errorf("Stream() = %q", s.Stream())
	}
	if s.batchSize != 7 {
		t.Errorf("batchSize = %d, want 7", s.batchSize)
	}
	if s.block != 250*time.Millisecond {
		t.Errorf("block = %v, want 250ms", s.block)
	}
	if s.maxRetries != 9 {
		t.Errorf("maxRetries = %d, want 9", s.maxRetries)
	}
}
