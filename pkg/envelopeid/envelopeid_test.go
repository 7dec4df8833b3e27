package envelopeid

import (
	"strings"
	"testing"
)

func TestMintStableForMessageID(t *testing.T) {
	m, err := NewMinter(1)
	if err != nil {
		t.Fatalf("NewMinter() error = %v", err)
	}

	a, _ := m.Mint("<abc@mail.example>")
	b, _ := m.Mint("<abc@mail.example>")
	if a != b {
		t.Errorf("same Message-ID produced different envelope IDs: %q vs %q", a, b)
	}

	c, _ := m.Mint("<other@mail.example>")
	if a == c {
		t.Errorf("different Message-IDs produced the same envelope ID %q", a)
	}
	if !strings.HasPrefix(a, stablePrefix) {
		t.Errorf("stable ID %q missing prefix %q", a, stablePrefix)
	}
}

func TestMintGeneratedUnique(t *testing.T) {
	m, err := NewMinter(0)
	if err != nil {
		t.Fatalf("NewMinter() error = %v", err)
	}

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := m.Mint("")
		if err != nil {
			t.Fatalf("Mint() error = %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate generated ID %q", id)
		}
		if strings.HasPrefix(id, stablePrefix) {
			t.Fatalf("generated ID %q collides with stable prefix", id)
		}
		seen[id] = true
	}
}

func TestNewGeneratorRejectsBadNode(t *testing.T) {
	if _, err := NewGenerator(1024); err != ErrInvalidNodeID {
		t.Errorf("NewGenerator(1024) error = %v, want ErrInvalidNodeID", err)
	}
	if _, err := NewGenerator(-1); err != ErrInvalidNodeID {
		t.Errorf("NewGenerator(-1) error = %v, want ErrInvalidNodeID", err)
	}
}

func TestGeneratedIDsSortByTime(t *testing.T) {
	g, _ := NewGenerator(5)
	prev, _ := g.Generate()
	for i := 0; i < 100; i++ {
		id, err := g.Generate()
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if id <= prev {
			t.Fatalf("IDs not monotonic: %d after %d", id, prev)
		}
		prev = id
	}
}
