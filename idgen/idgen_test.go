package idgen_test

import (
	"strings"
	"testing"

	"github.com/hazyhaar/marque/idgen"
)

func TestUUIDv7Unique(t *testing.T) {
	gen := idgen.UUIDv7()
	seen := make(map[string]bool)
	for range 1000 {
		id := gen()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestNanoID(t *testing.T) {
	gen := idgen.NanoID(12)
	id := gen()
	if len(id) != 12 {
		t.Fatalf("len = %d, want 12", len(id))
	}
	for _, r := range id {
		if !strings.ContainsRune("0123456789abcdefghijklmnopqrstuvwxyz", r) {
			t.Fatalf("unexpected rune %q in %q", r, id)
		}
	}
}

func TestPrefixed(t *testing.T) {
	gen := idgen.Prefixed("bm_", idgen.Default)
	id := gen()
	if !strings.HasPrefix(id, "bm_") {
		t.Fatalf("id %q missing prefix", id)
	}
}

func TestParse(t *testing.T) {
	id := idgen.New()
	got, err := idgen.Parse(id)
	if err != nil {
		t.Fatal(err)
	}
	if got != id {
		t.Fatalf("got %q, want %q", got, id)
	}
	if _, err := idgen.Parse("not-a-uuid"); err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}
