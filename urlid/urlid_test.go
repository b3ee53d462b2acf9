package urlid_test

import (
	"testing"

	"github.com/hazyhaar/marque/urlid"
)

func TestHashKnownValue(t *testing.T) {
	got := urlid.Hash("http://google.com")
	if got != "aa2239c17609b2" {
		t.Fatalf("Hash(http://google.com) = %q, want aa2239c17609b2", got)
	}
}

func TestHashDeterministic(t *testing.T) {
	a := urlid.Hash("https://example.com/some/path?q=1")
	b := urlid.Hash("https://example.com/some/path?q=1")
	if a != b {
		t.Fatalf("hash not stable: %q vs %q", a, b)
	}
	if len(a) != urlid.HashLen {
		t.Fatalf("len = %d, want %d", len(a), urlid.HashLen)
	}
}

func TestHashDistinguishesURLs(t *testing.T) {
	if urlid.Hash("http://a.example") == urlid.Hash("http://b.example") {
		t.Fatal("different URLs produced the same hash")
	}
	// Trailing slash is a different literal string, so a different identity.
	if urlid.Hash("http://a.example") == urlid.Hash("http://a.example/") {
		t.Fatal("hash should be a pure function of the literal URL text")
	}
}
