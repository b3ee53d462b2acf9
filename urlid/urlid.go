// Package urlid derives the content-address used to identify a URL.
//
// Every bookmark references a URL through this hash rather than embedding
// the literal string, so the same URL saved by many users maps to one
// identity row. The hash doubles as the dedup key during imports.
package urlid

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashLen is the number of hex characters kept from the digest (56 bits).
const HashLen = 14

// Hash returns the canonical identity of a URL: the first 14 hex characters
// of the SHA-256 digest of the UTF-8 URL text. Pure and deterministic;
// collisions are theoretically possible but not handled here.
func Hash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:HashLen]
}
