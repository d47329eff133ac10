// Package token generates the per-recipient tracking tokens.
//
// A token is the only capability an unauthenticated caller needs to record
// engagement, so it carries 256 bits from crypto/rand, has no sequential
// component and is URL-safe without padding.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

// Bytes is the amount of randomness per token.
const Bytes = 32

// Generate returns a new URL-safe token (43 characters).
func Generate() (string, error) {
	b := make([]byte, Bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// MustGenerate is Generate for call sites that cannot recover from an
// exhausted entropy source.
func MustGenerate() string {
	t, err := Generate()
	if err != nil {
		panic(err)
	}
	return t
}

// WellFormed reports whether s could have been produced by Generate. The
// tracking handlers reject malformed tokens before touching storage; the
// rejection is indistinguishable from an unknown token.
func WellFormed(s string) bool {
	if len(s) != base64.RawURLEncoding.EncodedLen(Bytes) {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_')
	}) < 0
}

// TrackingNumber derives the short human-facing reference rendered into
// templates as {{tracking_number}}: the first eight token characters, upper-cased.
func TrackingNumber(tok string) string {
	if len(tok) > 8 {
		tok = tok[:8]
	}
	return strings.ToUpper(tok)
}
