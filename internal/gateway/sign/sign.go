// Package sign implements the HMAC canonical-string signing shared by the
// gateway adapters. Field order is part of each provider's contract: callers
// pass pairs in the provider's documented order, never sorted locally.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Pair is one key=value element of a canonical signature string.
type Pair struct {
	Key   string
	Value string
}

// Canonical joins pairs into the "k1=v1&k2=v2" form preserving order.
func Canonical(pairs []Pair) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	return b.String()
}

// HMACSHA256Hex computes the lowercase hex HMAC-SHA256 of message.
func HMACSHA256Hex(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// HMACSHA256Bytes computes HMAC-SHA256 over a raw body.
func HMACSHA256Bytes(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal compares two hex signatures in constant time. Hex case differences
// between providers are tolerated; length differences fail immediately.
func Equal(a, b string) bool {
	x := []byte(strings.ToLower(strings.TrimSpace(a)))
	y := []byte(strings.ToLower(strings.TrimSpace(b)))
	if len(x) == 0 || len(x) != len(y) {
		return false
	}
	return subtle.ConstantTimeCompare(x, y) == 1
}

// VerifyCanonical signs the canonical form of pairs and compares against the
// presented signature in constant time.
func VerifyCanonical(secret string, pairs []Pair, presented string) bool {
	return Equal(HMACSHA256Hex(secret, Canonical(pairs)), presented)
}
