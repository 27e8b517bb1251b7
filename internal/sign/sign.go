// Package sign implements the HMAC-SHA256 signing contract used to
// authenticate outbound webhook deliveries.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const prefix = "sha256="

// Sign computes HMAC-SHA256(secret, body) and returns the canonical
// X-Webhook-Signature header value: the literal prefix "sha256=" followed by
// lowercase hex digits. The secret is interpreted as UTF-8 bytes; body is
// signed as raw bytes.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether header is a valid signature of body under secret,
// using a constant-time comparison to avoid leaking timing information about
// the expected signature.
func Verify(secret string, body []byte, header string) bool {
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(header), []byte(expected))
}
