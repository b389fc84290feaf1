package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignPayload computes the hex-encoded HMAC-SHA256 signature of payload under
// the shared secret. Both inbound webhook families (payment callbacks and
// delivery status updates) use this primitive over the raw request body.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether the provided hex signature matches the
// payload under the shared secret. Comparison is constant-time; a mismatch
// must be rejected before any state transition is attempted.
func VerifySignature(payload []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := SignPayload(payload, secret)
	provided := strings.TrimSpace(strings.ToLower(signature))
	return hmac.Equal([]byte(expected), []byte(provided))
}
