package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// verifySignature checks an HMAC-SHA256 body signature using a timing-safe
// comparison. The expected header format is "sha256=<hex digest>".
func verifySignature(body []byte, signature string, secret string) bool {
	expected := computeSignature(body, secret)
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

func computeSignature(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(h.Sum(nil)))
}
