package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// errBadSignature is deliberately uninformative.
var errBadSignature = errors.New("webhook verification failed")

// verifySignature checks an HMAC-SHA256 of body. The header value may be
// bare hex or prefixed with "sha256=".
func verifySignature(body []byte, header, secret string) error {
	if secret == "" || header == "" {
		return errBadSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
	if err != nil {
		return errBadSignature
	}
	if !hmac.Equal(sign(body, secret), got) {
		return errBadSignature
	}
	return nil
}

func sign(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// Signature returns the "sha256=<hex>" header value for body. Senders and
// tests use it.
func Signature(body []byte, secret string) string {
	return "sha256=" + hex.EncodeToString(sign(body, secret))
}
