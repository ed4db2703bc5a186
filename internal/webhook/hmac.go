package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// errVerification is the only error callers see; details stay internal.
var errVerification = errors.New("webhook verification failed")

// verifyHMACSignature checks an HMAC-SHA256 signature of body in constant
// time. signature is "sha256=<hex>" or plain hex.
func verifyHMACSignature(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return errVerification
	}
	actual, err := parseSignature(signature)
	if err != nil {
		return errVerification
	}
	if subtle.ConstantTimeCompare(sign(body, secret), actual) != 1 {
		return errVerification
	}
	return nil
}

func parseSignature(signature string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
}

func sign(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// Signature returns the "sha256=<hex>" signature of body, the form hosts
// are expected to send.
func Signature(body []byte, secret string) string {
	return "sha256=" + hex.EncodeToString(sign(body, secret))
}
