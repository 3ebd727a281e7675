package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/go-github/v62/github"

	"gatekeeper/internal/errors"
)

// Sign returns the X-Hub-Signature-256 value for body: "sha256=" followed by
// the hex HMAC-SHA256 of body keyed with secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against the raw body with a constant-time
// comparison. An empty secret rejects every delivery.
func Verify(secret string, body []byte, signature string) error {
	if secret == "" {
		return errors.New(errors.Unauthorized, "webhook secret is not configured", nil).
			WithHint("set webhook.secret or GATEKEEPER_WEBHOOK_SECRET")
	}
	if signature == "" {
		return errors.New(errors.Unauthorized, "missing "+SignatureHeader+" header", nil)
	}
	if err := github.ValidateSignature(signature, body, []byte(secret)); err != nil {
		return errors.New(errors.Unauthorized, "invalid webhook signature", err)
	}
	return nil
}
