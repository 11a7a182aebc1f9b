package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Webhook authentication headers.
const (
	SignatureHeader    = "X-Webhook-Signature"
	WebhookTokenHeader = "X-Webhook-Token"
	signaturePrefix    = "sha256="
)

// WebhookVerifier authenticates gateway callbacks with a shared secret.
type WebhookVerifier struct {
	secret []byte
}

// NewWebhookVerifier returns a verifier. An empty secret accepts every request.
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: []byte(secret)}
}

// Enabled reports whether a secret is configured.
func (v *WebhookVerifier) Enabled() bool {
	return len(v.secret) > 0
}

// Sign returns the signature header value for body.
func (v *WebhookVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify accepts a matching HMAC signature of body or a token equal to the secret.
func (v *WebhookVerifier) Verify(body []byte, signature, token string) bool {
	if !v.Enabled() {
		return true
	}
	if signature != "" {
		got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), signaturePrefix))
		if err == nil {
			mac := hmac.New(sha256.New, v.secret)
			mac.Write(body)
			if hmac.Equal(got, mac.Sum(nil)) {
				return true
			}
		}
	}
	if token != "" {
		return subtle.ConstantTimeCompare([]byte(token), v.secret) == 1
	}
	return false
}

// Handler rejects unauthenticated webhook calls with 401.
func (v *WebhookVerifier) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Query("token")
		if token == "" {
			token = c.Get(WebhookTokenHeader)
		}
		if !v.Verify(c.Body(), c.Get(SignatureHeader), token) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid signature"})
		}
		return c.Next()
	}
}
