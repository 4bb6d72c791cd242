package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	SignatureHeader = "Signature"
	maxWebhookBody  = 1 << 20
)

// WebhookSignature requires hex(HMAC-SHA256(secret, body)) in the Signature header.
// An empty secret disables the check. The body is restored for the handler.
func WebhookSignature(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			abort(c, http.StatusBadRequest, "validation_error", "unreadable body")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		got, err := hex.DecodeString(strings.TrimSpace(c.GetHeader(SignatureHeader)))
		if err != nil || !hmac.Equal(got, Sign(secret, body)) {
			abort(c, http.StatusUnauthorized, "unauthorized", "invalid webhook signature")
			return
		}
		c.Next()
	}
}

func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
