package http

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Signature headers sent by the SMS agent with each inbound message
const (
	TimestampHeader = "X-Webhook-Timestamp"
	SignatureHeader = "X-Webhook-Signature"

	CodeUnauthorized = "UNAUTHORIZED"

	defaultMaxSkew = 5 * time.Minute
)

// Verifier checks HMAC-SHA256 signatures over "<timestamp>.<body>"
type Verifier struct {
	secret  []byte
	maxSkew time.Duration
	now     func() time.Time
}

// NewVerifier creates a verifier. A zero maxSkew uses five minutes.
func NewVerifier(secret string, maxSkew time.Duration) *Verifier {
	if maxSkew <= 0 {
		maxSkew = defaultMaxSkew
	}
	return &Verifier{secret: []byte(secret), maxSkew: maxSkew, now: time.Now}
}

// Sign returns the hex signature for a body sent at the given unix timestamp
func (v *Verifier) Sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches and timestamp is within the allowed skew
func (v *Verifier) VerifySignature(timestamp, signature string, body []byte) bool {
	sec, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	skew := v.now().Sub(time.Unix(sec, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return false
	}

	expected, err := hex.DecodeString(v.Sign(timestamp, body))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

// Middleware rejects requests without a valid signature. The body is restored for the handler.
func (v *Verifier) Middleware(logger Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			badRequest(c, "failed to read request body")
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if !v.VerifySignature(c.GetHeader(TimestampHeader), c.GetHeader(SignatureHeader), body) {
			logger.Info("Rejected unsigned webhook",
				"path", c.FullPath(),
				"client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "invalid or missing webhook signature",
				Code:    CodeUnauthorized,
			})
			return
		}
		c.Next()
	}
}
