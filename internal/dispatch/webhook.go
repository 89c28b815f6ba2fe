package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body, keyed with
// the shared webhook secret. Receivers verify it the same way inbound payment
// webhooks are verified on our side.
const SignatureHeader = "X-Lekha-Signature"

// WebhookSender posts signed JSON payloads to rule-configured URLs.
type WebhookSender struct {
	secret     []byte
	httpClient *http.Client
}

type WebhookOption func(*WebhookSender)

func WithWebhookHTTPClient(c *http.Client) WebhookOption {
	return func(s *WebhookSender) {
		s.httpClient = c
	}
}

func NewWebhookSender(secret string, opts ...WebhookOption) *WebhookSender {
	s := &WebhookSender{
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send posts the payload as JSON. Delivery is at-most-once: a failed POST is
// an error for the caller's Result, not a retry loop.
func (s *WebhookSender) Send(ctx context.Context, url string, payload any) error {
	if url == "" {
		return fmt.Errorf("webhook url is required")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, s.Sign(body))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under the shared secret.
func (s *WebhookSender) Sign(body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether sig is a valid signature for body.
func VerifySignature(secret string, body []byte, sig string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}
