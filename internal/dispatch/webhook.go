package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const webhookTimeout = 15 * time.Second

// Webhook posts each message as JSON to a transport endpoint. Any 2xx
// response confirms delivery.
type Webhook struct {
	http  *http.Client
	url   string
	token string
}

// NewWebhook creates a webhook sender. token, when set, is sent as a bearer
// credential.
func NewWebhook(url, token string) *Webhook {
	return &Webhook{
		http:  &http.Client{Timeout: webhookTimeout},
		url:   url,
		token: token,
	}
}

// Send posts the message. The message ID doubles as an idempotency key so
// a transport can drop a retried duplicate.
func (w *Webhook) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if msg.ID != "" {
		req.Header.Set("Idempotency-Key", msg.ID)
	}
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", w.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("POST %s: status %d: %s", w.url, resp.StatusCode, data)
	}
	return nil
}
