// Package dispatch delivers proactive messages to the messaging transport.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/wind/internal/config"
)

// Message is one proactive send. Kind carries the topic type so the
// transport can tag the message instead of embedding markers in the text.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	Kind           string    `json:"kind"`
	TopicID        string    `json:"topic_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Sender delivers a message and reports the outcome synchronously. A nil
// error means delivery was confirmed.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// New builds the configured sender.
func New(cfg config.DispatchConfig, logger *zap.Logger) (Sender, error) {
	switch cfg.Provider {
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("webhook dispatch requires webhook_url or WIND_WEBHOOK_URL")
		}
		return NewWebhook(cfg.WebhookURL, cfg.AuthToken), nil
	case "log", "":
		return NewLog(logger), nil
	default:
		return nil, fmt.Errorf("unknown dispatch provider: %q", cfg.Provider)
	}
}
