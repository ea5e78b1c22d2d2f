package dispatch

import (
	"context"

	"go.uber.org/zap"
)

// Log is a dry-run sender: it records the message and reports success.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a dry-run sender.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("dispatch")}
}

func (l *Log) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.logger.Info("dry-run send",
		zap.String("conversation_id", msg.ConversationID),
		zap.String("kind", msg.Kind),
		zap.String("topic_id", msg.TopicID),
		zap.String("text", msg.Text),
	)
	return nil
}
