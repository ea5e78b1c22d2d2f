package engine

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// observe emits the one structured record every evaluated conversation
// gets per tick.
func (e *Engine) observe(d *Decision) {
	fields := []zap.Field{
		zap.String("conversation_id", d.ConversationID),
		zap.String("decision", d.Action),
		zap.String("skip_reason", d.SkipReason),
		zap.String("error_kind", string(d.ErrorKind)),
		zap.String("topic_id", d.TopicID),
		zap.Time("tick_at", d.TickAt),
	}
	if d.Impulse != nil {
		fields = append(fields,
			zap.Float64("impulse_score", d.Impulse.Score),
			zap.Float64("threshold", d.Threshold))
	}
	level := zapcore.InfoLevel
	if d.Err != nil {
		level = zapcore.WarnLevel
		fields = append(fields, zap.Error(d.Err))
	}
	if ce := e.logger.Check(level, "wind decision"); ce != nil {
		ce.Write(fields...)
	}
}
