package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ImpulseLog is one scoring evaluation. Rows are append-only.
type ImpulseLog struct {
	ID               int64
	ConversationID   string
	TickAt           time.Time
	Base             float64
	Silence          float64
	TopicPressure    float64
	TimeFactor       float64
	Entropy          float64
	EngagementDamper float64
	FatigueDamper    float64
	Score            float64
	Threshold        float64
	Decision         string
	SkipReason       string
	TopicID          string
	CreatedAt        time.Time
}

// AppendImpulseLog inserts a log row and sets its ID.
func (q *Queries) AppendImpulseLog(l *ImpulseLog) error {
	l.CreatedAt = time.Now().UTC()
	result, err := q.q.Exec(`
		INSERT INTO impulse_logs (conversation_id, tick_at, base, silence, topic_pressure, time_factor,
			entropy, engagement_damper, fatigue_damper, score, threshold, decision, skip_reason,
			topic_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?)
	`, l.ConversationID, l.TickAt.UnixMilli(), l.Base, l.Silence, l.TopicPressure, l.TimeFactor,
		l.Entropy, l.EngagementDamper, l.FatigueDamper, l.Score, l.Threshold, l.Decision, l.SkipReason,
		l.TopicID, l.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append impulse log: %w", err)
	}
	l.ID, _ = result.LastInsertId()
	return nil
}

// ListImpulseLogs returns the most recent logs of a conversation, newest first.
func (q *Queries) ListImpulseLogs(conversationID string, limit int) ([]ImpulseLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.q.Query(`
		SELECT id, conversation_id, tick_at, base, silence, topic_pressure, time_factor, entropy,
			engagement_damper, fatigue_damper, score, threshold, decision, skip_reason, topic_id, created_at
		FROM impulse_logs WHERE conversation_id = ?
		ORDER BY tick_at DESC, id DESC LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list impulse logs: %w", err)
	}
	defer rows.Close()

	var logs []ImpulseLog
	for rows.Next() {
		var l ImpulseLog
		var tick, created int64
		var reason, topic sql.NullString
		if err := rows.Scan(&l.ID, &l.ConversationID, &tick, &l.Base, &l.Silence, &l.TopicPressure,
			&l.TimeFactor, &l.Entropy, &l.EngagementDamper, &l.FatigueDamper, &l.Score, &l.Threshold,
			&l.Decision, &reason, &topic, &created); err != nil {
			return nil, fmt.Errorf("scan impulse log: %w", err)
		}
		l.TickAt = fromMillis(tick)
		l.CreatedAt = fromMillis(created)
		l.SkipReason = reason.String
		l.TopicID = topic.String
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
