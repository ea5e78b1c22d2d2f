package store

import (
	"database/sql"
	"fmt"
	"time"
)

// WindState is the engine's per-conversation state. Only the engine
// mutates it; rows are never deleted.
type WindState struct {
	ConversationID           string
	LastUserInteractionAt    time.Time
	LastOutboundAt           time.Time
	LastProactiveSentAt      time.Time
	ProactiveSentToday       int
	DayBucket                string
	UnansweredProactiveCount int
	SnoozeUntil              time.Time
	FatigueDamper            float64
	BackoffUntil             time.Time
	PauseCleanedAt           time.Time
}

// Snoozed reports whether the conversation is snoozed at now.
func (s *WindState) Snoozed(now time.Time) bool {
	return !s.SnoozeUntil.IsZero() && s.SnoozeUntil.After(now)
}

const windStateColumns = `conversation_id, last_user_interaction_at, last_outbound_at, last_proactive_sent_at,
	proactive_sent_today, day_bucket, unanswered_proactive_count, snooze_until, fatigue_damper,
	backoff_until, pause_cleaned_at`

// GetWindState returns the state row for a conversation, or nil if none exists.
func (q *Queries) GetWindState(conversationID string) (*WindState, error) {
	row := q.q.QueryRow(`SELECT `+windStateColumns+` FROM wind_state WHERE conversation_id = ?`, conversationID)
	s, err := scanWindState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get wind state: %w", err)
	}
	return s, nil
}

// ListWindStates returns all state rows keyed by conversation id.
func (q *Queries) ListWindStates() (map[string]WindState, error) {
	rows, err := q.q.Query(`SELECT ` + windStateColumns + ` FROM wind_state`)
	if err != nil {
		return nil, fmt.Errorf("list wind states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]WindState)
	for rows.Next() {
		s, err := scanWindState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wind state: %w", err)
		}
		states[s.ConversationID] = *s
	}
	return states, rows.Err()
}

func scanWindState(r rowScanner) (*WindState, error) {
	var s WindState
	var lastUser, lastOut, lastPro, snooze, backoff, cleaned sql.NullInt64
	if err := r.Scan(&s.ConversationID, &lastUser, &lastOut, &lastPro,
		&s.ProactiveSentToday, &s.DayBucket, &s.UnansweredProactiveCount, &snooze, &s.FatigueDamper,
		&backoff, &cleaned); err != nil {
		return nil, err
	}
	s.LastUserInteractionAt = fromNullMillis(lastUser)
	s.LastOutboundAt = fromNullMillis(lastOut)
	s.LastProactiveSentAt = fromNullMillis(lastPro)
	s.SnoozeUntil = fromNullMillis(snooze)
	s.BackoffUntil = fromNullMillis(backoff)
	s.PauseCleanedAt = fromNullMillis(cleaned)
	return &s, nil
}

// EnsureWindState creates an empty state row if the conversation has none.
func (q *Queries) EnsureWindState(conversationID string) error {
	_, err := q.q.Exec(`
		INSERT OR IGNORE INTO wind_state (conversation_id, updated_at) VALUES (?, ?)
	`, conversationID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("ensure wind state: %w", err)
	}
	return nil
}

// SaveWindState writes the full state row, creating it if needed.
func (q *Queries) SaveWindState(s *WindState) error {
	_, err := q.q.Exec(`
		INSERT INTO wind_state (conversation_id, last_user_interaction_at, last_outbound_at,
			last_proactive_sent_at, proactive_sent_today, day_bucket, unanswered_proactive_count,
			snooze_until, fatigue_damper, backoff_until, pause_cleaned_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			last_user_interaction_at = excluded.last_user_interaction_at,
			last_outbound_at = excluded.last_outbound_at,
			last_proactive_sent_at = excluded.last_proactive_sent_at,
			proactive_sent_today = excluded.proactive_sent_today,
			day_bucket = excluded.day_bucket,
			unanswered_proactive_count = excluded.unanswered_proactive_count,
			snooze_until = excluded.snooze_until,
			fatigue_damper = excluded.fatigue_damper,
			backoff_until = excluded.backoff_until,
			pause_cleaned_at = excluded.pause_cleaned_at,
			updated_at = excluded.updated_at
	`, s.ConversationID, nullMillis(s.LastUserInteractionAt), nullMillis(s.LastOutboundAt),
		nullMillis(s.LastProactiveSentAt), s.ProactiveSentToday, s.DayBucket, s.UnansweredProactiveCount,
		nullMillis(s.SnoozeUntil), s.FatigueDamper, nullMillis(s.BackoffUntil), nullMillis(s.PauseCleanedAt),
		time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save wind state: %w", err)
	}
	return nil
}
