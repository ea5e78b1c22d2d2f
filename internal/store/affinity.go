package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Affinity is the learned interest and rejection weighting of one topic
// family within one conversation. It survives long-pause cleanup.
type Affinity struct {
	ConversationID  string
	Family          string
	InterestWeight  float64
	RejectionWeight float64
	EngagementCount int
	IgnoreCount     int
	LastPositiveAt  time.Time
	LastNegativeAt  time.Time
	CooldownUntil   time.Time
}

// InCooldown reports whether the family is on cooldown at now.
func (a *Affinity) InCooldown(now time.Time) bool {
	return !a.CooldownUntil.IsZero() && a.CooldownUntil.After(now)
}

// GetAffinity returns the affinity for a family. A missing row yields a
// zero-valued affinity, never nil.
func (q *Queries) GetAffinity(conversationID, family string) (*Affinity, error) {
	row := q.q.QueryRow(`
		SELECT conversation_id, topic_family, interest_weight, rejection_weight, engagement_count,
			ignore_count, last_positive_at, last_negative_at, cooldown_until
		FROM topic_affinity WHERE conversation_id = ? AND topic_family = ?
	`, conversationID, family)
	a, err := scanAffinity(row)
	if err == sql.ErrNoRows {
		return &Affinity{ConversationID: conversationID, Family: family}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get affinity: %w", err)
	}
	return a, nil
}

// ListAffinities returns every affinity row of a conversation keyed by family.
func (q *Queries) ListAffinities(conversationID string) (map[string]*Affinity, error) {
	rows, err := q.q.Query(`
		SELECT conversation_id, topic_family, interest_weight, rejection_weight, engagement_count,
			ignore_count, last_positive_at, last_negative_at, cooldown_until
		FROM topic_affinity WHERE conversation_id = ?
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list affinities: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*Affinity)
	for rows.Next() {
		a, err := scanAffinity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan affinity: %w", err)
		}
		out[a.Family] = a
	}
	return out, rows.Err()
}

// SaveAffinity upserts an affinity row.
func (q *Queries) SaveAffinity(a *Affinity) error {
	_, err := q.q.Exec(`
		INSERT INTO topic_affinity (conversation_id, topic_family, interest_weight, rejection_weight,
			engagement_count, ignore_count, last_positive_at, last_negative_at, cooldown_until)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, topic_family) DO UPDATE SET
			interest_weight = excluded.interest_weight,
			rejection_weight = excluded.rejection_weight,
			engagement_count = excluded.engagement_count,
			ignore_count = excluded.ignore_count,
			last_positive_at = excluded.last_positive_at,
			last_negative_at = excluded.last_negative_at,
			cooldown_until = excluded.cooldown_until
	`, a.ConversationID, a.Family, a.InterestWeight, a.RejectionWeight, a.EngagementCount,
		a.IgnoreCount, nullMillis(a.LastPositiveAt), nullMillis(a.LastNegativeAt), nullMillis(a.CooldownUntil))
	if err != nil {
		return fmt.Errorf("save affinity: %w", err)
	}
	return nil
}

func scanAffinity(r rowScanner) (*Affinity, error) {
	var a Affinity
	var pos, neg, cooldown sql.NullInt64
	if err := r.Scan(&a.ConversationID, &a.Family, &a.InterestWeight, &a.RejectionWeight,
		&a.EngagementCount, &a.IgnoreCount, &pos, &neg, &cooldown); err != nil {
		return nil, err
	}
	a.LastPositiveAt = fromNullMillis(pos)
	a.LastNegativeAt = fromNullMillis(neg)
	a.CooldownUntil = fromNullMillis(cooldown)
	return &a, nil
}
