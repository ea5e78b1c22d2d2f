package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TopicType identifies the producer class of a topic.
type TopicType string

const (
	TypeWind      TopicType = "wind"
	TypeReminder  TopicType = "reminder"
	TypeCritical  TopicType = "critical"
	TypeTension   TopicType = "tension"
	TypeDiscovery TopicType = "discovery"
)

// Valid reports whether t is a known topic type.
func (t TopicType) Valid() bool {
	switch t {
	case TypeWind, TypeReminder, TypeCritical, TypeTension, TypeDiscovery:
		return true
	}
	return false
}

// TopicStatus is the lifecycle state of a topic.
type TopicStatus string

const (
	StatusPending         TopicStatus = "pending"
	StatusArmed           TopicStatus = "armed"
	StatusActivePursuit   TopicStatus = "active_pursuit"
	StatusMentioned       TopicStatus = "mentioned"
	StatusSnoozed         TopicStatus = "snoozed"
	StatusDismissed       TopicStatus = "dismissed"
	StatusExpired         TopicStatus = "expired"
	StatusMerged          TopicStatus = "merged"
	StatusSuppressed      TopicStatus = "suppressed"
	StatusStaleAfterPause TopicStatus = "stale_after_pause"
)

// Live reports whether the topic can still be selected or resumed.
func (s TopicStatus) Live() bool {
	switch s {
	case StatusPending, StatusArmed, StatusActivePursuit, StatusSnoozed:
		return true
	}
	return false
}

// Pursued reports whether the topic is currently selected for pursuit.
func (s TopicStatus) Pursued() bool {
	return s == StatusArmed || s == StatusActivePursuit
}

// PursuitState tracks bounded retrying of a selected topic.
type PursuitState struct {
	Status        TopicStatus
	AttemptCount  int
	AttemptBudget int // 0 = unbudgeted (critical)
	NextAttemptAt time.Time
	LastAttemptAt time.Time
	ExpiresAt     time.Time
	FailureCount  int
}

// Topic is a candidate subject the engine may proactively raise.
type Topic struct {
	ID                    string
	ConversationID        string
	Type                  TopicType
	Family                string
	Title                 string
	Content               string
	Source                string
	NoveltyKey            string
	BasePriority          float64
	DynamicPriority       float64
	DecayRate             float64
	DecayPenalty          float64
	Status                TopicStatus
	CreatedAt             time.Time
	ExpiresAt             time.Time
	LastEvaluatedAt       time.Time
	LastEvidenceAt        time.Time
	LastReferencedAt      time.Time
	NegativeFeedbackScore float64
	IgnoreCount           int
	MergeCount            int
	MergedInto            string
	Pursuit               *PursuitState
	UpdatedAt             time.Time
}

// Clone returns a deep copy of the topic.
func (t *Topic) Clone() *Topic {
	c := *t
	if t.Pursuit != nil {
		p := *t.Pursuit
		c.Pursuit = &p
	}
	return &c
}

// Expired reports whether the topic's own expiry has passed at now.
func (t *Topic) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !t.ExpiresAt.After(now)
}

const topicColumns = `id, conversation_id, type, family, title, content, source, novelty_key,
	base_priority, dynamic_priority, decay_rate, decay_penalty, status, created_at, expires_at,
	last_evaluated_at, last_evidence_at, last_referenced_at, negative_feedback_score, ignore_count,
	merge_count, merged_into, pursuit_status, attempt_count, attempt_budget, next_attempt_at,
	last_attempt_at, pursuit_expires_at, failure_count, updated_at`

// InsertTopic stores a new topic. An empty ID is assigned a UUID.
func (q *Queries) InsertTopic(t *Topic) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.LastEvaluatedAt.IsZero() {
		t.LastEvaluatedAt = t.CreatedAt
	}
	if t.LastEvidenceAt.IsZero() {
		t.LastEvidenceAt = t.CreatedAt
	}
	t.UpdatedAt = now

	_, err := q.q.Exec(`INSERT INTO topics (`+topicColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		topicArgs(t)...)
	if err != nil {
		return fmt.Errorf("insert topic: %w", err)
	}
	return nil
}

// SaveTopic writes every mutable column of an existing topic.
// A merged topic must point at a topic in its own conversation.
func (q *Queries) SaveTopic(t *Topic) error {
	if t.MergedInto != "" {
		var targetConv string
		err := q.q.QueryRow(`SELECT conversation_id FROM topics WHERE id = ?`, t.MergedInto).Scan(&targetConv)
		if err == sql.ErrNoRows {
			return fmt.Errorf("save topic %s: merge target %s: %w", t.ID, t.MergedInto, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("save topic %s: check merge target: %w", t.ID, err)
		}
		if targetConv != t.ConversationID {
			return fmt.Errorf("save topic %s: merge target %s belongs to conversation %s, not %s",
				t.ID, t.MergedInto, targetConv, t.ConversationID)
		}
	}

	t.UpdatedAt = time.Now().UTC()
	args := topicArgs(t)
	// id moves to the end for the WHERE clause
	args = append(args[1:], t.ID)
	result, err := q.q.Exec(`
		UPDATE topics SET conversation_id = ?, type = ?, family = ?, title = ?, content = ?, source = ?,
			novelty_key = ?, base_priority = ?, dynamic_priority = ?, decay_rate = ?, decay_penalty = ?,
			status = ?, created_at = ?, expires_at = ?, last_evaluated_at = ?, last_evidence_at = ?,
			last_referenced_at = ?, negative_feedback_score = ?, ignore_count = ?, merge_count = ?,
			merged_into = ?, pursuit_status = ?, attempt_count = ?, attempt_budget = ?, next_attempt_at = ?,
			last_attempt_at = ?, pursuit_expires_at = ?, failure_count = ?, updated_at = ?
		WHERE id = ?
	`, args...)
	if err != nil {
		return fmt.Errorf("save topic %s: %w", t.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("save topic %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

// GetTopic returns a topic by id, or nil if not found.
func (q *Queries) GetTopic(id string) (*Topic, error) {
	row := q.q.QueryRow(`SELECT `+topicColumns+` FROM topics WHERE id = ?`, id)
	t, err := scanTopic(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get topic: %w", err)
	}
	return t, nil
}

// ListTopics returns every topic of a conversation, oldest first.
func (q *Queries) ListTopics(conversationID string) ([]Topic, error) {
	return q.queryTopics(`SELECT `+topicColumns+` FROM topics
		WHERE conversation_id = ? ORDER BY created_at, id`, conversationID)
}

// ListLiveTopics returns the pending, armed, pursued and snoozed topics of a
// conversation, oldest first.
func (q *Queries) ListLiveTopics(conversationID string) ([]Topic, error) {
	return q.queryTopics(`SELECT `+topicColumns+` FROM topics
		WHERE conversation_id = ? AND status IN ('pending', 'armed', 'active_pursuit', 'snoozed')
		ORDER BY created_at, id`, conversationID)
}

// FindLiveTopic returns the oldest live topic for a novelty key, or nil.
func (q *Queries) FindLiveTopic(conversationID, noveltyKey string) (*Topic, error) {
	row := q.q.QueryRow(`SELECT `+topicColumns+` FROM topics
		WHERE conversation_id = ? AND novelty_key = ?
			AND status IN ('pending', 'armed', 'active_pursuit', 'snoozed')
		ORDER BY created_at, id LIMIT 1`, conversationID, noveltyKey)
	t, err := scanTopic(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find live topic: %w", err)
	}
	return t, nil
}

// FindMentionedTopic returns the most recently updated mentioned topic for a
// novelty key, or nil. Fresh evidence re-arms it instead of creating a twin.
func (q *Queries) FindMentionedTopic(conversationID, noveltyKey string) (*Topic, error) {
	row := q.q.QueryRow(`SELECT `+topicColumns+` FROM topics
		WHERE conversation_id = ? AND novelty_key = ? AND status = 'mentioned'
		ORDER BY updated_at DESC LIMIT 1`, conversationID, noveltyKey)
	t, err := scanTopic(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find mentioned topic: %w", err)
	}
	return t, nil
}

func (q *Queries) queryTopics(query string, args ...any) ([]Topic, error) {
	rows, err := q.q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, *t)
	}
	return topics, rows.Err()
}

func topicArgs(t *Topic) []any {
	var pursuitStatus sql.NullString
	var attempts, budget, failures int
	var next, last, expires time.Time
	if p := t.Pursuit; p != nil {
		pursuitStatus = sql.NullString{String: string(p.Status), Valid: true}
		attempts, budget, failures = p.AttemptCount, p.AttemptBudget, p.FailureCount
		next, last, expires = p.NextAttemptAt, p.LastAttemptAt, p.ExpiresAt
	}
	var mergedInto sql.NullString
	if t.MergedInto != "" {
		mergedInto = sql.NullString{String: t.MergedInto, Valid: true}
	}
	return []any{
		t.ID, t.ConversationID, string(t.Type), t.Family, t.Title, t.Content, t.Source, t.NoveltyKey,
		t.BasePriority, t.DynamicPriority, t.DecayRate, t.DecayPenalty, string(t.Status),
		t.CreatedAt.UnixMilli(), nullMillis(t.ExpiresAt), t.LastEvaluatedAt.UnixMilli(),
		t.LastEvidenceAt.UnixMilli(), nullMillis(t.LastReferencedAt), t.NegativeFeedbackScore,
		t.IgnoreCount, t.MergeCount, mergedInto, pursuitStatus, attempts, budget,
		nullMillis(next), nullMillis(last), nullMillis(expires), failures, t.UpdatedAt.UnixMilli(),
	}
}

func scanTopic(r rowScanner) (*Topic, error) {
	var t Topic
	var typ, status string
	var content, source, mergedInto, pursuitStatus sql.NullString
	var created, evaluated, evidence, updated int64
	var expires, referenced, next, last, pursuitExpires sql.NullInt64
	var attempts, budget, failures int
	if err := r.Scan(&t.ID, &t.ConversationID, &typ, &t.Family, &t.Title, &content, &source, &t.NoveltyKey,
		&t.BasePriority, &t.DynamicPriority, &t.DecayRate, &t.DecayPenalty, &status, &created, &expires,
		&evaluated, &evidence, &referenced, &t.NegativeFeedbackScore, &t.IgnoreCount,
		&t.MergeCount, &mergedInto, &pursuitStatus, &attempts, &budget, &next,
		&last, &pursuitExpires, &failures, &updated); err != nil {
		return nil, err
	}
	t.Type = TopicType(typ)
	t.Status = TopicStatus(status)
	t.Content = content.String
	t.Source = source.String
	t.MergedInto = mergedInto.String
	t.CreatedAt = fromMillis(created)
	t.ExpiresAt = fromNullMillis(expires)
	t.LastEvaluatedAt = fromMillis(evaluated)
	t.LastEvidenceAt = fromMillis(evidence)
	t.LastReferencedAt = fromNullMillis(referenced)
	t.UpdatedAt = fromMillis(updated)
	if pursuitStatus.Valid {
		t.Pursuit = &PursuitState{
			Status:        TopicStatus(pursuitStatus.String),
			AttemptCount:  attempts,
			AttemptBudget: budget,
			NextAttemptAt: fromNullMillis(next),
			LastAttemptAt: fromNullMillis(last),
			ExpiresAt:     fromNullMillis(pursuitExpires),
			FailureCount:  failures,
		}
	}
	return &t, nil
}
