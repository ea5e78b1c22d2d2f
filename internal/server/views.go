package server

import (
	"time"

	"github.com/lazypower/wind/internal/store"
)

// The store types carry no JSON tags; these are the wire shapes.

type topicJSON struct {
	ID                    string       `json:"id"`
	ConversationID        string       `json:"conversation_id"`
	Type                  string       `json:"type"`
	Family                string       `json:"family"`
	Title                 string       `json:"title"`
	Content               string       `json:"content,omitempty"`
	Source                string       `json:"source,omitempty"`
	NoveltyKey            string       `json:"novelty_key"`
	Status                string       `json:"status"`
	BasePriority          float64      `json:"base_priority"`
	DynamicPriority       float64      `json:"dynamic_priority"`
	DecayPenalty          float64      `json:"decay_penalty"`
	NegativeFeedbackScore float64      `json:"negative_feedback_score"`
	IgnoreCount           int          `json:"ignore_count"`
	MergeCount            int          `json:"merge_count"`
	MergedInto            string       `json:"merged_into,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
	ExpiresAt             *time.Time   `json:"expires_at,omitempty"`
	LastEvidenceAt        *time.Time   `json:"last_evidence_at,omitempty"`
	Pursuit               *pursuitJSON `json:"pursuit,omitempty"`
}

type pursuitJSON struct {
	Status        string     `json:"status"`
	AttemptCount  int        `json:"attempt_count"`
	AttemptBudget int        `json:"attempt_budget"`
	FailureCount  int        `json:"failure_count"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

func topicView(t *store.Topic) topicJSON {
	v := topicJSON{
		ID:                    t.ID,
		ConversationID:        t.ConversationID,
		Type:                  string(t.Type),
		Family:                t.Family,
		Title:                 t.Title,
		Content:               t.Content,
		Source:                t.Source,
		NoveltyKey:            t.NoveltyKey,
		Status:                string(t.Status),
		BasePriority:          t.BasePriority,
		DynamicPriority:       t.DynamicPriority,
		DecayPenalty:          t.DecayPenalty,
		NegativeFeedbackScore: t.NegativeFeedbackScore,
		IgnoreCount:           t.IgnoreCount,
		MergeCount:            t.MergeCount,
		MergedInto:            t.MergedInto,
		CreatedAt:             t.CreatedAt,
		ExpiresAt:             optTime(t.ExpiresAt),
		LastEvidenceAt:        optTime(t.LastEvidenceAt),
	}
	if p := t.Pursuit; p != nil {
		v.Pursuit = &pursuitJSON{
			Status:        string(p.Status),
			AttemptCount:  p.AttemptCount,
			AttemptBudget: p.AttemptBudget,
			FailureCount:  p.FailureCount,
			NextAttemptAt: optTime(p.NextAttemptAt),
			ExpiresAt:     optTime(p.ExpiresAt),
		}
	}
	return v
}

func topicViews(topics []store.Topic) []topicJSON {
	out := make([]topicJSON, len(topics))
	for i := range topics {
		out[i] = topicView(&topics[i])
	}
	return out
}

// conversationJSON is both the PUT body and the GET response. Nil
// overrides fall back to the global configuration.
type conversationJSON struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name,omitempty"`
	WindEnabled bool       `json:"wind_enabled"`
	Allowed     bool       `json:"allowed"`
	Threshold   *float64   `json:"threshold,omitempty"`
	DailyCap    *int       `json:"daily_cap,omitempty"`
	QuietStart  *int       `json:"quiet_start,omitempty"`
	QuietEnd    *int       `json:"quiet_end,omitempty"`
	Timezone    string     `json:"timezone,omitempty"`
	State       *stateJSON `json:"state,omitempty"`
}

func conversationView(c *store.Conversation, st *store.WindState) conversationJSON {
	v := conversationJSON{
		ID:          c.ID,
		DisplayName: c.DisplayName,
		WindEnabled: c.WindEnabled,
		Allowed:     c.Allowed,
		Threshold:   c.Threshold,
		DailyCap:    c.DailyCap,
		QuietStart:  c.QuietStart,
		QuietEnd:    c.QuietEnd,
		Timezone:    c.Timezone,
	}
	if st != nil {
		s := stateView(st)
		v.State = &s
	}
	return v
}

type stateJSON struct {
	LastUserInteractionAt    *time.Time `json:"last_user_interaction_at,omitempty"`
	LastProactiveSentAt      *time.Time `json:"last_proactive_sent_at,omitempty"`
	ProactiveSentToday       int        `json:"proactive_sent_today"`
	DayBucket                string     `json:"day_bucket,omitempty"`
	UnansweredProactiveCount int        `json:"unanswered_proactive_count"`
	SnoozeUntil              *time.Time `json:"snooze_until,omitempty"`
	FatigueDamper            float64    `json:"fatigue_damper"`
	BackoffUntil             *time.Time `json:"backoff_until,omitempty"`
}

func stateView(st *store.WindState) stateJSON {
	return stateJSON{
		LastUserInteractionAt:    optTime(st.LastUserInteractionAt),
		LastProactiveSentAt:      optTime(st.LastProactiveSentAt),
		ProactiveSentToday:       st.ProactiveSentToday,
		DayBucket:                st.DayBucket,
		UnansweredProactiveCount: st.UnansweredProactiveCount,
		SnoozeUntil:              optTime(st.SnoozeUntil),
		FatigueDamper:            st.FatigueDamper,
		BackoffUntil:             optTime(st.BackoffUntil),
	}
}

type impulseJSON struct {
	TickAt           time.Time `json:"tick_at"`
	Base             float64   `json:"base"`
	Silence          float64   `json:"silence"`
	TopicPressure    float64   `json:"topic_pressure"`
	TimeFactor       float64   `json:"time_factor"`
	Entropy          float64   `json:"entropy"`
	EngagementDamper float64   `json:"engagement_damper"`
	FatigueDamper    float64   `json:"fatigue_damper"`
	Score            float64   `json:"score"`
	Threshold        float64   `json:"threshold"`
	Decision         string    `json:"decision"`
	SkipReason       string    `json:"skip_reason,omitempty"`
	TopicID          string    `json:"topic_id,omitempty"`
}

func impulseView(l *store.ImpulseLog) impulseJSON {
	return impulseJSON{
		TickAt:           l.TickAt,
		Base:             l.Base,
		Silence:          l.Silence,
		TopicPressure:    l.TopicPressure,
		TimeFactor:       l.TimeFactor,
		Entropy:          l.Entropy,
		EngagementDamper: l.EngagementDamper,
		FatigueDamper:    l.FatigueDamper,
		Score:            l.Score,
		Threshold:        l.Threshold,
		Decision:         l.Decision,
		SkipReason:       l.SkipReason,
		TopicID:          l.TopicID,
	}
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
