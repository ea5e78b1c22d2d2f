package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/wind/internal/store"
)

// ErrInvalidFeedback is returned by ReportFeedback for malformed input.
var ErrInvalidFeedback = errors.New("invalid feedback")

// Scope says what a feedback signal is about.
type Scope string

const (
	ScopeTopic        Scope = "topic"
	ScopeConversation Scope = "conversation"
)

// Polarity of a feedback signal.
type Polarity string

const (
	Positive Polarity = "positive"
	Negative Polarity = "negative"
)

// Feedback is an explicit signal from the user. Topic feedback moves the
// topic and its family affinity; conversation feedback moves the snooze
// and fatigue of the whole conversation. Neither touches the other's state.
type Feedback struct {
	ConversationID string    `json:"conversation_id"`
	Scope          Scope     `json:"scope"`
	Polarity       Polarity  `json:"polarity"`
	TopicID        string    `json:"topic_id,omitempty"`
	At             time.Time `json:"at,omitempty"`
}

func (fb Feedback) validate() error {
	if fb.ConversationID == "" {
		return fmt.Errorf("%w: conversation_id is required", ErrInvalidFeedback)
	}
	if fb.Polarity != Positive && fb.Polarity != Negative {
		return fmt.Errorf("%w: unknown polarity %q", ErrInvalidFeedback, fb.Polarity)
	}
	switch fb.Scope {
	case ScopeTopic:
		if fb.TopicID == "" {
			return fmt.Errorf("%w: topic feedback needs topic_id", ErrInvalidFeedback)
		}
	case ScopeConversation:
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidFeedback, fb.Scope)
	}
	return nil
}

// ReportFeedback applies a feedback signal immediately.
func (e *Engine) ReportFeedback(ctx context.Context, fb Feedback) error {
	if err := fb.validate(); err != nil {
		return err
	}
	now := e.now(fb.At)

	unlock := e.locks.lock(fb.ConversationID)
	defer unlock()

	err := e.DB.InTx(func(q *store.Queries) error {
		return e.applyFeedback(q, fb, now)
	})
	if err != nil {
		return fmt.Errorf("report feedback: %w", err)
	}
	return nil
}

func (e *Engine) applyFeedback(q *store.Queries, fb Feedback, now time.Time) error {
	e.logger.Info("feedback",
		zap.String("conversation_id", fb.ConversationID),
		zap.String("scope", string(fb.Scope)),
		zap.String("polarity", string(fb.Polarity)),
		zap.String("topic_id", fb.TopicID))
	if fb.Scope == ScopeConversation {
		return e.conversationFeedback(q, fb, now)
	}
	return e.topicFeedback(q, fb, now)
}

func (e *Engine) topicFeedback(q *store.Queries, fb Feedback, now time.Time) error {
	cfg := e.Config.Feedback

	t, err := q.GetTopic(fb.TopicID)
	if err != nil {
		return err
	}
	if t == nil || t.ConversationID != fb.ConversationID {
		return fmt.Errorf("topic %s: %w", fb.TopicID, store.ErrNotFound)
	}
	a, err := q.GetAffinity(t.ConversationID, t.Family)
	if err != nil {
		return err
	}

	if fb.Polarity == Negative {
		t.NegativeFeedbackScore++
		switch {
		case t.Status.Pursued() || t.Status == store.StatusMentioned:
			setStatus(t, store.StatusDismissed)
		case t.Status.Live() && t.NegativeFeedbackScore >= cfg.SuppressAfter:
			setStatus(t, store.StatusSuppressed)
		}
		a.RejectionWeight = math.Min(1, a.RejectionWeight+cfg.AffinityStep)
		a.LastNegativeAt = now
		if cfg.FamilyCooldown > 0 {
			a.CooldownUntil = now.Add(cfg.FamilyCooldown)
		}
	} else {
		t.NegativeFeedbackScore = math.Max(0, t.NegativeFeedbackScore-1)
		a.InterestWeight = math.Min(1, a.InterestWeight+cfg.AffinityStep)
		a.RejectionWeight = math.Max(0, a.RejectionWeight-cfg.AffinityStep)
		a.LastPositiveAt = now
		a.CooldownUntil = time.Time{}
	}

	if t.Status.Live() {
		recomputePriority(e.Config.Topics, t, a, false, now)
	}
	if err := q.SaveTopic(t); err != nil {
		return err
	}
	return q.SaveAffinity(a)
}

func (e *Engine) conversationFeedback(q *store.Queries, fb Feedback, now time.Time) error {
	cfg := e.Config.Feedback

	st, err := q.GetWindState(fb.ConversationID)
	if err != nil {
		return err
	}
	if st == nil {
		st = &store.WindState{ConversationID: fb.ConversationID}
	}

	if fb.Polarity == Positive {
		st.FatigueDamper = math.Max(0, st.FatigueDamper-cfg.FatigueStep)
		return q.SaveWindState(st)
	}

	if until := now.Add(cfg.SnoozeOnNegative); until.After(st.SnoozeUntil) {
		st.SnoozeUntil = until
	}
	st.FatigueDamper += cfg.FatigueStep
	if err := q.SaveWindState(st); err != nil {
		return err
	}
	return snoozePursued(q, fb.ConversationID)
}

// snoozePursued parks the conversation's pursued topics until the snooze
// ends. Priorities are left alone.
func snoozePursued(q *store.Queries, conversationID string) error {
	live, err := q.ListLiveTopics(conversationID)
	if err != nil {
		return err
	}
	for i := range live {
		t := &live[i]
		if !t.Status.Pursued() {
			continue
		}
		setStatus(t, store.StatusSnoozed)
		if err := q.SaveTopic(t); err != nil {
			return err
		}
	}
	return nil
}

// feedbackPhrase maps a phrase in a user message to a feedback signal.
// Topic-scoped phrases apply to the topic of the last proactive message.
type feedbackPhrase struct {
	phrase   string
	scope    Scope
	polarity Polarity
}

var feedbackPhrases = []feedbackPhrase{
	{"stop mentioning that", ScopeTopic, Negative},
	{"stop mentioning it", ScopeTopic, Negative},
	{"stop bringing that up", ScopeTopic, Negative},
	{"stop bringing it up", ScopeTopic, Negative},
	{"not interested in that", ScopeTopic, Negative},
	{"don't care about that", ScopeTopic, Negative},
	{"thanks for the reminder", ScopeTopic, Positive},
	{"thanks for reminding me", ScopeTopic, Positive},
	{"glad you brought that up", ScopeTopic, Positive},
	{"leave me alone", ScopeConversation, Negative},
	{"stop messaging me", ScopeConversation, Negative},
	{"stop texting me", ScopeConversation, Negative},
	{"don't message me", ScopeConversation, Negative},
}

func feedbackPhraseList() []string {
	out := make([]string, len(feedbackPhrases))
	for i, p := range feedbackPhrases {
		out[i] = p.phrase
	}
	return out
}

// detectFeedback returns the first feedback phrase in text, if any.
func (e *Engine) detectFeedback(text string) (feedbackPhrase, bool) {
	if e.phrases == nil {
		return feedbackPhrase{}, false
	}
	hit := e.phrases.first(strings.ReplaceAll(text, "’", "'"))
	if hit == "" {
		return feedbackPhrase{}, false
	}
	for _, p := range feedbackPhrases {
		if p.phrase == hit {
			return p, true
		}
	}
	return feedbackPhrase{}, false
}
