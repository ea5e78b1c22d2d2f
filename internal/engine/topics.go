package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/wind/internal/config"
	"github.com/lazypower/wind/internal/store"
)

// ErrInvalidTopic is returned by SubmitTopic for malformed input.
var ErrInvalidTopic = errors.New("invalid topic")

// TopicInput is a candidate topic from any producer: reminders, critical
// alerts, the tension/discovery miner or an operator.
type TopicInput struct {
	ConversationID string          `json:"conversation_id"`
	Type           store.TopicType `json:"type"`
	Family         string          `json:"family,omitempty"`
	Title          string          `json:"title"`
	Content        string          `json:"content,omitempty"`
	Source         string          `json:"source,omitempty"`
	NoveltyKey     string          `json:"novelty_key,omitempty"`
	Priority       float64         `json:"priority"`
	ExpiresAt      time.Time       `json:"expires_at,omitempty"`
	At             time.Time       `json:"at,omitempty"` // evidence time; zero means now
}

// SubmitTopic is the single ingestion path for topics. A live topic with
// the same novelty key absorbs the input as fresh evidence; a mentioned one
// is re-armed for a new selection cycle; otherwise a new pending topic is
// created.
func (e *Engine) SubmitTopic(ctx context.Context, in TopicInput) (*store.Topic, error) {
	cfg := e.Config.Topics

	in.ConversationID = strings.TrimSpace(in.ConversationID)
	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
	switch {
	case in.ConversationID == "":
		return nil, fmt.Errorf("%w: conversation_id is required", ErrInvalidTopic)
	case !in.Type.Valid():
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidTopic, in.Type)
	case in.Title == "":
		return nil, fmt.Errorf("%w: title is required", ErrInvalidTopic)
	}
	key := sanitizeKey(in.NoveltyKey)
	if key == "" {
		key = sanitizeKey(in.Title)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: no usable novelty key", ErrInvalidTopic)
	}
	// Without an explicit family the topic is its own affinity group, so
	// feedback on it never cools unrelated topics of the same type.
	family := sanitizeKey(in.Family)
	if family == "" {
		family = key
	}
	priority := clamp(in.Priority, cfg.Min, cfg.Max)
	now := e.now(in.At)

	unlock := e.locks.lock(in.ConversationID)
	defer unlock()

	var result *store.Topic
	err := e.DB.InTx(func(q *store.Queries) error {
		existing, err := q.FindLiveTopic(in.ConversationID, key)
		if err != nil {
			return err
		}
		if existing != nil {
			reEvidence(cfg, existing, now)
			existing.MergeCount++
			absorbInput(existing, in, priority)
			result = existing
			return q.SaveTopic(existing)
		}

		mentioned, err := q.FindMentionedTopic(in.ConversationID, key)
		if err != nil {
			return err
		}
		if mentioned != nil {
			reEvidence(cfg, mentioned, now)
			mentioned.Pursuit = nil
			setStatus(mentioned, store.StatusPending)
			mentioned.BasePriority = priority
			absorbInput(mentioned, in, priority)
			result = mentioned
			return q.SaveTopic(mentioned)
		}

		t := &store.Topic{
			ConversationID:  in.ConversationID,
			Type:            in.Type,
			Family:          family,
			Title:           truncateClean(in.Title, 200),
			Content:         in.Content,
			Source:          in.Source,
			NoveltyKey:      key,
			BasePriority:    priority,
			DynamicPriority: priority,
			DecayRate:       cfg.DecayRates[string(in.Type)],
			Status:          store.StatusPending,
			CreatedAt:       now,
			ExpiresAt:       in.ExpiresAt,
			LastEvaluatedAt: now,
			LastEvidenceAt:  now,
		}
		result = t
		return q.InsertTopic(t)
	})
	if err != nil {
		return nil, fmt.Errorf("submit topic: %w", err)
	}

	e.logger.Debug("topic submitted",
		zap.String("conversation_id", result.ConversationID),
		zap.String("topic_id", result.ID),
		zap.String("type", string(result.Type)),
		zap.String("novelty_key", result.NoveltyKey),
		zap.String("status", string(result.Status)))
	return result, nil
}

// absorbInput folds a repeated submission into an existing topic.
func absorbInput(t *store.Topic, in TopicInput, priority float64) {
	t.BasePriority = math.Max(t.BasePriority, priority)
	if in.Content != "" {
		t.Content = in.Content
	}
	if in.Type == store.TypeCritical {
		promoteCritical(t)
	}
	if !in.ExpiresAt.IsZero() && !t.ExpiresAt.IsZero() && in.ExpiresAt.After(t.ExpiresAt) {
		t.ExpiresAt = in.ExpiresAt
	}
}

// promoteCritical turns t into a critical topic: no decay, and a running
// pursuit loses its budget and deadline.
func promoteCritical(t *store.Topic) {
	t.Type = store.TypeCritical
	t.DecayRate = 0
	if t.Pursuit != nil {
		t.Pursuit.AttemptBudget = 0
		t.Pursuit.ExpiresAt = time.Time{}
	}
}

// maintainTopics is the per-tick Topic Store pass. It runs before the
// gates so decay and expiry advance while a conversation is gated.
func (e *Engine) maintainTopics(s *snapshot) {
	cfg := e.Config.Topics
	now := s.now
	snoozed := s.state.Snoozed(now)

	for _, t := range s.topics {
		switch {
		case t.Expired(now):
			setStatus(t, store.StatusExpired)
			s.touch(t)
		case expirePursuit(t, now):
			s.touch(t)
		case t.Status == store.StatusSnoozed && !snoozed:
			// Counters are kept; the topic competes again from pending.
			setStatus(t, store.StatusPending)
			s.touch(t)
		}
	}

	mergeTopics(cfg, s)

	referenced := s.mostRecentlyReferenced()
	for _, t := range s.topics {
		if !t.Status.Live() {
			continue
		}
		override := t.Status.Pursued() && referenced != nil && referenced.ID != t.ID
		recomputePriority(cfg, t, s.affinity[t.Family], override, now)
		s.touch(t)
	}

	cleanupAfterPause(cfg, s)
}

// mergeTopics folds duplicates within the snapshot's conversation into one
// canonical topic. Duplicates share a novelty key or have near-identical
// titles. The pursued topic is canonical, else the oldest.
func mergeTopics(cfg config.PriorityConfig, s *snapshot) {
	for i, a := range s.topics {
		if !a.Status.Live() {
			continue
		}
		for _, b := range s.topics[i+1:] {
			if !b.Status.Live() || !duplicateTopics(cfg, a, b) {
				continue
			}
			canon, dup := a, b
			if b.Status.Pursued() && !a.Status.Pursued() {
				canon, dup = b, a
			}
			absorb(cfg, canon, dup, s.now)
			s.touch(canon)
			s.touch(dup)
			if dup == a {
				break
			}
		}
	}
}

func duplicateTopics(cfg config.PriorityConfig, a, b *store.Topic) bool {
	if a.ConversationID != b.ConversationID {
		return false
	}
	if a.NoveltyKey == b.NoveltyKey {
		return true
	}
	return cfg.MergeTitleSimilarity > 0 && textSimilarity(a.Title, b.Title) >= cfg.MergeTitleSimilarity
}

// absorb merges dup into canon and retires dup.
func absorb(cfg config.PriorityConfig, canon, dup *store.Topic, now time.Time) {
	canon.MergeCount += 1 + dup.MergeCount
	canon.IgnoreCount += dup.IgnoreCount
	canon.NegativeFeedbackScore = math.Max(canon.NegativeFeedbackScore, dup.NegativeFeedbackScore)
	canon.BasePriority = math.Max(canon.BasePriority, dup.BasePriority)
	if dup.LastEvidenceAt.After(canon.LastEvidenceAt) {
		reEvidence(cfg, canon, dup.LastEvidenceAt)
	}
	if dup.LastReferencedAt.After(canon.LastReferencedAt) {
		canon.LastReferencedAt = dup.LastReferencedAt
	}
	if !canon.ExpiresAt.IsZero() && !dup.ExpiresAt.IsZero() && dup.ExpiresAt.After(canon.ExpiresAt) {
		canon.ExpiresAt = dup.ExpiresAt
	}
	if canon.Content == "" {
		canon.Content = dup.Content
	}
	if dup.Type == store.TypeCritical {
		promoteCritical(canon)
	}

	setStatus(dup, store.StatusMerged)
	dup.MergedInto = canon.ID
	dup.LastEvaluatedAt = now
}

// mostRecentlyReferenced returns the live topic the user referenced last.
func (s *snapshot) mostRecentlyReferenced() *store.Topic {
	var best *store.Topic
	for _, t := range s.topics {
		if !t.Status.Live() || t.LastReferencedAt.IsZero() {
			continue
		}
		if best == nil || t.LastReferencedAt.After(best.LastReferencedAt) {
			best = t
		}
	}
	return best
}

// cleanupAfterPause runs once per long user silence: low-priority pending
// topics are archived and the short-term counters reset. Suppressions and
// affinities are untouched.
func cleanupAfterPause(cfg config.PriorityConfig, s *snapshot) {
	st := s.state
	last := st.LastUserInteractionAt
	if cfg.LongPause <= 0 || last.IsZero() || s.now.Sub(last) < cfg.LongPause {
		return
	}
	if st.PauseCleanedAt.After(last) {
		return
	}

	for _, t := range archiveCandidates(cfg, s.topics) {
		setStatus(t, store.StatusStaleAfterPause)
		s.touch(t)
	}
	st.UnansweredProactiveCount = 0
	st.FatigueDamper = 0
	st.PauseCleanedAt = s.now
}

// archiveCandidates returns the pending non-critical topics below the
// archive threshold.
func archiveCandidates(cfg config.PriorityConfig, topics []*store.Topic) []*store.Topic {
	var out []*store.Topic
	for _, t := range topics {
		if t.Status == store.StatusPending && t.Type != store.TypeCritical && t.DynamicPriority < cfg.ArchiveBelow {
			out = append(out, t)
		}
	}
	return out
}
