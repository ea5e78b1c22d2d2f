package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/wind/internal/store"
)

// ErrTopicClosed is returned when an admin action targets a topic that is
// already in a terminal state.
var ErrTopicClosed = errors.New("topic is closed")

// SnoozeConversation holds all proactive messages until the given time.
// A zero or past until lifts the snooze.
func (e *Engine) SnoozeConversation(ctx context.Context, conversationID string, until time.Time) error {
	now := e.Clock.Now()

	unlock := e.locks.lock(conversationID)
	defer unlock()

	err := e.DB.InTx(func(q *store.Queries) error {
		st, err := q.GetWindState(conversationID)
		if err != nil {
			return err
		}
		if st == nil {
			st = &store.WindState{ConversationID: conversationID}
		}
		if !until.After(now) {
			st.SnoozeUntil = time.Time{}
			return q.SaveWindState(st)
		}
		st.SnoozeUntil = until
		if err := q.SaveWindState(st); err != nil {
			return err
		}
		return snoozePursued(q, conversationID)
	})
	if err != nil {
		return fmt.Errorf("snooze conversation: %w", err)
	}
	e.logger.Info("conversation snoozed",
		zap.String("conversation_id", conversationID),
		zap.Time("until", until))
	return nil
}

// AcknowledgeTopic marks a topic as already handled, as if it had been sent.
func (e *Engine) AcknowledgeTopic(ctx context.Context, topicID string) (*store.Topic, error) {
	return e.closeTopic(topicID, store.StatusMentioned)
}

// DismissTopic retires a topic for good.
func (e *Engine) DismissTopic(ctx context.Context, topicID string) (*store.Topic, error) {
	return e.closeTopic(topicID, store.StatusDismissed)
}

func (e *Engine) closeTopic(topicID string, status store.TopicStatus) (*store.Topic, error) {
	t, err := e.DB.GetTopic(topicID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("topic %s: %w", topicID, store.ErrNotFound)
	}

	unlock := e.locks.lock(t.ConversationID)
	defer unlock()

	err = e.DB.InTx(func(q *store.Queries) error {
		// Re-read under the conversation lock.
		cur, err := q.GetTopic(topicID)
		if err != nil {
			return err
		}
		t = cur
		ok := t.Status.Live() || (status == store.StatusDismissed && t.Status == store.StatusMentioned)
		if !ok {
			return fmt.Errorf("topic %s is %s: %w", topicID, t.Status, ErrTopicClosed)
		}
		setStatus(t, status)
		return q.SaveTopic(t)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("topic closed",
		zap.String("conversation_id", t.ConversationID),
		zap.String("topic_id", t.ID),
		zap.String("status", string(status)))
	return t, nil
}

// ArchiveStaleTopics archives a conversation's low-priority pending topics
// right away instead of waiting for a long pause. It returns how many were
// archived.
func (e *Engine) ArchiveStaleTopics(ctx context.Context, conversationID string) (int, error) {
	cfg := e.Config.Topics
	now := e.Clock.Now()

	unlock := e.locks.lock(conversationID)
	defer unlock()

	n := 0
	err := e.DB.InTx(func(q *store.Queries) error {
		live, err := q.ListLiveTopics(conversationID)
		if err != nil {
			return err
		}
		affinity, err := q.ListAffinities(conversationID)
		if err != nil {
			return err
		}
		topics := make([]*store.Topic, len(live))
		for i := range live {
			t := &live[i]
			recomputePriority(cfg, t, affinity[t.Family], false, now)
			topics[i] = t
		}
		for _, t := range archiveCandidates(cfg, topics) {
			setStatus(t, store.StatusStaleAfterPause)
			if err := q.SaveTopic(t); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("archive stale topics: %w", err)
	}
	e.logger.Info("archived stale topics",
		zap.String("conversation_id", conversationID),
		zap.Int("count", n))
	return n, nil
}
