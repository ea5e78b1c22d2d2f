package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/wind/internal/store"
)

// referenceOverlap is the share of a topic title's keywords a user message
// must contain to count as referring to the topic.
const referenceOverlap = 0.5

// RecordUserMessage ingests an inbound user message. It resets the
// unanswered streak, eases fatigue, credits engagement to the topic that was
// answered, re-evidences topics the user refers to and applies feedback
// phrases such as "stop mentioning that" or "leave me alone".
func (e *Engine) RecordUserMessage(ctx context.Context, conversationID, text string, at time.Time) error {
	conversationID = strings.TrimSpace(conversationID)
	text = strings.TrimSpace(text)
	if conversationID == "" || text == "" {
		return fmt.Errorf("record user message: conversation id and text are required")
	}
	now := e.now(at)

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
		answered := st.UnansweredProactiveCount > 0

		if now.After(st.LastUserInteractionAt) {
			st.LastUserInteractionAt = now
		}
		st.UnansweredProactiveCount = 0
		st.FatigueDamper /= 2
		if err := q.SaveWindState(st); err != nil {
			return err
		}

		last, err := q.LastProactive(conversationID)
		if err != nil {
			return err
		}
		var lastTopic *store.Topic
		if last != nil && last.TopicID != "" {
			if lastTopic, err = q.GetTopic(last.TopicID); err != nil {
				return err
			}
		}
		if answered && lastTopic != nil {
			a, err := q.GetAffinity(conversationID, lastTopic.Family)
			if err != nil {
				return err
			}
			a.EngagementCount++
			a.LastPositiveAt = now
			if err := q.SaveAffinity(a); err != nil {
				return err
			}
		}

		if err := e.markReferenced(q, conversationID, text, now); err != nil {
			return err
		}

		if err := q.AddMessage(&store.Message{
			ConversationID: conversationID,
			Direction:      store.Inbound,
			Kind:           store.KindChat,
			Text:           text,
			CreatedAt:      now,
		}); err != nil {
			return err
		}

		p, ok := e.detectFeedback(text)
		if !ok {
			return nil
		}
		fb := Feedback{ConversationID: conversationID, Scope: p.scope, Polarity: p.polarity}
		if p.scope == ScopeTopic {
			if lastTopic == nil {
				return nil
			}
			fb.TopicID = lastTopic.ID
		}
		return e.applyFeedback(q, fb, now)
	})
	if err != nil {
		return fmt.Errorf("record user message: %w", err)
	}
	return nil
}

// markReferenced re-evidences the live topics whose title the text refers to.
func (e *Engine) markReferenced(q *store.Queries, conversationID, text string, now time.Time) error {
	live, err := q.ListLiveTopics(conversationID)
	if err != nil {
		return err
	}
	words := keywordSet(text)
	for i := range live {
		t := &live[i]
		if keywordOverlap(keywords(t.Title), words) < referenceOverlap {
			continue
		}
		reEvidence(e.Config.Topics, t, now)
		t.LastReferencedAt = now
		if err := q.SaveTopic(t); err != nil {
			return err
		}
		e.logger.Debug("topic referenced",
			zap.String("conversation_id", conversationID),
			zap.String("topic_id", t.ID))
	}
	return nil
}

// ImportMessages loads a chat history into the conversation. Imported
// messages move the interaction timestamps forward but never count as
// unanswered proactive sends. It returns how many messages were stored.
func (e *Engine) ImportMessages(ctx context.Context, conversationID string, msgs []store.Message) (int, error) {
	if conversationID == "" {
		return 0, fmt.Errorf("import messages: conversation id is required")
	}

	unlock := e.locks.lock(conversationID)
	defer unlock()

	n := 0
	err := e.DB.InTx(func(q *store.Queries) error {
		st, err := q.GetWindState(conversationID)
		if err != nil {
			return err
		}
		if st == nil {
			st = &store.WindState{ConversationID: conversationID}
		}
		for i := range msgs {
			m := msgs[i]
			if strings.TrimSpace(m.Text) == "" {
				continue
			}
			m.ConversationID = conversationID
			if m.Kind == "" {
				m.Kind = store.KindChat
			}
			if err := q.AddMessage(&m); err != nil {
				return err
			}
			n++
			switch {
			case m.Direction == store.Inbound && m.CreatedAt.After(st.LastUserInteractionAt):
				st.LastUserInteractionAt = m.CreatedAt
			case m.Direction == store.Outbound && m.CreatedAt.After(st.LastOutboundAt):
				st.LastOutboundAt = m.CreatedAt
			}
		}
		return q.SaveWindState(st)
	})
	if err != nil {
		return 0, fmt.Errorf("import messages: %w", err)
	}
	e.logger.Info("imported messages",
		zap.String("conversation_id", conversationID),
		zap.Int("count", n))
	return n, nil
}
