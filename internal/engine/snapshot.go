package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/lazypower/wind/internal/store"
)

// snapshot is one conversation's state, loaded under its lock, mutated in
// memory and written back in a single transaction.
type snapshot struct {
	now   time.Time
	conv  *store.Conversation // nil when the policy layer never registered it
	state *store.WindState
	loc   *time.Location

	topics        []*store.Topic // live topics, oldest first
	lastTopic     *store.Topic   // topic of the last proactive message, if any
	affinity      map[string]*store.Affinity
	recent        []store.Message
	lastProactive *store.Message
	outbound      int // outbound messages inside the engagement window

	inserted []*store.Topic
	dirty    map[string]*store.Topic
	dirtyAff map[string]bool
	log      *store.ImpulseLog
	outbox   []*store.Message
}

func (e *Engine) load(convID string, now time.Time) (*snapshot, error) {
	s := &snapshot{
		now:      now,
		dirty:    make(map[string]*store.Topic),
		dirtyAff: make(map[string]bool),
	}
	var err error

	if s.conv, err = e.DB.GetConversation(convID); err != nil {
		return nil, err
	}
	if s.state, err = e.DB.GetWindState(convID); err != nil {
		return nil, err
	}
	if s.state == nil {
		s.state = &store.WindState{ConversationID: convID}
	}

	live, err := e.DB.ListLiveTopics(convID)
	if err != nil {
		return nil, err
	}
	s.topics = make([]*store.Topic, len(live))
	for i := range live {
		s.topics[i] = &live[i]
	}

	if s.affinity, err = e.DB.ListAffinities(convID); err != nil {
		return nil, err
	}
	if s.recent, err = e.DB.RecentMessages(convID, e.Config.Draft.ContextWindow); err != nil {
		return nil, err
	}
	if s.lastProactive, err = e.DB.LastProactive(convID); err != nil {
		return nil, err
	}
	if s.lastProactive != nil && s.lastProactive.TopicID != "" {
		if s.lastTopic = s.topic(s.lastProactive.TopicID); s.lastTopic == nil {
			if s.lastTopic, err = e.DB.GetTopic(s.lastProactive.TopicID); err != nil {
				return nil, err
			}
		}
	}
	if s.outbound, err = e.DB.CountOutboundSince(convID, now.Add(-e.Config.Impulse.EngagementWindow)); err != nil {
		return nil, err
	}
	return s, nil
}

// commit writes every change in one transaction. On error nothing is kept.
func (e *Engine) commit(s *snapshot) error {
	err := e.DB.InTx(func(q *store.Queries) error {
		if err := q.SaveWindState(s.state); err != nil {
			return err
		}
		for _, t := range s.inserted {
			if err := q.InsertTopic(t); err != nil {
				return err
			}
			delete(s.dirty, t.ID)
		}
		ids := make([]string, 0, len(s.dirty))
		for id := range s.dirty {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if err := q.SaveTopic(s.dirty[id]); err != nil {
				return err
			}
		}
		families := make([]string, 0, len(s.dirtyAff))
		for f := range s.dirtyAff {
			families = append(families, f)
		}
		sort.Strings(families)
		for _, f := range families {
			if err := q.SaveAffinity(s.affinity[f]); err != nil {
				return err
			}
		}
		if s.log != nil {
			if err := q.AppendImpulseLog(s.log); err != nil {
				return err
			}
		}
		for _, m := range s.outbox {
			if err := q.AddMessage(m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit %s: %w", s.state.ConversationID, err)
	}
	return nil
}

// commitSent writes only what a confirmed send changed: the wind state, the
// sent topic and the outbound message.
func (e *Engine) commitSent(s *snapshot, topicID string) error {
	sent := s.topic(topicID)
	return e.DB.InTx(func(q *store.Queries) error {
		if err := q.SaveWindState(s.state); err != nil {
			return err
		}
		if sent != nil {
			if err := q.SaveTopic(sent); err != nil {
				return err
			}
		}
		for _, m := range s.outbox {
			if err := q.AddMessage(m); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *snapshot) touch(t *store.Topic) {
	s.dirty[t.ID] = t
}

// topic finds a loaded topic by id.
func (s *snapshot) topic(id string) *store.Topic {
	for _, t := range s.topics {
		if t.ID == id {
			return t
		}
	}
	if s.lastTopic != nil && s.lastTopic.ID == id {
		return s.lastTopic
	}
	return nil
}

// aff returns the affinity for a family, creating a zero row in memory.
func (s *snapshot) aff(family string) *store.Affinity {
	a := s.affinity[family]
	if a == nil {
		a = &store.Affinity{ConversationID: s.state.ConversationID, Family: family}
		s.affinity[family] = a
	}
	return a
}

func (s *snapshot) touchAff(family string) {
	s.aff(family)
	s.dirtyAff[family] = true
}

// hasCritical reports whether a critical topic could be selected now.
func (s *snapshot) hasCritical() bool {
	for _, t := range s.topics {
		if t.Type == store.TypeCritical && selectable(t) && !t.Expired(s.now) && !backingOff(t, s.now) {
			return true
		}
	}
	return false
}

// userWords collects keywords from the recent inbound messages.
func (s *snapshot) userWords() map[string]bool {
	words := make(map[string]bool)
	for _, m := range s.recent {
		if m.Direction == store.Inbound {
			for w := range keywordSet(m.Text) {
				words[w] = true
			}
		}
	}
	return words
}
