package engine

import (
	"sort"
	"time"

	"github.com/lazypower/wind/internal/config"
	"github.com/lazypower/wind/internal/store"
)

// Selector skip reasons.
const (
	SkipNoViableTopic = "no_viable_topic"
	SkipAwaitingRetry = "awaiting_retry"
)

type scoredTopic struct {
	topic *store.Topic
	score float64
}

// selectTopic picks the single topic to raise. Critical topics win over all
// others. userWords holds the keywords of recent inbound messages. When
// nothing is viable the returned reason says why.
func selectTopic(cfg config.SelectorConfig, topics []*store.Topic, aff map[string]*store.Affinity,
	userWords map[string]bool, now time.Time) (*store.Topic, string) {

	var pool []scoredTopic
	waiting := 0
	for _, t := range topics {
		if !selectable(t) || t.Expired(now) {
			continue
		}
		if backingOff(t, now) {
			waiting++
			continue
		}
		if t.Type != store.TypeCritical {
			if a := aff[t.Family]; a != nil && a.InCooldown(now) {
				continue
			}
		}
		pool = append(pool, scoredTopic{topic: t, score: topicScore(cfg, t, userWords, now)})
	}

	pool = dedupeByKey(pool)

	if len(pool) == 0 {
		if waiting > 0 {
			return nil, SkipAwaitingRetry
		}
		return nil, SkipNoViableTopic
	}

	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		ac, bc := a.topic.Type == store.TypeCritical, b.topic.Type == store.TypeCritical
		if ac != bc {
			return ac
		}
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.topic.CreatedAt.Equal(b.topic.CreatedAt) {
			return a.topic.CreatedAt.Before(b.topic.CreatedAt)
		}
		return a.topic.ID < b.topic.ID
	})

	return pool[0].topic, ""
}

// dedupeByKey keeps one candidate per novelty key: the pursued topic, else
// the oldest. The topic pass merges duplicates before selection, so this
// only matters when two rows slipped in between passes.
func dedupeByKey(pool []scoredTopic) []scoredTopic {
	idx := make(map[string]int, len(pool))
	out := make([]scoredTopic, 0, len(pool))
	for _, c := range pool {
		key := c.topic.NoveltyKey
		i, seen := idx[key]
		if key == "" || !seen {
			idx[key] = len(out)
			out = append(out, c)
			continue
		}
		if canonicalFirst(c.topic, out[i].topic) {
			out[i] = c
		}
	}
	return out
}

func canonicalFirst(a, b *store.Topic) bool {
	if ap, bp := a.Status.Pursued(), b.Status.Pursued(); ap != bp {
		return ap
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// topicScore = dynamic + recency_bonus + relevance_bonus - staleness.
func topicScore(cfg config.SelectorConfig, t *store.Topic, userWords map[string]bool, now time.Time) float64 {
	s := t.DynamicPriority
	s += linearBoost(cfg.RecencyBonus, now.Sub(t.LastEvidenceAt), cfg.RecencyWindow)
	if len(userWords) > 0 {
		s += cfg.RelevanceWeight * keywordOverlap(keywords(t.Title+" "+t.Content), userWords)
	}
	if age := now.Sub(t.CreatedAt); age > 0 {
		s -= cfg.StalenessPerDay * age.Hours() / 24
	}
	return s
}
