package engine

import (
	"sort"
	"time"

	"github.com/lazypower/wind/internal/store"
)

// Scan returns the conversations eligible for evaluation at now, least
// recently contacted first. It has no side effects.
func Scan(now time.Time, convs []store.Conversation, states map[string]store.WindState) []string {
	type entry struct {
		id   string
		last time.Time
	}
	var eligible []entry
	for i := range convs {
		c := &convs[i]
		st := states[c.ID]
		if !isEligible(c, &st, now) {
			continue
		}
		eligible = append(eligible, entry{id: c.ID, last: st.LastProactiveSentAt})
	}

	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].last.Equal(eligible[j].last) {
			return eligible[i].last.Before(eligible[j].last)
		}
		return eligible[i].id < eligible[j].id
	})

	ids := make([]string, len(eligible))
	for i, e := range eligible {
		ids[i] = e.id
	}
	return ids
}

// isEligible is the scan condition, re-checked by the conversation gate.
func isEligible(c *store.Conversation, st *store.WindState, now time.Time) bool {
	if c == nil || !c.WindEnabled || !c.Allowed {
		return false
	}
	return st == nil || !st.Snoozed(now)
}
