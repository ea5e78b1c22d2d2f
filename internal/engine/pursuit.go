package engine

import (
	"time"

	"github.com/lazypower/wind/internal/config"
	"github.com/lazypower/wind/internal/store"
)

// budgetFor returns the attempt budget of a topic type. Critical topics
// are unbudgeted (0).
func budgetFor(cfg config.PursuitConfig, typ store.TopicType) int {
	switch typ {
	case store.TypeCritical:
		return 0
	case store.TypeDiscovery:
		return cfg.DiscoveryBudget
	default:
		return cfg.Budget
	}
}

func ttlFor(cfg config.PursuitConfig, typ store.TopicType) time.Duration {
	switch typ {
	case store.TypeCritical:
		return 0
	case store.TypeDiscovery:
		return cfg.DiscoveryTTL
	default:
		return cfg.TTL
	}
}

// arm moves a freshly selected topic to armed. A topic resuming after a
// snooze keeps its counters; the topic pass has already expired it if the
// pursuit lapsed in the meantime.
func arm(cfg config.PursuitConfig, t *store.Topic, now time.Time) {
	if t.Pursuit == nil {
		t.Pursuit = &store.PursuitState{AttemptBudget: budgetFor(cfg, t.Type)}
		if ttl := ttlFor(cfg, t.Type); ttl > 0 {
			t.Pursuit.ExpiresAt = now.Add(ttl)
		}
	}
	if t.Status != store.StatusActivePursuit {
		setStatus(t, store.StatusArmed)
	}
}

// activate marks the start of a draft attempt.
func activate(t *store.Topic) {
	setStatus(t, store.StatusActivePursuit)
}

// recordFailure counts a failed attempt, schedules the retry and expires
// the topic once its budget is spent.
func recordFailure(cfg config.PursuitConfig, t *store.Topic, now time.Time) {
	p := t.Pursuit
	p.FailureCount++
	p.AttemptCount++
	p.LastAttemptAt = now
	p.NextAttemptAt = now.Add(backoff(cfg, p.FailureCount))
	if budgetSpent(p) {
		setStatus(t, store.StatusExpired)
	}
}

// recordSuccess closes the selection cycle after a confirmed send.
func recordSuccess(t *store.Topic, now time.Time) {
	p := t.Pursuit
	p.AttemptCount++
	p.LastAttemptAt = now
	p.NextAttemptAt = time.Time{}
	setStatus(t, store.StatusMentioned)
}

// expirePursuit ends a pursuit whose TTL passed or whose budget is spent.
// A topic that was parked by a snooze keeps its pursuit, so it is checked
// as well and cannot resume past its deadline.
func expirePursuit(t *store.Topic, now time.Time) bool {
	if t.Pursuit == nil {
		return false
	}
	switch t.Status {
	case store.StatusPending, store.StatusArmed, store.StatusActivePursuit, store.StatusSnoozed:
	default:
		return false
	}
	p := t.Pursuit
	if budgetSpent(p) || (!p.ExpiresAt.IsZero() && !p.ExpiresAt.After(now)) {
		setStatus(t, store.StatusExpired)
		return true
	}
	return false
}

func budgetSpent(p *store.PursuitState) bool {
	return p.AttemptBudget > 0 && p.AttemptCount >= p.AttemptBudget
}

// backingOff reports whether t is waiting for its next attempt slot.
func backingOff(t *store.Topic, now time.Time) bool {
	return t.Pursuit != nil && now.Before(t.Pursuit.NextAttemptAt)
}

// backoff is base * 2^(n-1), capped at max.
func backoff(cfg config.PursuitConfig, failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := cfg.BackoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= cfg.BackoffMax {
			return cfg.BackoffMax
		}
	}
	if cfg.BackoffMax > 0 && d > cfg.BackoffMax {
		return cfg.BackoffMax
	}
	return d
}

// setStatus keeps the topic status and the pursuit status in step.
func setStatus(t *store.Topic, s store.TopicStatus) {
	t.Status = s
	if t.Pursuit != nil {
		t.Pursuit.Status = s
	}
}

// selectable reports whether t may be picked this tick, ignoring backoff.
func selectable(t *store.Topic) bool {
	switch t.Status {
	case store.StatusPending, store.StatusArmed, store.StatusActivePursuit:
		return true
	}
	return false
}
