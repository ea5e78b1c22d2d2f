package engine

import (
	"math"
	"time"

	"github.com/lazypower/wind/internal/config"
	"github.com/lazypower/wind/internal/store"
)

// recomputePriority advances t's decay to now and derives its dynamic
// priority:
//
//	dynamic = base + recency + interest + novelty + persistence
//	        - decay - fatigue - negative_feedback - override - repeated_attempt
//
// clamped to [cfg.Min, cfg.Max]. Calling it twice for the same now is a
// no-op the second time.
func recomputePriority(cfg config.PriorityConfig, t *store.Topic, aff *store.Affinity, override bool, now time.Time) {
	if now.After(t.LastEvaluatedAt) {
		t.DecayPenalty += t.DecayRate * now.Sub(t.LastEvaluatedAt).Hours()
		t.LastEvaluatedAt = now
	}

	p := t.BasePriority
	p += linearBoost(cfg.RecencyBoost, now.Sub(t.LastEvidenceAt), cfg.RecencyWindow)
	p += linearBoost(cfg.NoveltyBoost, now.Sub(t.CreatedAt), cfg.NoveltyWindow)
	if aff != nil {
		p += cfg.InterestWeight * aff.InterestWeight
		p -= cfg.RejectionWeight * aff.RejectionWeight
	}
	if t.Status == store.StatusActivePursuit || t.Status == store.StatusArmed {
		p += cfg.PersistenceBoost
	}
	p -= t.DecayPenalty
	p -= cfg.FatiguePerIgnore * float64(t.IgnoreCount)
	p -= cfg.NegativeFeedbackWeight * t.NegativeFeedbackScore
	if override {
		p -= cfg.OverridePenalty
	}
	if t.Pursuit != nil {
		p -= cfg.RepeatedAttemptPenalty * float64(t.Pursuit.AttemptCount)
	}

	t.DynamicPriority = clamp(p, cfg.Min, cfg.Max)
}

// reEvidence records fresh support for t: the recency boost restarts and
// only a fraction of the accumulated decay is kept.
func reEvidence(cfg config.PriorityConfig, t *store.Topic, now time.Time) {
	t.DecayPenalty *= cfg.ReEvidenceRetain
	if now.After(t.LastEvidenceAt) {
		t.LastEvidenceAt = now
	}
}

// linearBoost is boost at age zero, falling linearly to 0 at window.
func linearBoost(boost float64, age, window time.Duration) float64 {
	if window <= 0 || age >= window {
		return 0
	}
	if age < 0 {
		age = 0
	}
	return boost * (1 - float64(age)/float64(window))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(v, hi))
}
