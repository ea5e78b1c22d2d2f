package engine

import (
	"fmt"
	"time"

	"github.com/lazypower/wind/internal/config"
	"github.com/lazypower/wind/internal/store"
)

// Gate names double as skip reasons.
const (
	GateWindDisabled  = "wind_disabled"
	GateIneligible    = "conversation_ineligible"
	GateQuietHours    = "quiet_hours"
	GateCooldown      = "cooldown"
	GateDailyCap      = "daily_cap_reached"
	GateMaxUnanswered = "max_unanswered"
	GateMinSilence    = "min_silence"
	GateHealth        = "health_degraded"
)

// gateInput is everything the hard gates look at.
type gateInput struct {
	cfg      config.WindConfig
	conv     *store.Conversation
	state    *store.WindState
	loc      *time.Location
	now      time.Time
	killed   bool
	degraded bool
	critical bool // a selectable critical topic exists
}

type gate struct {
	name string
	pass func(in *gateInput) (bool, error)
}

// gates run in this order, cheapest first, stopping at the first failure.
var gates = []gate{
	{GateWindDisabled, func(in *gateInput) (bool, error) {
		return in.cfg.Enabled && !in.killed, nil
	}},
	{GateIneligible, func(in *gateInput) (bool, error) {
		return isEligible(in.conv, in.state, in.now), nil
	}},
	{GateQuietHours, func(in *gateInput) (bool, error) {
		if in.critical {
			return true, nil
		}
		start, end, err := quietHours(in.cfg.Gates, in.conv)
		if err != nil {
			return false, err
		}
		return !inWindow(in.now.In(in.loc).Hour(), start, end), nil
	}},
	{GateCooldown, func(in *gateInput) (bool, error) {
		last := in.state.LastProactiveSentAt
		return last.IsZero() || in.now.Sub(last) >= in.cfg.Gates.Cooldown, nil
	}},
	{GateDailyCap, func(in *gateInput) (bool, error) {
		limit, err := dailyCap(in.cfg.Gates, in.conv)
		if err != nil {
			return false, err
		}
		return in.state.ProactiveSentToday < limit, nil
	}},
	{GateMaxUnanswered, func(in *gateInput) (bool, error) {
		return in.state.UnansweredProactiveCount < in.cfg.Gates.MaxUnansweredStreak, nil
	}},
	{GateMinSilence, func(in *gateInput) (bool, error) {
		last := in.state.LastUserInteractionAt
		return last.IsZero() || in.now.Sub(last) >= in.cfg.Gates.MinSilence, nil
	}},
	{GateHealth, func(in *gateInput) (bool, error) {
		return !in.degraded && !in.cfg.Gates.Degraded, nil
	}},
}

// evaluateGates returns the name of the first failing gate, or "" when all
// pass. An error means the gate could not be evaluated at all.
func evaluateGates(in *gateInput) (string, error) {
	if in.state == nil {
		return "", fmt.Errorf("no wind state")
	}
	for _, g := range gates {
		ok, err := g.pass(in)
		if err != nil {
			return g.name, fmt.Errorf("gate %s: %w", g.name, err)
		}
		if !ok {
			return g.name, nil
		}
	}
	return "", nil
}

func quietHours(cfg config.GateConfig, conv *store.Conversation) (int, int, error) {
	start, end := cfg.QuietStartHour, cfg.QuietEndHour
	if conv != nil && conv.QuietStart != nil {
		start = *conv.QuietStart
	}
	if conv != nil && conv.QuietEnd != nil {
		end = *conv.QuietEnd
	}
	if start < 0 || start > 23 || end < 0 || end > 23 {
		return 0, 0, fmt.Errorf("quiet hours %d-%d out of range", start, end)
	}
	return start, end, nil
}

func dailyCap(cfg config.GateConfig, conv *store.Conversation) (int, error) {
	limit := cfg.DailyCap
	if conv != nil && conv.DailyCap != nil {
		limit = *conv.DailyCap
	}
	if limit < 0 {
		return 0, fmt.Errorf("daily cap %d is negative", limit)
	}
	return limit, nil
}

// inWindow reports whether hour falls in [start, end), wrapping past
// midnight when start > end. An empty window (start == end) never matches.
func inWindow(hour, start, end int) bool {
	switch {
	case start == end:
		return false
	case start < end:
		return hour >= start && hour < end
	default:
		return hour >= start || hour < end
	}
}

// dayBucket is the local calendar date used for the daily cap.
func dayBucket(now time.Time, loc *time.Location) string {
	return now.In(loc).Format("2006-01-02")
}

// rollDay resets the daily counter when the local date has changed.
func rollDay(st *store.WindState, now time.Time, loc *time.Location) bool {
	bucket := dayBucket(now, loc)
	if st.DayBucket == bucket {
		return false
	}
	st.DayBucket = bucket
	st.ProactiveSentToday = 0
	return true
}
