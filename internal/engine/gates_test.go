package engine

import (
	"testing"
	"time"

	"github.com/lazypower/wind/internal/config"
	"github.com/lazypower/wind/internal/store"
)

func TestInWindow(t *testing.T) {
	tests := []struct {
		hour, start, end int
		want             bool
	}{
		{23, 22, 8, true},
		{3, 22, 8, true},
		{8, 22, 8, false},
		{12, 22, 8, false},
		{10, 9, 17, true},
		{17, 9, 17, false},
		{5, 5, 5, false},
	}
	for _, tt := range tests {
		if got := inWindow(tt.hour, tt.start, tt.end); got != tt.want {
			t.Errorf("inWindow(%d, %d, %d) = %v, want %v", tt.hour, tt.start, tt.end, got, tt.want)
		}
	}
}

func baseGateInput() *gateInput {
	return &gateInput{
		cfg:   config.DefaultWind(),
		conv:  &store.Conversation{ID: "c1", WindEnabled: true, Allowed: true},
		state: &store.WindState{ConversationID: "c1", LastUserInteractionAt: t0.Add(-2 * time.Hour)},
		loc:   time.UTC,
		now:   t0,
	}
}

func TestEvaluateGatesOrder(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *gateInput)
		want   string
	}{
		{"all pass", func(in *gateInput) {}, ""},
		{"disabled", func(in *gateInput) { in.cfg.Enabled = false }, GateWindDisabled},
		{"killed", func(in *gateInput) { in.killed = true }, GateWindDisabled},
		{"not allowed", func(in *gateInput) { in.conv.Allowed = false }, GateIneligible},
		{"snoozed", func(in *gateInput) { in.state.SnoozeUntil = t0.Add(time.Hour) }, GateIneligible},
		{"quiet", func(in *gateInput) { in.now = t0.Add(11 * time.Hour) }, GateQuietHours},
		{"quiet but critical", func(in *gateInput) {
			in.now = t0.Add(11 * time.Hour)
			in.critical = true
		}, ""},
		{"cooldown", func(in *gateInput) { in.state.LastProactiveSentAt = t0.Add(-time.Hour) }, GateCooldown},
		{"cap", func(in *gateInput) { in.state.ProactiveSentToday = 3 }, GateDailyCap},
		{"cap override", func(in *gateInput) {
			n := 5
			in.conv.DailyCap = &n
			in.state.ProactiveSentToday = 3
		}, ""},
		{"unanswered", func(in *gateInput) { in.state.UnansweredProactiveCount = 2 }, GateMaxUnanswered},
		{"silence", func(in *gateInput) { in.state.LastUserInteractionAt = t0.Add(-10 * time.Minute) }, GateMinSilence},
		{"degraded", func(in *gateInput) { in.degraded = true }, GateHealth},
		{"degraded by config", func(in *gateInput) { in.cfg.Gates.Degraded = true }, GateHealth},
		{"first failure wins", func(in *gateInput) {
			in.state.ProactiveSentToday = 3
			in.degraded = true
		}, GateDailyCap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseGateInput()
			tt.mutate(in)
			got, err := evaluateGates(in)
			if err != nil {
				t.Fatalf("evaluateGates: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEvaluateGatesErrors(t *testing.T) {
	in := baseGateInput()
	bad := 24
	in.conv.QuietEnd = &bad
	if _, err := evaluateGates(in); err == nil {
		t.Error("expected error for quiet hour out of range")
	}

	in = baseGateInput()
	neg := -1
	in.conv.DailyCap = &neg
	if _, err := evaluateGates(in); err == nil {
		t.Error("expected error for negative daily cap")
	}

	in = baseGateInput()
	in.state = nil
	if _, err := evaluateGates(in); err == nil {
		t.Error("expected error without state")
	}
}

func TestRollDay(t *testing.T) {
	st := &store.WindState{DayBucket: "2026-03-10", ProactiveSentToday: 2}
	if rollDay(st, t0, time.UTC) {
		t.Error("same day should not roll")
	}
	if st.ProactiveSentToday != 2 {
		t.Errorf("count = %d, want 2", st.ProactiveSentToday)
	}

	if !rollDay(st, t0.Add(12*time.Hour), time.UTC) {
		t.Error("next day should roll")
	}
	if st.ProactiveSentToday != 0 || st.DayBucket != "2026-03-11" {
		t.Errorf("after roll: %+v", st)
	}
}

func TestScanOrdersLeastRecentlyContacted(t *testing.T) {
	convs := []store.Conversation{
		{ID: "b", WindEnabled: true, Allowed: true},
		{ID: "a", WindEnabled: true, Allowed: true},
		{ID: "recent", WindEnabled: true, Allowed: true},
		{ID: "snoozed", WindEnabled: true, Allowed: true},
		{ID: "off", WindEnabled: false, Allowed: true},
	}
	states := map[string]store.WindState{
		"recent":  {LastProactiveSentAt: t0.Add(-time.Hour)},
		"a":       {LastProactiveSentAt: t0.Add(-5 * time.Hour)},
		"snoozed": {SnoozeUntil: t0.Add(time.Hour)},
	}

	got := Scan(t0, convs, states)
	want := []string{"b", "a", "recent"}
	if len(got) != len(want) {
		t.Fatalf("Scan = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Scan = %v, want %v", got, want)
		}
	}
}
