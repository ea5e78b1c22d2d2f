package engine

import (
	"math"
	"time"

	"github.com/lazypower/wind/internal/config"
	"github.com/lazypower/wind/internal/store"
)

// Factors is the full breakdown of one impulse evaluation.
//
//	Score = Base + Silence + TopicPressure + TimeOfDay + Entropy - Engagement - Fatigue
//
// Bounds, all from ImpulseConfig:
//
//	Silence       [0, SilenceCap]            grows with hours since the user last spoke
//	TopicPressure [0, PressureCap]           weighted sum of selectable topic priorities
//	TimeOfDay     {-NightPenalty, 0, +DayBonus}
//	Entropy       [-EntropyRange, EntropyRange)
//	Engagement    [0, EngagementCap]         outbound volume inside EngagementWindow
//	Fatigue       [0, FatigueCap]            unanswered streak plus the feedback damper
type Factors struct {
	Base          float64 `json:"base"`
	Silence       float64 `json:"silence"`
	TopicPressure float64 `json:"topic_pressure"`
	TimeOfDay     float64 `json:"time_of_day"`
	Entropy       float64 `json:"entropy"`
	Engagement    float64 `json:"engagement"`
	Fatigue       float64 `json:"fatigue"`
	Score         float64 `json:"score"`
}

type impulseInput struct {
	conversationID string
	now            time.Time
	loc            *time.Location
	state          *store.WindState
	topics         []*store.Topic
	outboundRecent int
}

// scoreImpulse is pure: the same input and entropy source always produce
// the same Factors.
func scoreImpulse(cfg config.ImpulseConfig, in impulseInput, src EntropySource) Factors {
	f := Factors{
		Base:          cfg.Base,
		Silence:       silenceFactor(cfg, in.now, in.state.LastUserInteractionAt),
		TopicPressure: topicPressure(cfg, in.topics),
		TimeOfDay:     timeFactor(cfg, in.now.In(in.loc).Hour()),
		Engagement:    capped(cfg.EngagementPerMessage*float64(in.outboundRecent), cfg.EngagementCap),
		Fatigue: capped(cfg.FatiguePerUnanswered*float64(in.state.UnansweredProactiveCount)+in.state.FatigueDamper,
			cfg.FatigueCap),
	}
	if src != nil && cfg.EntropyRange > 0 {
		f.Entropy = cfg.EntropyRange * src.Sample(in.conversationID, in.now)
	}
	f.Score = f.Base + f.Silence + f.TopicPressure + f.TimeOfDay + f.Entropy - f.Engagement - f.Fatigue
	return f
}

// silenceFactor is monotonic in the silence length. A conversation with no
// recorded user message counts as maximally silent.
func silenceFactor(cfg config.ImpulseConfig, now, lastUser time.Time) float64 {
	if lastUser.IsZero() {
		return cfg.SilenceCap
	}
	hours := now.Sub(lastUser).Hours()
	if hours <= 0 {
		return 0
	}
	return capped(hours*cfg.SilencePerHour, cfg.SilenceCap)
}

func topicPressure(cfg config.ImpulseConfig, topics []*store.Topic) float64 {
	sum := 0.0
	for _, t := range topics {
		if selectable(t) {
			sum += t.DynamicPriority
		}
	}
	return capped(sum*cfg.PressureWeight, cfg.PressureCap)
}

func timeFactor(cfg config.ImpulseConfig, hour int) float64 {
	switch {
	case inWindow(hour, cfg.NightStartHour, cfg.NightEndHour):
		return -cfg.NightPenalty
	case inWindow(hour, cfg.DayStartHour, cfg.DayEndHour):
		return cfg.DayBonus
	}
	return 0
}

func capped(v, limit float64) float64 {
	return math.Max(0, math.Min(v, limit))
}

// threshold returns the conversation's override or the global default.
func threshold(cfg config.ImpulseConfig, conv *store.Conversation) float64 {
	if conv != nil && conv.Threshold != nil {
		return *conv.Threshold
	}
	return cfg.Threshold
}
