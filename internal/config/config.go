package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all wind configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Wind     WindConfig     `yaml:"wind"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LLMConfig struct {
	Provider     string `yaml:"provider"` // "claude-cli", "anthropic", "ollama", "gemini"
	Model        string `yaml:"model"`
	OllamaURL    string `yaml:"ollama_url"`
	OllamaModel  string `yaml:"ollama_model"`
	AnthropicKey string `yaml:"anthropic_key"`
	GeminiKey    string `yaml:"gemini_key"`
}

type DispatchConfig struct {
	Provider   string `yaml:"provider"` // "webhook", "log"
	WebhookURL string `yaml:"webhook_url"`
	AuthToken  string `yaml:"auth_token"`
}

// WindConfig is the global policy of the outreach engine. It is read-only
// for the duration of a tick.
type WindConfig struct {
	Enabled          bool          `yaml:"enabled"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	Workers          int           `yaml:"workers"`
	MaxDraftsPerTick int           `yaml:"max_drafts_per_tick"`
	KillSwitchPath   string        `yaml:"kill_switch_path"`
	Timezone         string        `yaml:"timezone"`
	Seed             int64         `yaml:"seed"` // 0 = random at startup

	Gates    GateConfig     `yaml:"gates"`
	Impulse  ImpulseConfig  `yaml:"impulse"`
	Topics   PriorityConfig `yaml:"topics"`
	Select   SelectorConfig `yaml:"selector"`
	Pursuit  PursuitConfig  `yaml:"pursuit"`
	Draft    DraftConfig    `yaml:"draft"`
	Feedback FeedbackConfig `yaml:"feedback"`
}

type GateConfig struct {
	QuietStartHour      int           `yaml:"quiet_start_hour"`
	QuietEndHour        int           `yaml:"quiet_end_hour"`
	Cooldown            time.Duration `yaml:"cooldown"`
	DailyCap            int           `yaml:"daily_cap"`
	MaxUnansweredStreak int           `yaml:"max_unanswered_streak"`
	MinSilence          time.Duration `yaml:"min_silence"`
	ErrorBackoff        time.Duration `yaml:"error_backoff"`
	Degraded            bool          `yaml:"degraded"`
}

type ImpulseConfig struct {
	Base                 float64       `yaml:"base"`
	Threshold            float64       `yaml:"threshold"`
	SilencePerHour       float64       `yaml:"silence_per_hour"`
	SilenceCap           float64       `yaml:"silence_cap"`
	PressureWeight       float64       `yaml:"pressure_weight"`
	PressureCap          float64       `yaml:"pressure_cap"`
	NightStartHour       int           `yaml:"night_start_hour"`
	NightEndHour         int           `yaml:"night_end_hour"`
	NightPenalty         float64       `yaml:"night_penalty"`
	DayStartHour         int           `yaml:"day_start_hour"`
	DayEndHour           int           `yaml:"day_end_hour"`
	DayBonus             float64       `yaml:"day_bonus"`
	EntropyRange         float64       `yaml:"entropy_range"`
	EngagementWindow     time.Duration `yaml:"engagement_window"`
	EngagementPerMessage float64       `yaml:"engagement_per_message"`
	EngagementCap        float64       `yaml:"engagement_cap"`
	FatiguePerUnanswered float64       `yaml:"fatigue_per_unanswered"`
	FatigueCap           float64       `yaml:"fatigue_cap"`
}

type PriorityConfig struct {
	Min                    float64            `yaml:"min"`
	Max                    float64            `yaml:"max"`
	RecencyBoost           float64            `yaml:"recency_boost"`
	RecencyWindow          time.Duration      `yaml:"recency_window"`
	InterestWeight         float64            `yaml:"interest_weight"`
	NoveltyBoost           float64            `yaml:"novelty_boost"`
	NoveltyWindow          time.Duration      `yaml:"novelty_window"`
	DecayRates             map[string]float64 `yaml:"decay_rates"` // per hour, keyed by topic type
	FatiguePerIgnore       float64            `yaml:"fatigue_per_ignore"`
	NegativeFeedbackWeight float64            `yaml:"negative_feedback_weight"`
	RejectionWeight        float64            `yaml:"rejection_weight"`
	OverridePenalty        float64            `yaml:"override_penalty"`
	PersistenceBoost       float64            `yaml:"persistence_boost"`
	RepeatedAttemptPenalty float64            `yaml:"repeated_attempt_penalty"`
	ReEvidenceRetain       float64            `yaml:"re_evidence_retain"`
	MergeTitleSimilarity   float64            `yaml:"merge_title_similarity"`
	LongPause              time.Duration      `yaml:"long_pause"`
	ArchiveBelow           float64            `yaml:"archive_below"`
}

type SelectorConfig struct {
	RecencyBonus    float64       `yaml:"recency_bonus"`
	RecencyWindow   time.Duration `yaml:"recency_window"`
	RelevanceWeight float64       `yaml:"relevance_weight"`
	StalenessPerDay float64       `yaml:"staleness_per_day"`
}

type PursuitConfig struct {
	Budget          int           `yaml:"budget"`
	DiscoveryBudget int           `yaml:"discovery_budget"`
	TTL             time.Duration `yaml:"ttl"`
	DiscoveryTTL    time.Duration `yaml:"discovery_ttl"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
}

type DraftConfig struct {
	GenerationTimeout   time.Duration `yaml:"generation_timeout"`
	DispatchTimeout     time.Duration `yaml:"dispatch_timeout"`
	ContextWindow       int           `yaml:"context_window"`
	MaxChars            int           `yaml:"max_chars"`
	Tone                string        `yaml:"tone"`
	DisallowedPhrases   []string      `yaml:"disallowed_phrases"`
	DuplicateSimilarity float64       `yaml:"duplicate_similarity"`
}

type FeedbackConfig struct {
	SnoozeOnNegative time.Duration `yaml:"snooze_on_negative"`
	FatigueStep      float64       `yaml:"fatigue_step"`
	SuppressAfter    float64       `yaml:"suppress_after"`
	AffinityStep     float64       `yaml:"affinity_step"`
	FamilyCooldown   time.Duration `yaml:"family_cooldown"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		LLM: LLMConfig{
			Provider: "claude-cli",
			Model:    "haiku",
		},
		Dispatch: DispatchConfig{
			Provider: "log",
		},
		Wind: DefaultWind(),
	}
}

// DefaultWind returns the default engine policy. The numbers are tuning
// inputs, not invariants.
func DefaultWind() WindConfig {
	return WindConfig{
		Enabled:          true,
		TickInterval:     time.Minute,
		Workers:          4,
		MaxDraftsPerTick: 8,
		Timezone:         "UTC",
		Gates: GateConfig{
			QuietStartHour:      22,
			QuietEndHour:        8,
			Cooldown:            4 * time.Hour,
			DailyCap:            3,
			MaxUnansweredStreak: 2,
			MinSilence:          45 * time.Minute,
			ErrorBackoff:        15 * time.Minute,
		},
		Impulse: ImpulseConfig{
			Base:                 20,
			Threshold:            50,
			SilencePerHour:       5,
			SilenceCap:           25,
			PressureWeight:       0.5,
			PressureCap:          40,
			NightStartHour:       22,
			NightEndHour:         7,
			NightPenalty:         20,
			DayStartHour:         9,
			DayEndHour:           21,
			DayBonus:             5,
			EntropyRange:         5,
			EngagementWindow:     6 * time.Hour,
			EngagementPerMessage: 5,
			EngagementCap:        20,
			FatiguePerUnanswered: 10,
			FatigueCap:           40,
		},
		Topics: PriorityConfig{
			Min:            0,
			Max:            100,
			RecencyBoost:   10,
			RecencyWindow:  24 * time.Hour,
			InterestWeight: 10,
			NoveltyBoost:   8,
			NoveltyWindow:  48 * time.Hour,
			DecayRates: map[string]float64{
				"wind":      0.5,
				"reminder":  0.2,
				"critical":  0,
				"tension":   0.8,
				"discovery": 1.5,
			},
			FatiguePerIgnore:       5,
			NegativeFeedbackWeight: 25,
			RejectionWeight:        15,
			OverridePenalty:        15,
			PersistenceBoost:       5,
			RepeatedAttemptPenalty: 4,
			ReEvidenceRetain:       0.25,
			MergeTitleSimilarity:   0.85,
			LongPause:              72 * time.Hour,
			ArchiveBelow:           30,
		},
		Select: SelectorConfig{
			RecencyBonus:    5,
			RecencyWindow:   6 * time.Hour,
			RelevanceWeight: 10,
			StalenessPerDay: 2,
		},
		Pursuit: PursuitConfig{
			Budget:          3,
			DiscoveryBudget: 2,
			TTL:             72 * time.Hour,
			DiscoveryTTL:    24 * time.Hour,
			BackoffBase:     10 * time.Minute,
			BackoffMax:      6 * time.Hour,
		},
		Draft: DraftConfig{
			GenerationTimeout: 30 * time.Second,
			DispatchTimeout:   10 * time.Second,
			ContextWindow:     20,
			MaxChars:          600,
			Tone:              "warm, brief, casual",
			DisallowedPhrases: []string{
				"as an ai language model",
				"i am an ai",
				"lorem ipsum",
				"<script",
				"[insert",
			},
			DuplicateSimilarity: 0.8,
		},
		Feedback: FeedbackConfig{
			SnoozeOnNegative: 24 * time.Hour,
			FatigueStep:      10,
			SuppressAfter:    2,
			AffinityStep:     0.2,
			FamilyCooldown:   48 * time.Hour,
		},
	}
}

// Load reads a YAML config file layered over Default(). A missing file is
// not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// DefaultPath returns ~/.wind/wind.yaml, or WIND_CONFIG when set.
func DefaultPath() string {
	if p := os.Getenv("WIND_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".wind", "wind.yaml")
}

func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && c.LLM.AnthropicKey == "" {
		c.LLM.AnthropicKey = key
		if c.LLM.Provider == "claude-cli" {
			c.LLM.Provider = "anthropic"
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.GeminiKey == "" {
		c.LLM.GeminiKey = key
	}
	if path := os.Getenv("WIND_DB"); path != "" {
		c.Database.Path = path
	}
	if url := os.Getenv("WIND_WEBHOOK_URL"); url != "" {
		c.Dispatch.Provider = "webhook"
		c.Dispatch.WebhookURL = url
	}
	if path := os.Getenv("WIND_KILL_SWITCH"); path != "" {
		c.Wind.KillSwitchPath = path
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	w := c.Wind
	if w.TickInterval <= 0 {
		return fmt.Errorf("wind.tick_interval must be positive")
	}
	if w.Workers <= 0 {
		return fmt.Errorf("wind.workers must be positive")
	}
	if _, err := time.LoadLocation(w.Timezone); err != nil {
		return fmt.Errorf("wind.timezone: %w", err)
	}
	if w.Topics.Min >= w.Topics.Max {
		return fmt.Errorf("wind.topics: min (%v) must be below max (%v)", w.Topics.Min, w.Topics.Max)
	}
	if w.Pursuit.Budget <= 0 || w.Pursuit.DiscoveryBudget <= 0 {
		return fmt.Errorf("wind.pursuit: budgets must be positive")
	}
	if w.Pursuit.DiscoveryBudget >= w.Pursuit.Budget {
		return fmt.Errorf("wind.pursuit: discovery_budget (%d) must be smaller than budget (%d)",
			w.Pursuit.DiscoveryBudget, w.Pursuit.Budget)
	}
	if w.Pursuit.DiscoveryTTL >= w.Pursuit.TTL {
		return fmt.Errorf("wind.pursuit: discovery_ttl must be shorter than ttl")
	}
	if !validHour(w.Gates.QuietStartHour) || !validHour(w.Gates.QuietEndHour) {
		return fmt.Errorf("wind.gates: quiet hours must be within 0-23")
	}
	if w.Gates.DailyCap < 0 || w.Gates.MaxUnansweredStreak < 0 {
		return fmt.Errorf("wind.gates: caps cannot be negative")
	}
	if w.Pursuit.BackoffBase <= 0 || w.Pursuit.BackoffMax < w.Pursuit.BackoffBase {
		return fmt.Errorf("wind.pursuit: backoff_base must be positive and backoff_max at least backoff_base")
	}
	if w.Draft.GenerationTimeout <= 0 {
		return fmt.Errorf("wind.draft.generation_timeout must be positive")
	}
	if w.Draft.MaxChars <= 0 {
		return fmt.Errorf("wind.draft.max_chars must be positive")
	}
	if r := w.Topics.ReEvidenceRetain; r < 0 || r > 1 {
		return fmt.Errorf("wind.topics.re_evidence_retain must be within [0,1]")
	}
	return nil
}

func validHour(h int) bool { return h >= 0 && h <= 23 }

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// Location resolves the configured default time zone.
func (w WindConfig) Location() *time.Location {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
