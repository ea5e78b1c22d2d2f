package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/wind/internal/config"
	"github.com/lazypower/wind/internal/store"
)

func TestSubmitTopicValidation(t *testing.T) {
	h := newHarness(t, config.DefaultWind())
	ctx := context.Background()

	bad := []TopicInput{
		{Type: store.TypeWind, Title: "no conversation"},
		{ConversationID: "c1", Type: "gossip", Title: "unknown type"},
		{ConversationID: "c1", Type: store.TypeWind, Title: "   "},
		{ConversationID: "c1", Type: store.TypeWind, Title: "?!", NoveltyKey: "!!"},
	}
	for _, in := range bad {
		_, err := h.e.SubmitTopic(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidTopic, "%+v", in)
	}
}

func TestSubmitTopicDefaults(t *testing.T) {
	cfg := config.DefaultWind()
	h := newHarness(t, cfg)

	topic, err := h.e.SubmitTopic(context.Background(), TopicInput{
		ConversationID: "c1",
		Type:           store.TypeDiscovery,
		Title:          "Try the new ramen place",
		Priority:       250,
	})
	require.NoError(t, err)

	got := h.topic(t, topic.ID)
	assert.Equal(t, "try-the-new-ramen-place", got.NoveltyKey)
	assert.Equal(t, got.NoveltyKey, got.Family, "a topic is its own family by default")
	assert.Equal(t, cfg.Topics.Max, got.BasePriority, "priority is clamped on ingestion")
	assert.Equal(t, cfg.Topics.DecayRates["discovery"], got.DecayRate)
	assert.Equal(t, store.StatusPending, got.Status)
	assert.True(t, got.CreatedAt.Equal(t0), "missing At falls back to the engine clock")
}

func TestSubmitTopicSameKeyIsEvidence(t *testing.T) {
	h := newHarness(t, config.DefaultWind())
	ctx := context.Background()

	first, err := h.e.SubmitTopic(ctx, TopicInput{ConversationID: "c1", Type: store.TypeWind,
		Title: "Rain coming", NoveltyKey: "weather_change", Priority: 40, At: t0.Add(-5 * time.Hour)})
	require.NoError(t, err)
	second, err := h.e.SubmitTopic(ctx, TopicInput{ConversationID: "c1", Type: store.TypeCritical,
		Title: "Storm warning", NoveltyKey: "weather_change", Priority: 70, At: t0})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	live, err := h.db.ListLiveTopics("c1")
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, 1, live[0].MergeCount)
	assert.Equal(t, 70.0, live[0].BasePriority)
	assert.Equal(t, store.TypeCritical, live[0].Type)
	assert.True(t, live[0].LastEvidenceAt.Equal(t0))

	other, err := h.e.SubmitTopic(ctx, TopicInput{ConversationID: "c2", Type: store.TypeWind,
		Title: "Rain coming", NoveltyKey: "weather_change", Priority: 40})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID, "keys are scoped to a conversation")
}

func TestSubmitCriticalLiftsPursuitLimits(t *testing.T) {
	cfg := config.DefaultWind()
	h := newHarness(t, cfg)
	h.conversation(t, "c1")
	topic := h.submit(t, "c1", store.TypeWind, "Storm this weekend", 60)
	topic.Pursuit = &store.PursuitState{AttemptCount: 2, AttemptBudget: 3, ExpiresAt: t0.Add(time.Hour)}
	setStatus(topic, store.StatusActivePursuit)
	require.NoError(t, h.db.SaveTopic(topic))

	_, err := h.e.SubmitTopic(context.Background(), TopicInput{ConversationID: "c1", Type: store.TypeCritical,
		Title: "Storm this weekend", Priority: 90, At: t0})
	require.NoError(t, err)

	got := h.topic(t, topic.ID)
	assert.Equal(t, store.TypeCritical, got.Type)
	assert.Zero(t, got.DecayRate)
	assert.Zero(t, got.Pursuit.AttemptBudget)
	assert.True(t, got.Pursuit.ExpiresAt.IsZero())
	assert.Equal(t, store.StatusActivePursuit, got.Status)

	recordFailure(cfg.Pursuit, got, t0.Add(2*time.Hour))
	assert.False(t, expirePursuit(got, t0.Add(2*time.Hour)))
	assert.Equal(t, store.StatusActivePursuit, got.Status, "critical topics never run out of attempts")
}

func TestSubmitTopicRearmsMentioned(t *testing.T) {
	h := newHarness(t, config.DefaultWind())
	h.conversation(t, "c1")
	topic := h.submit(t, "c1", store.TypeWind, "Weather change this weekend", 80)

	r := h.tick(t, t0)
	require.Equal(t, ActionSend, decisionFor(t, r, "c1").Action)
	require.Equal(t, store.StatusMentioned, h.topic(t, topic.ID).Status)

	again, err := h.e.SubmitTopic(context.Background(), TopicInput{ConversationID: "c1", Type: store.TypeWind,
		Title: "Weather change this weekend", Priority: 60, At: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, topic.ID, again.ID)

	got := h.topic(t, topic.ID)
	assert.Equal(t, store.StatusPending, got.Status)
	assert.Nil(t, got.Pursuit, "a new selection cycle starts with fresh counters")
}

func TestTopicPassExpiresAndResumes(t *testing.T) {
	cfg := config.DefaultWind()
	cfg.Enabled = false
	h := newHarness(t, cfg)
	h.conversation(t, "c1")

	short, err := h.e.SubmitTopic(context.Background(), TopicInput{ConversationID: "c1", Type: store.TypeReminder,
		Title: "Parking meter", Priority: 50, At: t0.Add(-time.Hour), ExpiresAt: t0.Add(-time.Minute)})
	require.NoError(t, err)

	parked := h.submit(t, "c1", store.TypeWind, "Marathon training plan", 60)
	parked.Pursuit = &store.PursuitState{AttemptBudget: 3, AttemptCount: 1}
	setStatus(parked, store.StatusSnoozed)
	require.NoError(t, h.db.SaveTopic(parked))

	h.tick(t, t0)

	assert.Equal(t, store.StatusExpired, h.topic(t, short.ID).Status)
	resumed := h.topic(t, parked.ID)
	assert.Equal(t, store.StatusPending, resumed.Status)
	assert.Equal(t, 1, resumed.Pursuit.AttemptCount, "counters survive a snooze")
}

func TestTopicPassDecaysWhileGated(t *testing.T) {
	cfg := config.DefaultWind()
	cfg.Enabled = false
	h := newHarness(t, cfg)
	h.conversation(t, "c1")
	topic := h.submit(t, "c1", store.TypeTension, "Unfinished argument about chores", 50)

	h.tick(t, t0)
	first := h.topic(t, topic.ID)
	h.tick(t, t0.Add(10*time.Hour))
	later := h.topic(t, topic.ID)

	assert.Greater(t, later.DecayPenalty, first.DecayPenalty)
	assert.Less(t, later.DynamicPriority, first.DynamicPriority)
	assert.True(t, later.LastEvaluatedAt.Equal(t0.Add(10*time.Hour)))
}

func TestTitleSimilarityMerge(t *testing.T) {
	cfg := config.DefaultWind()
	cfg.Enabled = false
	h := newHarness(t, cfg)
	h.conversation(t, "c1")
	a := h.submit(t, "c1", store.TypeWind, "Dentist appointment on Friday", 50)
	b, err := h.e.SubmitTopic(context.Background(), TopicInput{ConversationID: "c1", Type: store.TypeReminder,
		Title: "Dentist appointment Friday", NoveltyKey: "dentist", Priority: 50, At: t0.Add(-time.Minute)})
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)

	h.tick(t, t0)
	assert.Equal(t, store.StatusMerged, h.topic(t, b.ID).Status)
	assert.Equal(t, a.ID, h.topic(t, b.ID).MergedInto)
}

func TestOverridePenaltyOnStalePursuit(t *testing.T) {
	cfg := config.DefaultWind()
	cfg.Enabled = false
	h := newHarness(t, cfg)
	h.conversation(t, "c1")

	pursued := h.submit(t, "c1", store.TypeWind, "Marathon training plan", 60)
	pursued.Pursuit = &store.PursuitState{AttemptBudget: 3}
	setStatus(pursued, store.StatusArmed)
	require.NoError(t, h.db.SaveTopic(pursued))
	fresh := h.submit(t, "c1", store.TypeWind, "Sourdough starter feeding", 60)

	h.tick(t, t0)
	before := h.topic(t, pursued.ID).DynamicPriority

	require.NoError(t, h.e.RecordUserMessage(context.Background(), "c1",
		"My sourdough starter feeding schedule is a mess", t0.Add(time.Minute)))
	assert.True(t, h.topic(t, fresh.ID).LastReferencedAt.Equal(t0.Add(time.Minute)))

	h.tick(t, t0.Add(2*time.Minute))
	after := h.topic(t, pursued.ID).DynamicPriority
	assert.InDelta(t, before-cfg.Topics.OverridePenalty, after, 0.5)
}

func TestLongPauseCleanup(t *testing.T) {
	cfg := config.DefaultWind()
	cfg.Enabled = false
	h := newHarness(t, cfg)
	h.conversation(t, "c1")
	st := h.state(t, "c1")
	st.UnansweredProactiveCount = 2
	st.FatigueDamper = 15
	require.NoError(t, h.db.SaveWindState(st))

	low := h.submit(t, "c1", store.TypeWind, "Jazz records collection", 5)
	high := h.submit(t, "c1", store.TypeWind, "Tax return paperwork", 100)
	crit := h.submit(t, "c1", store.TypeCritical, "Smoke alarm battery", 5)

	// Last user message was t0-2h; LongPause is 72h.
	h.tick(t, t0.Add(69*time.Hour))
	assert.Equal(t, store.StatusPending, h.topic(t, low.ID).Status)

	h.tick(t, t0.Add(80*time.Hour))
	assert.Equal(t, store.StatusStaleAfterPause, h.topic(t, low.ID).Status)
	assert.Equal(t, store.StatusPending, h.topic(t, high.ID).Status)
	assert.Equal(t, store.StatusPending, h.topic(t, crit.ID).Status)
	st = h.state(t, "c1")
	assert.Zero(t, st.UnansweredProactiveCount)
	assert.Zero(t, st.FatigueDamper)
	assert.True(t, st.PauseCleanedAt.Equal(t0.Add(80*time.Hour)))

	// Once per pause.
	st.UnansweredProactiveCount = 1
	require.NoError(t, h.db.SaveWindState(st))
	h.tick(t, t0.Add(90*time.Hour))
	assert.Equal(t, 1, h.state(t, "c1").UnansweredProactiveCount)
}

func TestSnoozedPursuitCannotOutliveItsDeadline(t *testing.T) {
	cfg := config.DefaultWind()
	cfg.Feedback.SnoozeOnNegative = 100 * time.Hour
	h := newHarness(t, cfg)
	h.sender.Err = errors.New("transport down")
	h.conversation(t, "c1")
	topic := h.submit(t, "c1", store.TypeWind, "Weather change this weekend", 80)

	r := h.tick(t, t0)
	require.Equal(t, KindDispatch, decisionFor(t, r, "c1").ErrorKind)
	require.True(t, h.topic(t, topic.ID).Pursuit.ExpiresAt.Equal(t0.Add(cfg.Pursuit.TTL)))

	require.NoError(t, h.e.ReportFeedback(context.Background(), Feedback{
		ConversationID: "c1", Scope: ScopeConversation, Polarity: Negative, At: t0.Add(time.Minute),
	}))
	require.Equal(t, store.StatusSnoozed, h.topic(t, topic.ID).Status)

	h.sender.Err = nil
	r = h.tick(t, t0.Add(101*time.Hour))
	assert.NotEqual(t, ActionSend, decisionFor(t, r, "c1").Action)

	got := h.topic(t, topic.ID)
	assert.Equal(t, store.StatusExpired, got.Status)
	assert.Equal(t, 1, h.sender.Count(), "only the failed attempt reached dispatch")
}
