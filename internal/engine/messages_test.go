package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/wind/internal/config"
	"github.com/lazypower/wind/internal/store"
)

// sendOne runs a tick at t0 that sends the given topic.
func (h *harness) sendOne(t *testing.T, conv, title string) *store.Topic {
	t.Helper()
	h.conversation(t, conv)
	topic := h.submit(t, conv, store.TypeWind, title, 80)
	r := h.tick(t, t0)
	require.Equal(t, ActionSend, decisionFor(t, r, conv).Action)
	return topic
}

func TestRecordUserMessageAnswersProactive(t *testing.T) {
	h := newHarness(t, config.DefaultWind())
	topic := h.sendOne(t, "c1", "Weather change this weekend")

	st := h.state(t, "c1")
	st.FatigueDamper = 20
	require.NoError(t, h.db.SaveWindState(st))

	at := t0.Add(30 * time.Minute)
	require.NoError(t, h.e.RecordUserMessage(context.Background(), "c1", "Sounds good, thanks", at))

	st = h.state(t, "c1")
	assert.Zero(t, st.UnansweredProactiveCount)
	assert.Equal(t, 10.0, st.FatigueDamper)
	assert.True(t, st.LastUserInteractionAt.Equal(at))

	aff, err := h.db.GetAffinity("c1", topic.Family)
	require.NoError(t, err)
	assert.Equal(t, 1, aff.EngagementCount)
	assert.True(t, aff.LastPositiveAt.Equal(at))

	msgs, err := h.db.RecentMessages("c1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.Inbound, msgs[1].Direction)
	assert.Equal(t, "Sounds good, thanks", msgs[1].Text)

	// A second message answers nothing new.
	require.NoError(t, h.e.RecordUserMessage(context.Background(), "c1", "ok", at.Add(time.Minute)))
	aff, err = h.db.GetAffinity("c1", topic.Family)
	require.NoError(t, err)
	assert.Equal(t, 1, aff.EngagementCount)
}

func TestRecordUserMessageRequiresText(t *testing.T) {
	h := newHarness(t, config.DefaultWind())
	assert.Error(t, h.e.RecordUserMessage(context.Background(), "c1", "  ", t0))
	assert.Error(t, h.e.RecordUserMessage(context.Background(), "", "hello", t0))
}

func TestStopMentioningThatDismissesLastTopic(t *testing.T) {
	cfg := config.DefaultWind()
	h := newHarness(t, cfg)
	topic := h.sendOne(t, "c1", "Weather change this weekend")

	at := t0.Add(10 * time.Minute)
	require.NoError(t, h.e.RecordUserMessage(context.Background(), "c1", "Please stop mentioning that", at))

	assert.Equal(t, store.StatusDismissed, h.topic(t, topic.ID).Status)
	aff, err := h.db.GetAffinity("c1", topic.Family)
	require.NoError(t, err)
	assert.InDelta(t, cfg.Feedback.AffinityStep, aff.RejectionWeight, 1e-9)
	assert.True(t, aff.CooldownUntil.Equal(at.Add(cfg.Feedback.FamilyCooldown)))

	st := h.state(t, "c1")
	assert.True(t, st.SnoozeUntil.IsZero(), "topic feedback leaves the conversation alone")
}

func TestTopicPhraseWithoutProactiveIsIgnored(t *testing.T) {
	h := newHarness(t, config.DefaultWind())
	h.conversation(t, "c1")
	topic := h.submit(t, "c1", store.TypeWind, "Weather change this weekend", 80)

	require.NoError(t, h.e.RecordUserMessage(context.Background(), "c1", "stop mentioning that", t0))
	assert.Equal(t, store.StatusPending, h.topic(t, topic.ID).Status)
}

func TestLeaveMeAloneSnoozesConversation(t *testing.T) {
	cfg := config.DefaultWind()
	h := newHarness(t, cfg)
	h.conversation(t, "c1")

	pursued := h.submit(t, "c1", store.TypeWind, "Marathon training plan", 60)
	pursued.Pursuit = &store.PursuitState{AttemptBudget: 3}
	setStatus(pursued, store.StatusArmed)
	require.NoError(t, h.db.SaveTopic(pursued))
	idle := h.submit(t, "c1", store.TypeWind, "Sourdough starter feeding", 60)

	require.NoError(t, h.e.RecordUserMessage(context.Background(), "c1", "Just leave me alone today", t0))

	st := h.state(t, "c1")
	assert.True(t, st.SnoozeUntil.Equal(t0.Add(cfg.Feedback.SnoozeOnNegative)))
	assert.Equal(t, cfg.Feedback.FatigueStep, st.FatigueDamper)

	assert.Equal(t, store.StatusSnoozed, h.topic(t, pursued.ID).Status)
	got := h.topic(t, idle.ID)
	assert.Equal(t, store.StatusPending, got.Status)
	assert.Zero(t, got.NegativeFeedbackScore, "conversation feedback never touches topic scores")

	r := h.tick(t, t0.Add(time.Hour))
	assert.Empty(t, r.Decisions, "snoozed conversations are not scanned")
}

func TestReportFeedbackValidation(t *testing.T) {
	h := newHarness(t, config.DefaultWind())
	bad := []Feedback{
		{Scope: ScopeConversation, Polarity: Negative},
		{ConversationID: "c1", Scope: ScopeConversation, Polarity: "meh"},
		{ConversationID: "c1", Scope: "everything", Polarity: Negative},
		{ConversationID: "c1", Scope: ScopeTopic, Polarity: Negative},
	}
	for _, fb := range bad {
		assert.ErrorIs(t, h.e.ReportFeedback(context.Background(), fb), ErrInvalidFeedback, "%+v", fb)
	}
}

func TestTopicFeedbackSuppressesAndRecovers(t *testing.T) {
	cfg := config.DefaultWind()
	h := newHarness(t, cfg)
	h.conversation(t, "c1")
	topic := h.submit(t, "c1", store.TypeWind, "Jazz records collection", 60)
	ctx := context.Background()

	neg := Feedback{ConversationID: "c1", Scope: ScopeTopic, Polarity: Negative, TopicID: topic.ID, At: t0}
	require.NoError(t, h.e.ReportFeedback(ctx, neg))
	got := h.topic(t, topic.ID)
	assert.Equal(t, store.StatusPending, got.Status)
	assert.Equal(t, 1.0, got.NegativeFeedbackScore)

	pos := neg
	pos.Polarity = Positive
	require.NoError(t, h.e.ReportFeedback(ctx, pos))
	got = h.topic(t, topic.ID)
	assert.Zero(t, got.NegativeFeedbackScore)
	aff, err := h.db.GetAffinity("c1", topic.Family)
	require.NoError(t, err)
	assert.True(t, aff.CooldownUntil.IsZero())
	assert.InDelta(t, cfg.Feedback.AffinityStep, aff.InterestWeight, 1e-9)

	require.NoError(t, h.e.ReportFeedback(ctx, neg))
	require.NoError(t, h.e.ReportFeedback(ctx, neg))
	assert.Equal(t, store.StatusSuppressed, h.topic(t, topic.ID).Status)

	st := h.state(t, "c1")
	assert.True(t, st.SnoozeUntil.IsZero())
	assert.Zero(t, st.FatigueDamper)
}

func TestTopicFeedbackWrongConversation(t *testing.T) {
	h := newHarness(t, config.DefaultWind())
	h.conversation(t, "c1")
	topic := h.submit(t, "c1", store.TypeWind, "Jazz records collection", 60)

	err := h.e.ReportFeedback(context.Background(), Feedback{
		ConversationID: "c2", Scope: ScopeTopic, Polarity: Negative, TopicID: topic.ID,
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConversationPositiveFeedbackEasesFatigue(t *testing.T) {
	cfg := config.DefaultWind()
	h := newHarness(t, cfg)
	h.conversation(t, "c1")
	st := h.state(t, "c1")
	st.FatigueDamper = 15
	require.NoError(t, h.db.SaveWindState(st))

	fb := Feedback{ConversationID: "c1", Scope: ScopeConversation, Polarity: Positive}
	require.NoError(t, h.e.ReportFeedback(context.Background(), fb))
	assert.Equal(t, 5.0, h.state(t, "c1").FatigueDamper)
	require.NoError(t, h.e.ReportFeedback(context.Background(), fb))
	assert.Zero(t, h.state(t, "c1").FatigueDamper)
}

func TestSnoozeConversation(t *testing.T) {
	h := newHarness(t, config.DefaultWind())
	h.conversation(t, "c1")
	ctx := context.Background()

	until := t0.Add(3 * time.Hour)
	require.NoError(t, h.e.SnoozeConversation(ctx, "c1", until))
	assert.True(t, h.state(t, "c1").SnoozeUntil.Equal(until))

	require.NoError(t, h.e.SnoozeConversation(ctx, "c1", time.Time{}))
	assert.True(t, h.state(t, "c1").SnoozeUntil.IsZero())
}

func TestAcknowledgeAndDismissTopic(t *testing.T) {
	h := newHarness(t, config.DefaultWind())
	h.conversation(t, "c1")
	ctx := context.Background()
	topic := h.submit(t, "c1", store.TypeWind, "Jazz records collection", 60)

	got, err := h.e.AcknowledgeTopic(ctx, topic.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusMentioned, got.Status)

	_, err = h.e.AcknowledgeTopic(ctx, topic.ID)
	assert.ErrorIs(t, err, ErrTopicClosed)

	got, err = h.e.DismissTopic(ctx, topic.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDismissed, got.Status)

	_, err = h.e.DismissTopic(ctx, topic.ID)
	assert.ErrorIs(t, err, ErrTopicClosed)

	_, err = h.e.DismissTopic(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestArchiveStaleTopics(t *testing.T) {
	h := newHarness(t, config.DefaultWind())
	h.conversation(t, "c1")
	low := h.submit(t, "c1", store.TypeWind, "Jazz records collection", 5)
	high := h.submit(t, "c1", store.TypeWind, "Tax return paperwork", 90)
	crit := h.submit(t, "c1", store.TypeCritical, "Smoke alarm battery", 5)

	n, err := h.e.ArchiveStaleTopics(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, store.StatusStaleAfterPause, h.topic(t, low.ID).Status)
	assert.Equal(t, store.StatusPending, h.topic(t, high.ID).Status)
	assert.Equal(t, store.StatusPending, h.topic(t, crit.ID).Status)
}

func TestImportMessages(t *testing.T) {
	h := newHarness(t, config.DefaultWind())
	msgs := []store.Message{
		{Direction: store.Inbound, Text: "morning!", CreatedAt: t0.Add(-3 * time.Hour)},
		{Direction: store.Outbound, Text: "morning, how did you sleep?", CreatedAt: t0.Add(-150 * time.Minute)},
		{Direction: store.Inbound, Text: "   ", CreatedAt: t0.Add(-140 * time.Minute)},
		{Direction: store.Inbound, Text: "badly, the neighbours again", CreatedAt: t0.Add(-2 * time.Hour)},
	}

	n, err := h.e.ImportMessages(context.Background(), "c1", msgs)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	st := h.state(t, "c1")
	assert.True(t, st.LastUserInteractionAt.Equal(t0.Add(-2*time.Hour)))
	assert.True(t, st.LastOutboundAt.Equal(t0.Add(-150*time.Minute)))
	assert.Zero(t, st.UnansweredProactiveCount)

	stored, err := h.db.RecentMessages("c1", 10)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, store.KindChat, stored[0].Kind)
}
