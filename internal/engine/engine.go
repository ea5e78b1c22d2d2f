// Package engine decides, tick by tick, whether the assistant should
// proactively message each conversation, and about what.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lazypower/wind/internal/config"
	"github.com/lazypower/wind/internal/dispatch"
	"github.com/lazypower/wind/internal/llm"
	"github.com/lazypower/wind/internal/store"
)

// KillSwitch suppresses every send while engaged.
type KillSwitch interface {
	Engaged() bool
}

// Engine runs the outreach pipeline: scan, gates, impulse, topic selection,
// pursuit, draft, dispatch.
type Engine struct {
	DB     *store.DB
	LLM    llm.Client
	Sender dispatch.Sender
	Config config.WindConfig
	// Clock stamps operations that arrive without a time (ingestion,
	// feedback, admin). Tick always uses the now it is given.
	Clock Clock

	entropy   EntropySource
	kill      KillSwitch
	health    *HealthGuard
	validator *draftValidator
	phrases   *matcher
	locks     *keyedMutex
	logger    *zap.Logger

	tickMu   sync.Mutex
	lastTick time.Time

	locs sync.Map // timezone name -> *time.Location
}

// New creates an Engine. Entropy is seeded from cfg.Seed.
func New(db *store.DB, client llm.Client, sender dispatch.Sender, cfg config.WindConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		DB:        db,
		LLM:       client,
		Sender:    sender,
		Config:    cfg,
		Clock:     SystemClock{},
		entropy:   NewSeededEntropy(cfg.Seed),
		health:    &HealthGuard{},
		validator: newDraftValidator(cfg.Draft),
		phrases:   newMatcher(feedbackPhraseList()),
		locks:     newKeyedMutex(),
		logger:    logger.Named("engine"),
	}
}

// SetEntropy replaces the entropy source. Nil disables entropy.
func (e *Engine) SetEntropy(src EntropySource) {
	e.entropy = src
}

// SetKillSwitch wires the external kill switch.
func (e *Engine) SetKillSwitch(k KillSwitch) {
	e.kill = k
}

// Health returns the guard consulted by the health gate.
func (e *Engine) Health() *HealthGuard {
	return e.health
}

// Decision actions.
const (
	ActionSend = "send"
	ActionSkip = "skip"
)

// Skip reasons produced outside the gates and the selector.
const (
	SkipBelowThreshold = "below_threshold"
	SkipDraftBudget    = "draft_budget_exhausted"
	SkipErrorBackoff   = "error_backoff"
	SkipCancelled      = "cancelled"
)

// Decision is the outcome of evaluating one conversation in one tick.
type Decision struct {
	ConversationID string    `json:"conversation_id"`
	TickAt         time.Time `json:"tick_at"`
	Action         string    `json:"decision"`
	SkipReason     string    `json:"skip_reason,omitempty"`
	TopicID        string    `json:"topic_id,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
	Impulse        *Factors  `json:"impulse,omitempty"`
	Threshold      float64   `json:"threshold,omitempty"`
	ErrorKind      ErrorKind `json:"error_kind,omitempty"`
	Err            error     `json:"-"`
}

func (d *Decision) fail(kind ErrorKind, err error) {
	if d.Action != ActionSend {
		d.Action = ActionSkip
		d.SkipReason = string(kind)
	}
	d.ErrorKind = kind
	d.Err = &EvalError{Kind: kind, ConversationID: d.ConversationID, Err: err}
}

// TickReport lists the decision taken for every scanned conversation.
type TickReport struct {
	TickAt    time.Time  `json:"tick_at"`
	Scanned   int        `json:"scanned"`
	Decisions []Decision `json:"decisions"`
}

// Sent returns how many conversations received a message this tick.
func (r *TickReport) Sent() int {
	n := 0
	for _, d := range r.Decisions {
		if d.Action == ActionSend {
			n++
		}
	}
	return n
}

// Tick evaluates every eligible conversation at now. Ticks are serialized
// and now must advance; a repeated or earlier now returns ErrStaleTick.
// Failures inside one conversation are reported in its Decision and never
// abort the tick.
func (e *Engine) Tick(ctx context.Context, now time.Time) (*TickReport, error) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	if !e.lastTick.IsZero() && !now.After(e.lastTick) {
		return nil, fmt.Errorf("%w: %s is not after %s", ErrStaleTick,
			now.Format(time.RFC3339Nano), e.lastTick.Format(time.RFC3339Nano))
	}

	convs, err := e.DB.ListConversations()
	if err != nil {
		return nil, fmt.Errorf("tick: %w", err)
	}
	states, err := e.DB.ListWindStates()
	if err != nil {
		return nil, fmt.Errorf("tick: %w", err)
	}
	e.lastTick = now

	ids := Scan(now, convs, states)
	for _, id := range ids {
		if err := e.DB.EnsureWindState(id); err != nil {
			return nil, fmt.Errorf("tick: %w", err)
		}
	}

	report := &TickReport{TickAt: now, Scanned: len(ids), Decisions: make([]Decision, len(ids))}
	budget := newDraftBudget(e.Config.MaxDraftsPerTick)

	g, gctx := errgroup.WithContext(ctx)
	workers := e.Config.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for i, id := range ids {
		g.Go(func() error {
			report.Decisions[i] = e.evaluate(gctx, id, now, budget)
			return nil
		})
	}
	_ = g.Wait()

	e.logger.Debug("tick complete",
		zap.Time("tick_at", now),
		zap.Int("scanned", report.Scanned),
		zap.Int("sent", report.Sent()))
	return report, nil
}

// evaluate runs one conversation under its lock. It always returns a
// Decision and always emits exactly one decision record.
func (e *Engine) evaluate(ctx context.Context, convID string, now time.Time, budget *draftBudget) (d Decision) {
	d = Decision{ConversationID: convID, TickAt: now, Action: ActionSkip}

	unlock := e.locks.lock(convID)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("evaluation panic",
				zap.String("conversation_id", convID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			d.fail(KindPanic, fmt.Errorf("panic: %v", r))
		}
		e.observe(&d)
	}()

	s, err := e.load(convID, now)
	if err != nil {
		d.fail(KindPersistence, err)
		return d
	}

	e.decide(ctx, s, &d, budget)

	if err := e.commit(s); err != nil {
		if d.Action == ActionSend {
			// The message is out; losing the cap and status bookkeeping
			// would let the next tick send it again.
			if serr := e.commitSent(s, d.TopicID); serr != nil {
				e.logger.Error("sent message not recorded",
					zap.String("conversation_id", convID),
					zap.String("message_id", d.MessageID),
					zap.Error(serr))
			} else {
				e.logger.Warn("tick commit failed, send recorded alone",
					zap.String("conversation_id", convID),
					zap.String("message_id", d.MessageID),
					zap.Error(err))
			}
		}
		d.fail(KindPersistence, err)
	}
	return d
}

// decide mutates the snapshot and fills d. Nothing here touches the
// database; external calls happen before the single commit.
func (e *Engine) decide(ctx context.Context, s *snapshot, d *Decision, budget *draftBudget) {
	cfg := e.Config
	now := s.now

	loc, err := e.location(s.conv)
	if err != nil {
		s.state.BackoffUntil = now.Add(cfg.Gates.ErrorBackoff)
		d.fail(KindGateEvaluation, err)
		return
	}
	s.loc = loc
	rollDay(s.state, now, loc)

	e.maintainTopics(s)

	if now.Before(s.state.BackoffUntil) {
		d.SkipReason = SkipErrorBackoff
		return
	}

	critical := s.hasCritical()
	gate, err := evaluateGates(&gateInput{
		cfg:      cfg,
		conv:     s.conv,
		state:    s.state,
		loc:      loc,
		now:      now,
		killed:   e.kill != nil && e.kill.Engaged(),
		degraded: e.health.Degraded(),
		critical: critical,
	})
	if err != nil {
		s.state.BackoffUntil = now.Add(cfg.Gates.ErrorBackoff)
		d.fail(KindGateEvaluation, err)
		return
	}
	if gate != "" {
		d.SkipReason = gate
		return
	}

	f := scoreImpulse(cfg.Impulse, impulseInput{
		conversationID: s.state.ConversationID,
		now:            now,
		loc:            loc,
		state:          s.state,
		topics:         s.topics,
		outboundRecent: s.outbound,
	}, e.entropy)
	d.Impulse = &f
	d.Threshold = threshold(cfg.Impulse, s.conv)
	defer s.logImpulse(d)

	if f.Score < d.Threshold && !critical {
		d.SkipReason = SkipBelowThreshold
		return
	}

	t, reason := selectTopic(cfg.Select, s.topics, s.affinity, s.userWords(), now)
	if t == nil {
		d.SkipReason = reason
		return
	}
	d.TopicID = t.ID

	if !budget.take() {
		d.SkipReason = SkipDraftBudget
		return
	}

	before := t.Clone()
	arm(cfg.Pursuit, t, now)
	activate(t)
	s.touch(t)

	text, err := e.draft(ctx, s, t)
	if err != nil && ctx.Err() != nil {
		// Cancelled mid-generation: no outcome, so no attempt.
		*t = *before
		d.SkipReason = SkipCancelled
		return
	}
	if err == nil {
		var msgID string
		msgID, err = e.send(ctx, s, t, text)
		d.MessageID = msgID
	}
	if err != nil {
		kind := KindOf(err)
		if kind.attemptFailure() {
			recordFailure(cfg.Pursuit, t, now)
		}
		d.fail(kind, err)
		return
	}

	e.recordSent(s, t, d.MessageID, text)
	d.Action = ActionSend
}

// recordSent applies the bookkeeping of a confirmed send.
func (e *Engine) recordSent(s *snapshot, t *store.Topic, msgID, text string) {
	now := s.now
	st := s.state

	// The previous proactive message went unanswered.
	if st.UnansweredProactiveCount > 0 && s.lastTopic != nil {
		prev := s.lastTopic
		prev.IgnoreCount++
		s.touch(prev)
		s.aff(prev.Family).IgnoreCount++
		s.touchAff(prev.Family)
	}

	recordSuccess(t, now)
	s.touch(t)

	st.ProactiveSentToday++
	st.UnansweredProactiveCount++
	st.LastProactiveSentAt = now
	st.LastOutboundAt = now

	s.outbox = append(s.outbox, &store.Message{
		ConversationID: st.ConversationID,
		Direction:      store.Outbound,
		Kind:           store.KindOf(t.Type),
		TopicID:        t.ID,
		Text:           text,
		CreatedAt:      now,
	})
	e.logger.Debug("proactive message sent",
		zap.String("conversation_id", st.ConversationID),
		zap.String("topic_id", t.ID),
		zap.String("message_id", msgID))
}

func (s *snapshot) logImpulse(d *Decision) {
	f := d.Impulse
	s.log = &store.ImpulseLog{
		ConversationID:   s.state.ConversationID,
		TickAt:           s.now,
		Base:             f.Base,
		Silence:          f.Silence,
		TopicPressure:    f.TopicPressure,
		TimeFactor:       f.TimeOfDay,
		Entropy:          f.Entropy,
		EngagementDamper: f.Engagement,
		FatigueDamper:    f.Fatigue,
		Score:            f.Score,
		Threshold:        d.Threshold,
		Decision:         d.Action,
		SkipReason:       d.SkipReason,
		TopicID:          d.TopicID,
	}
}

// location resolves the conversation's time zone, falling back to the
// global one.
func (e *Engine) location(conv *store.Conversation) (*time.Location, error) {
	name := e.Config.Timezone
	if conv != nil && conv.Timezone != "" {
		name = conv.Timezone
	}
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	if l, ok := e.locs.Load(name); ok {
		return l.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	e.locs.Store(name, loc)
	return loc, nil
}

// now returns at, or the clock's time when at is zero.
func (e *Engine) now(at time.Time) time.Time {
	if !at.IsZero() {
		return at
	}
	return e.Clock.Now()
}

// draftBudget caps the generation calls started in one tick.
type draftBudget struct {
	mu   sync.Mutex
	left int
}

func newDraftBudget(n int) *draftBudget {
	return &draftBudget{left: n}
}

func (b *draftBudget) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.left <= 0 {
		return false
	}
	b.left--
	return true
}
