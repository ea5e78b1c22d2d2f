package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/wind/internal/dispatch"
	"github.com/lazypower/wind/internal/llm"
	"github.com/lazypower/wind/internal/store"
	"github.com/lazypower/wind/internal/transcript"
)

// draft asks the generation service for a message about t and validates
// it. Errors are *EvalError with the kind set.
func (e *Engine) draft(ctx context.Context, s *snapshot, t *store.Topic) (string, error) {
	cfg := e.Config.Draft
	convID := s.state.ConversationID

	retry := 0
	if t.Pursuit != nil {
		retry = t.Pursuit.FailureCount
	}
	prompt := llm.DraftPrompt(llm.DraftRequest{
		Context:    transcript.Render(s.recent),
		TopicType:  string(t.Type),
		Title:      t.Title,
		Content:    t.Content,
		MaxChars:   cfg.MaxChars,
		Tone:       cfg.Tone,
		AllowLinks: allowsLinks(t.Type),
		Retry:      retry,
	})

	gctx, cancel := context.WithTimeout(ctx, cfg.GenerationTimeout)
	defer cancel()

	resp, err := e.LLM.Complete(gctx, prompt)
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		if ctx.Err() == nil && errors.Is(gctx.Err(), context.DeadlineExceeded) {
			return "", &EvalError{Kind: KindGenerationTimeout, ConversationID: convID,
				Err: fmt.Errorf("generation exceeded %s: %w", cfg.GenerationTimeout, err)}
		}
		return "", &EvalError{Kind: KindGenerationError, ConversationID: convID, Err: err}
	}

	last := ""
	if s.lastProactive != nil {
		last = s.lastProactive.Text
	}
	text, err := e.validator.check(resp.Content, t, last)
	if err != nil {
		return "", &EvalError{Kind: KindValidation, ConversationID: convID, Err: err}
	}
	return text, nil
}

// send dispatches text and waits for the outcome. Tick cancellation does
// not abort a send already started; the dispatch timeout still applies.
func (e *Engine) send(ctx context.Context, s *snapshot, t *store.Topic, text string) (string, error) {
	msg := dispatch.Message{
		ID:             uuid.NewString(),
		ConversationID: s.state.ConversationID,
		Text:           text,
		Kind:           string(store.KindOf(t.Type)),
		TopicID:        t.ID,
		CreatedAt:      s.now,
	}

	timeout := e.Config.Draft.DispatchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := e.Sender.Send(dctx, msg); err != nil {
		return msg.ID, &EvalError{Kind: KindDispatch, ConversationID: msg.ConversationID, Err: err}
	}
	return msg.ID, nil
}
