package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lazypower/wind/internal/llm"
	"github.com/lazypower/wind/internal/store"
	"github.com/lazypower/wind/internal/transcript"
)

// maxMined caps the candidates accepted from one mining pass.
const maxMined = 3

// minedCandidate is one topic proposed by the mining prompt.
type minedCandidate struct {
	Type       string  `json:"type"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	NoveltyKey string  `json:"novelty_key"`
	Priority   float64 `json:"priority"`
}

// MineTopics asks the generation service for tension and discovery topics
// in the recent transcript and submits the valid ones. Transcripts with
// fewer than three user messages are skipped.
func (e *Engine) MineTopics(ctx context.Context, conversationID string) ([]*store.Topic, error) {
	msgs, err := e.DB.RecentMessages(conversationID, 2*e.Config.Draft.ContextWindow)
	if err != nil {
		return nil, fmt.Errorf("mine topics: %w", err)
	}
	inbound := 0
	for _, m := range msgs {
		if m.Direction == store.Inbound {
			inbound++
		}
	}
	if inbound < 3 {
		e.logger.Debug("mining skipped, too few user messages",
			zap.String("conversation_id", conversationID),
			zap.Int("user_messages", inbound))
		return nil, nil
	}

	live, err := e.DB.ListLiveTopics(conversationID)
	if err != nil {
		return nil, fmt.Errorf("mine topics: %w", err)
	}
	known := make([]string, len(live))
	for i, t := range live {
		known[i] = t.Title
	}

	gctx, cancel := context.WithTimeout(ctx, 4*e.Config.Draft.GenerationTimeout)
	defer cancel()
	resp, err := e.LLM.Complete(gctx, llm.MiningPrompt(transcript.Render(msgs), known))
	if err != nil {
		return nil, fmt.Errorf("mine topics: %w", err)
	}
	if resp == nil || len(strings.TrimSpace(resp.Content)) < 2 {
		return nil, nil
	}

	candidates, err := parseMiningResponse(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("mine topics: %w", err)
	}
	if len(candidates) > maxMined {
		e.logger.Debug("capping mined candidates",
			zap.String("conversation_id", conversationID),
			zap.Int("returned", len(candidates)))
		candidates = candidates[:maxMined]
	}

	var out []*store.Topic
	for _, c := range candidates {
		in, err := c.input(conversationID)
		if err != nil {
			e.logger.Debug("rejecting mined candidate", zap.String("title", c.Title), zap.Error(err))
			continue
		}
		t, err := e.SubmitTopic(ctx, in)
		if err != nil {
			e.logger.Warn("submit mined topic", zap.String("title", c.Title), zap.Error(err))
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// input validates a candidate. Only tension and discovery topics can be
// mined; everything else has its own producer.
func (c minedCandidate) input(conversationID string) (TopicInput, error) {
	typ := store.TopicType(strings.ToLower(strings.TrimSpace(c.Type)))
	if typ != store.TypeTension && typ != store.TypeDiscovery {
		return TopicInput{}, fmt.Errorf("type %q cannot be mined", c.Type)
	}
	title := strings.TrimSpace(c.Title)
	if len(title) < 5 {
		return TopicInput{}, fmt.Errorf("title too short")
	}
	return TopicInput{
		ConversationID: conversationID,
		Type:           typ,
		Title:          truncateClean(title, 200),
		Content:        truncateClean(strings.TrimSpace(c.Content), 1000),
		Source:         "miner",
		NoveltyKey:     c.NoveltyKey,
		Priority:       c.Priority,
	}, nil
}

// parseMiningResponse extracts a JSON array from the response, which might
// be wrapped in code fences or prose.
func parseMiningResponse(content string) ([]minedCandidate, error) {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) > 2 {
			content = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}
	content = strings.TrimSpace(content)

	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array found in response")
	}

	var candidates []minedCandidate
	if err := json.Unmarshal([]byte(content[start:end+1]), &candidates); err != nil {
		return nil, fmt.Errorf("unmarshal candidates: %w", err)
	}
	return candidates, nil
}
