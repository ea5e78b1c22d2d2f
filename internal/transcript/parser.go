// Package transcript reads chat histories for import and renders stored
// messages into the bounded context window a draft is generated from.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/lazypower/wind/internal/store"
)

// sentinel matches llm.InternalSentinel. Lines carrying it are wind's own
// prompts echoed back by a provider proxy and never belong in a transcript.
const sentinel = "[wind-internal]"

// line is one JSONL record. Two shapes are accepted: the flat form
// {"role","text","kind","at"} and the nested chat-export form
// {"type", "message": {"role", "content"}} where content is a string or an
// array of content blocks.
type line struct {
	Role    string          `json:"role"`
	Text    string          `json:"text"`
	Kind    string          `json:"kind"`
	TopicID string          `json:"topic_id"`
	At      time.Time       `json:"at"`
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

type nestedMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"` // string or []contentItem
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Entry is one parsed transcript message.
type Entry struct {
	Role    string // "user" or "assistant"
	Text    string
	Kind    store.MessageKind
	TopicID string
	At      time.Time // zero when the source carries no timestamp
}

// ParseFile reads a JSONL transcript file.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads JSONL transcript records. Malformed lines are skipped.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB line buffer

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		entry, err := parseLine(raw)
		if err != nil {
			continue // skip malformed lines
		}
		if entry != nil {
			entries = append(entries, *entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	return entries, nil
}

// ParseLines parses transcript content from a string.
func ParseLines(content string) ([]Entry, error) {
	return Parse(strings.NewReader(content))
}

func parseLine(raw []byte) (*Entry, error) {
	var l line
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, err
	}

	role, text := l.Role, l.Text
	if l.Message != nil {
		var msg nestedMessage
		if err := json.Unmarshal(l.Message, &msg); err != nil {
			return nil, err
		}
		role = msg.Role
		if role == "" {
			role = l.Type
		}
		text = extractText(msg.Content)
	}

	text = strings.TrimSpace(text)
	if text == "" || strings.HasPrefix(text, sentinel) {
		return nil, nil
	}
	switch role {
	case "user", "assistant":
	default:
		return nil, nil
	}

	kind := store.KindChat
	if l.Kind != "" {
		kind = store.MessageKind(l.Kind)
		if kind != store.KindChat && !store.TopicType(l.Kind).Valid() {
			return nil, fmt.Errorf("unknown kind %q", l.Kind)
		}
	}
	if role == "user" && kind != store.KindChat {
		return nil, fmt.Errorf("user message tagged %q", kind)
	}

	return &Entry{Role: role, Text: text, Kind: kind, TopicID: l.TopicID, At: l.At}, nil
}

// extractText handles the polymorphic content field.
func extractText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var items []contentItem
	if err := json.Unmarshal(raw, &items); err == nil {
		var texts []string
		for _, item := range items {
			if item.Type == "text" && item.Text != "" {
				texts = append(texts, item.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}

// CountUserMessages returns the number of user messages in the entries.
func CountUserMessages(entries []Entry) int {
	count := 0
	for _, e := range entries {
		if e.Role == "user" {
			count++
		}
	}
	return count
}

// ToMessages converts entries into store messages. Entries without a
// timestamp are spaced one second apart ending at end, preserving order.
func ToMessages(conversationID string, entries []Entry, end time.Time) []store.Message {
	msgs := make([]store.Message, 0, len(entries))
	for i, e := range entries {
		at := e.At
		if at.IsZero() {
			at = end.Add(-time.Duration(len(entries)-1-i) * time.Second)
		}
		dir := store.Outbound
		if e.Role == "user" {
			dir = store.Inbound
		}
		msgs = append(msgs, store.Message{
			ConversationID: conversationID,
			Direction:      dir,
			Kind:           e.Kind,
			TopicID:        e.TopicID,
			Text:           e.Text,
			CreatedAt:      at.UTC(),
		})
	}
	return msgs
}
