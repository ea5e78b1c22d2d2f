package transcript

import (
	"strings"
	"testing"
	"time"

	"github.com/lazypower/wind/internal/store"
)

func TestParseLinesNested(t *testing.T) {
	lines := `{"type":"user","message":{"role":"user","content":"Hello, my tomatoes are wilting"}}
{"type":"assistant","message":{"role":"assistant","content":"Sorry to hear that."}}
{"type":"user","message":{"role":"user","content":"ok"}}`

	entries, err := ParseLines(lines)
	if err != nil {
		t.Fatalf("ParseLines: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Role != "user" || entries[0].Text != "Hello, my tomatoes are wilting" {
		t.Errorf("entry[0] = %+v", entries[0])
	}
	if entries[1].Role != "assistant" || entries[1].Kind != store.KindChat {
		t.Errorf("entry[1] = %+v", entries[1])
	}
	// short replies are real engagement and are kept
	if entries[2].Text != "ok" {
		t.Errorf("entry[2].Text = %q", entries[2].Text)
	}
}

func TestParseLinesContentArray(t *testing.T) {
	lines := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Here you go:"},{"type":"image","url":"x"}]}}`

	entries, err := ParseLines(lines)
	if err != nil {
		t.Fatalf("ParseLines: %v", err)
	}
	if len(entries) != 1 || entries[0].Text != "Here you go:" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestParseLinesFlat(t *testing.T) {
	lines := `{"role":"assistant","text":"Dentist at 3pm tomorrow!","kind":"reminder","topic_id":"t1","at":"2026-03-10T09:00:00Z"}
{"role":"user","text":"thanks"}`

	entries, err := ParseLines(lines)
	if err != nil {
		t.Fatalf("ParseLines: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Kind != store.MessageKind("reminder") || entries[0].TopicID != "t1" {
		t.Errorf("entry[0] = %+v", entries[0])
	}
	if !entries[0].At.Equal(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("At = %v", entries[0].At)
	}
}

func TestParseLinesSkipsInvalid(t *testing.T) {
	lines := `not json
{"role":"system","text":"you are a bot"}
{"role":"user","text":"hi","kind":"wind"}
{"role":"assistant","text":"x","kind":"gossip"}
{"role":"user","text":"[wind-internal] You are writing one short message"}
{"role":"user","text":"   "}
{"role":"user","text":"still here"}`

	entries, err := ParseLines(lines)
	if err != nil {
		t.Fatalf("ParseLines: %v", err)
	}
	if len(entries) != 1 || entries[0].Text != "still here" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestCountUserMessages(t *testing.T) {
	entries := []Entry{{Role: "user"}, {Role: "assistant"}, {Role: "user"}}
	if n := CountUserMessages(entries); n != 2 {
		t.Errorf("CountUserMessages = %d, want 2", n)
	}
}

func TestToMessages(t *testing.T) {
	end := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Role: "user", Text: "a", Kind: store.KindChat},
		{Role: "assistant", Text: "b", Kind: store.KindChat},
	}
	msgs := ToMessages("c1", entries, end)
	if len(msgs) != 2 {
		t.Fatalf("len = %d", len(msgs))
	}
	if msgs[0].Direction != store.Inbound || msgs[1].Direction != store.Outbound {
		t.Errorf("directions = %s, %s", msgs[0].Direction, msgs[1].Direction)
	}
	if !msgs[1].CreatedAt.Equal(end) || !msgs[0].CreatedAt.Equal(end.Add(-time.Second)) {
		t.Errorf("timestamps = %v, %v", msgs[0].CreatedAt, msgs[1].CreatedAt)
	}
}

func TestRender(t *testing.T) {
	msgs := []store.Message{
		{Direction: store.Inbound, Kind: store.KindChat, Text: "my tomatoes are wilting"},
		{Direction: store.Outbound, Kind: store.KindChat, Text: strings.Repeat("x", 300)},
		{Direction: store.Outbound, Kind: store.KindOf(store.TypeReminder), Text: "water them tonight"},
	}
	out := Render(msgs)
	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), out)
	}
	if lines[0] != "[USER] my tomatoes are wilting" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "...") || len(lines[1]) != len("[ASSISTANT] ")+midMessageMax+3 {
		t.Errorf("middle message not truncated: %d chars", len(lines[1]))
	}
	if lines[2] != "[ASSISTANT:reminder] water them tonight" {
		t.Errorf("line 2 = %q", lines[2])
	}
}

func TestRenderEmpty(t *testing.T) {
	if got := Render(nil); got != "" {
		t.Errorf("Render(nil) = %q", got)
	}
}
