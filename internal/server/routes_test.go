package server

import (
	"net/http"
	"testing"
)

const (
	registerConv = `{"display_name":"Sam","wind_enabled":true,"allowed":true,"timezone":"UTC"}`
	weatherTopic = `{"conversation_id":"c1","type":"wind","title":"Weather change this weekend","priority":80,"at":"2026-03-10T11:00:00Z"}`
)

// seed registers c1 with a user message two hours before noon and one topic.
func (env *testEnv) seed(t *testing.T) string {
	t.Helper()
	if code, body := env.do(t, "PUT", "/api/conversations/c1", registerConv); code != http.StatusOK {
		t.Fatalf("put conversation: %d %v", code, body)
	}
	if code, body := env.do(t, "POST", "/api/conversations/c1/messages",
		`{"text":"heading out for a hike","at":"2026-03-10T10:00:00Z"}`); code != http.StatusCreated {
		t.Fatalf("post message: %d %v", code, body)
	}
	code, body := env.do(t, "POST", "/api/topics", weatherTopic)
	if code != http.StatusCreated {
		t.Fatalf("post topic: %d %v", code, body)
	}
	return body["id"].(string)
}

func TestPutConversation(t *testing.T) {
	env := testServer(t)

	code, body := env.do(t, "PUT", "/api/conversations/c1", registerConv)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %v", code, body)
	}
	if body["id"] != "c1" || body["wind_enabled"] != true {
		t.Errorf("body = %v", body)
	}

	code, body = env.do(t, "GET", "/api/conversations/c1", "")
	if code != http.StatusOK {
		t.Fatalf("get: status = %d", code)
	}
	if body["display_name"] != "Sam" {
		t.Errorf("display_name = %v", body["display_name"])
	}
	if _, ok := body["state"]; !ok {
		t.Error("expected wind state to be created with the conversation")
	}

	_, body = env.do(t, "GET", "/api/conversations", "")
	if body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestPutConversationRejectsBadOverrides(t *testing.T) {
	env := testServer(t)

	bad := []string{
		`{"quiet_start":25}`,
		`{"daily_cap":-1}`,
		`{"timezone":"Mars/Olympus"}`,
		`{not json`,
	}
	for _, b := range bad {
		if code, _ := env.do(t, "PUT", "/api/conversations/c1", b); code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", b, code)
		}
	}
}

func TestGetConversationNotFound(t *testing.T) {
	env := testServer(t)
	if code, _ := env.do(t, "GET", "/api/conversations/nobody", ""); code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}

func TestSubmitTopic(t *testing.T) {
	env := testServer(t)

	code, body := env.do(t, "POST", "/api/topics", weatherTopic)
	if code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %v", code, body)
	}
	if body["status"] != "pending" || body["novelty_key"] != "weather-change-this-weekend" {
		t.Errorf("topic = %v", body)
	}

	_, again := env.do(t, "POST", "/api/topics", weatherTopic)
	if again["id"] != body["id"] {
		t.Errorf("same novelty key produced a new topic: %v vs %v", again["id"], body["id"])
	}
	if again["merge_count"] != float64(1) {
		t.Errorf("merge_count = %v, want 1", again["merge_count"])
	}

	code, body = env.do(t, "GET", "/api/conversations/c1/topics", "")
	if code != http.StatusOK || body["count"] != float64(1) {
		t.Errorf("list topics: %d %v", code, body)
	}
}

func TestSubmitTopicInvalid(t *testing.T) {
	env := testServer(t)
	bad := []string{
		`{"type":"wind","title":"no conversation"}`,
		`{"conversation_id":"c1","type":"gossip","title":"unknown type"}`,
		`{"conversation_id":"c1","type":"wind"}`,
		`{"conversation_id":`,
	}
	for _, b := range bad {
		if code, _ := env.do(t, "POST", "/api/topics", b); code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", b, code)
		}
	}
}

func TestTickSendsAndLogs(t *testing.T) {
	env := testServer(t)
	id := env.seed(t)

	code, body := env.do(t, "POST", "/api/tick", `{"at":"2026-03-10T12:00:00Z"}`)
	if code != http.StatusOK {
		t.Fatalf("tick: status = %d; body: %v", code, body)
	}
	if body["sent"] != float64(1) {
		t.Fatalf("sent = %v, want 1; body: %v", body["sent"], body)
	}
	if env.sender.Count() != 1 {
		t.Errorf("sender count = %d, want 1", env.sender.Count())
	}

	_, topic := env.do(t, "GET", "/api/topics/"+id, "")
	if topic["status"] != "mentioned" {
		t.Errorf("topic status = %v, want mentioned", topic["status"])
	}

	_, logs := env.do(t, "GET", "/api/conversations/c1/impulse?limit=5", "")
	if logs["count"] != float64(1) {
		t.Fatalf("impulse logs = %v", logs)
	}
	entry := logs["logs"].([]any)[0].(map[string]any)
	if entry["decision"] != "send" || entry["topic_id"] != id {
		t.Errorf("log entry = %v", entry)
	}

	if code, _ := env.do(t, "POST", "/api/tick", `{"at":"2026-03-10T12:00:00Z"}`); code != http.StatusConflict {
		t.Errorf("repeated tick: status = %d, want 409", code)
	}
}

func TestTickWithKillSwitch(t *testing.T) {
	env := testServer(t)
	env.seed(t)
	env.kill.Set(true)

	_, body := env.do(t, "POST", "/api/tick", `{"at":"2026-03-10T12:00:00Z"}`)
	if body["sent"] != float64(0) {
		t.Fatalf("sent = %v, want 0", body["sent"])
	}
	d := body["decisions"].([]any)[0].(map[string]any)
	if d["skip_reason"] != "wind_disabled" {
		t.Errorf("skip_reason = %v, want wind_disabled", d["skip_reason"])
	}
}

func TestAckAndDismissTopic(t *testing.T) {
	env := testServer(t)
	id := env.seed(t)

	code, body := env.do(t, "POST", "/api/topics/"+id+"/ack", "")
	if code != http.StatusOK || body["status"] != "mentioned" {
		t.Fatalf("ack: %d %v", code, body)
	}
	if code, _ := env.do(t, "POST", "/api/topics/"+id+"/ack", ""); code != http.StatusConflict {
		t.Errorf("second ack: status = %d, want 409", code)
	}
	code, body = env.do(t, "POST", "/api/topics/"+id+"/dismiss", "")
	if code != http.StatusOK || body["status"] != "dismissed" {
		t.Errorf("dismiss: %d %v", code, body)
	}
	if code, _ := env.do(t, "POST", "/api/topics/missing/dismiss", ""); code != http.StatusNotFound {
		t.Errorf("unknown topic: status = %d, want 404", code)
	}
}

func TestFeedbackRoute(t *testing.T) {
	env := testServer(t)
	id := env.seed(t)

	code, body := env.do(t, "POST", "/api/conversations/c1/feedback",
		`{"scope":"topic","polarity":"negative","topic_id":"`+id+`"}`)
	if code != http.StatusOK {
		t.Fatalf("feedback: %d %v", code, body)
	}
	_, topic := env.do(t, "GET", "/api/topics/"+id, "")
	if topic["negative_feedback_score"] != float64(1) {
		t.Errorf("negative_feedback_score = %v, want 1", topic["negative_feedback_score"])
	}

	if code, _ := env.do(t, "POST", "/api/conversations/c1/feedback", `{"scope":"topic","polarity":"negative"}`); code != http.StatusBadRequest {
		t.Errorf("missing topic_id: status = %d, want 400", code)
	}
}

func TestSnoozeRoute(t *testing.T) {
	env := testServer(t)
	env.seed(t)

	code, body := env.do(t, "POST", "/api/conversations/c1/snooze", `{"duration":"2h"}`)
	if code != http.StatusOK || body["snooze_until"] == nil {
		t.Fatalf("snooze: %d %v", code, body)
	}
	_, conv := env.do(t, "GET", "/api/conversations/c1", "")
	state := conv["state"].(map[string]any)
	if state["snooze_until"] == nil {
		t.Error("snooze_until not persisted")
	}

	if code, _ := env.do(t, "POST", "/api/conversations/c1/snooze", `{"duration":"soon"}`); code != http.StatusBadRequest {
		t.Errorf("bad duration: status = %d, want 400", code)
	}

	code, body = env.do(t, "POST", "/api/conversations/c1/snooze", "")
	if code != http.StatusOK || body["snooze_until"] != nil {
		t.Errorf("lift snooze: %d %v", code, body)
	}
}

func TestArchiveAndMineRoutes(t *testing.T) {
	env := testServer(t)
	env.seed(t)

	code, body := env.do(t, "POST", "/api/conversations/c1/archive", "")
	if code != http.StatusOK || body["archived"] != float64(0) {
		t.Errorf("archive: %d %v", code, body)
	}

	// One user message is too few to mine.
	code, body = env.do(t, "POST", "/api/conversations/c1/mine", "")
	if code != http.StatusOK || body["count"] != float64(0) {
		t.Errorf("mine: %d %v", code, body)
	}
}
