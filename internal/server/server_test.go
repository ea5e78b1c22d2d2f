package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/wind/internal/config"
	"github.com/lazypower/wind/internal/dispatch"
	"github.com/lazypower/wind/internal/engine"
	"github.com/lazypower/wind/internal/killswitch"
	"github.com/lazypower/wind/internal/llm"
	"github.com/lazypower/wind/internal/store"
)

var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// fixedClock pins the engine's notion of now for admin routes.
type fixedClock struct{ engine.SystemClock }

func (fixedClock) Now() time.Time { return noon }

type testEnv struct {
	srv    *Server
	engine *engine.Engine
	sender *dispatch.MockSender
	kill   *killswitch.Switch
}

func testServer(t *testing.T) *testEnv {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	client := &llm.MockClient{Func: func(ctx context.Context, prompt string) (*llm.Response, error) {
		return &llm.Response{Content: "Is the weather change this weekend still on your mind?"}, nil
	}}
	sender := &dispatch.MockSender{}
	e := engine.New(db, client, sender, config.DefaultWind(), zap.NewNop())
	e.SetEntropy(engine.FixedEntropy(0))
	e.Clock = fixedClock{}

	kill := killswitch.New("", nil)
	e.SetKillSwitch(kill)
	return &testEnv{
		srv:    New(e, kill, "test-version", nil),
		engine: e,
		sender: sender,
		kill:   kill,
	}
}

// do sends a request and decodes a JSON object response.
func (env *testEnv) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode body %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, out
}

func TestHealthEndpoint(t *testing.T) {
	env := testServer(t)

	code, body := env.do(t, "GET", "/api/health", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test-version" {
		t.Errorf("version = %v, want test-version", body["version"])
	}
	if body["db"] != true {
		t.Errorf("db = %v, want true", body["db"])
	}
	if body["kill_switch"] != false {
		t.Errorf("kill_switch = %v, want false", body["kill_switch"])
	}
}

func TestKillSwitchRoutes(t *testing.T) {
	env := testServer(t)

	code, body := env.do(t, "PUT", "/api/killswitch", `{"engaged":true}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if body["engaged"] != true || !env.kill.Engaged() {
		t.Errorf("engaged = %v, want true", body["engaged"])
	}

	if code, _ := env.do(t, "PUT", "/api/killswitch", `{}`); code != http.StatusBadRequest {
		t.Errorf("missing engaged: status = %d, want 400", code)
	}

	_, body = env.do(t, "GET", "/api/health", "")
	if body["kill_switch"] != true {
		t.Errorf("health kill_switch = %v, want true", body["kill_switch"])
	}
}

func TestKillSwitchUnconfigured(t *testing.T) {
	env := testServer(t)
	env.srv = New(env.engine, nil, "test-version", nil)

	if code, _ := env.do(t, "GET", "/api/killswitch", ""); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
}

func TestHealthGuardRoute(t *testing.T) {
	env := testServer(t)

	code, body := env.do(t, "PUT", "/api/health/guard", `{"degraded":true,"reason":"dispatch backlog"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if body["degraded"] != true || body["reason"] != "dispatch backlog" {
		t.Errorf("guard = %v", body)
	}
	if !env.engine.Health().Degraded() {
		t.Error("engine guard not degraded")
	}
}
