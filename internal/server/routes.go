package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lazypower/wind/internal/engine"
	"github.com/lazypower/wind/internal/store"
)

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	var req struct {
		At time.Time `json:"at"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	at := req.At
	if at.IsZero() {
		at = s.engine.Clock.Now()
	}

	report, err := s.engine.Tick(r.Context(), at)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tick_at":   report.TickAt,
		"scanned":   report.Scanned,
		"sent":      report.Sent(),
		"decisions": report.Decisions,
	})
}

func (s *Server) handleSubmitTopic(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID string    `json:"conversation_id"`
		Type           string    `json:"type"`
		Family         string    `json:"family"`
		Title          string    `json:"title"`
		Content        string    `json:"content"`
		Source         string    `json:"source"`
		NoveltyKey     string    `json:"novelty_key"`
		Priority       float64   `json:"priority"`
		ExpiresAt      time.Time `json:"expires_at"`
		At             time.Time `json:"at"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	t, err := s.engine.SubmitTopic(r.Context(), engine.TopicInput{
		ConversationID: req.ConversationID,
		Type:           store.TopicType(strings.ToLower(req.Type)),
		Family:         req.Family,
		Title:          req.Title,
		Content:        req.Content,
		Source:         req.Source,
		NoveltyKey:     req.NoveltyKey,
		Priority:       req.Priority,
		ExpiresAt:      req.ExpiresAt,
		At:             req.At,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, topicView(t))
}

func (s *Server) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	t, err := s.db.GetTopic(chi.URLParam(r, "topicID"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "topic not found")
		return
	}
	writeJSON(w, http.StatusOK, topicView(t))
}

func (s *Server) handleAckTopic(w http.ResponseWriter, r *http.Request) {
	t, err := s.engine.AcknowledgeTopic(r.Context(), chi.URLParam(r, "topicID"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, topicView(t))
}

func (s *Server) handleDismissTopic(w http.ResponseWriter, r *http.Request) {
	t, err := s.engine.DismissTopic(r.Context(), chi.URLParam(r, "topicID"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, topicView(t))
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.db.ListConversations()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	states, err := s.db.ListWindStates()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	out := make([]conversationJSON, len(convs))
	for i := range convs {
		var st *store.WindState
		if v, ok := states[convs[i].ID]; ok {
			st = &v
		}
		out[i] = conversationView(&convs[i], st)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":         len(out),
		"conversations": out,
	})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	c, err := s.db.GetConversation(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	st, err := s.db.GetWindState(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationView(c, st))
}

// handlePutConversation is how the policy subsystem registers a
// conversation and its per-conversation overrides.
func (s *Server) handlePutConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	var req conversationJSON
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if msg := validateConversation(&req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	c := &store.Conversation{
		ID:          id,
		DisplayName: req.DisplayName,
		WindEnabled: req.WindEnabled,
		Allowed:     req.Allowed,
		Threshold:   req.Threshold,
		DailyCap:    req.DailyCap,
		QuietStart:  req.QuietStart,
		QuietEnd:    req.QuietEnd,
		Timezone:    req.Timezone,
	}
	if err := s.db.UpsertConversation(c); err != nil {
		s.writeEngineError(w, err)
		return
	}
	if err := s.db.EnsureWindState(id); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.logger.Info("conversation updated",
		zap.String("conversation_id", id),
		zap.Bool("wind_enabled", c.WindEnabled),
		zap.Bool("allowed", c.Allowed))
	writeJSON(w, http.StatusOK, conversationView(c, nil))
}

func validateConversation(c *conversationJSON) string {
	for _, h := range []*int{c.QuietStart, c.QuietEnd} {
		if h != nil && (*h < 0 || *h > 23) {
			return "quiet hours must be within 0-23"
		}
	}
	if c.DailyCap != nil && *c.DailyCap < 0 {
		return "daily_cap cannot be negative"
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return "unknown timezone " + strconv.Quote(c.Timezone)
		}
	}
	return ""
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	var topics []store.Topic
	var err error
	if r.URL.Query().Get("all") != "" {
		topics, err = s.db.ListTopics(id)
	} else {
		topics, err = s.db.ListLiveTopics(id)
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"count":           len(topics),
		"topics":          topicViews(topics),
	})
}

func (s *Server) handleUserMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string    `json:"text"`
		At   time.Time `json:"at"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text required")
		return
	}

	err := s.engine.RecordUserMessage(r.Context(), chi.URLParam(r, "conversationID"), req.Text, req.At)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var fb engine.Feedback
	if err := decode(r, &fb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	fb.ConversationID = chi.URLParam(r, "conversationID")

	if err := s.engine.ReportFeedback(r.Context(), fb); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSnooze accepts either an absolute until or a duration such as "4h".
// An empty body lifts the snooze.
func (s *Server) handleSnooze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Until    time.Time `json:"until"`
		Duration string    `json:"duration"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	until := req.Until
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid duration")
			return
		}
		until = s.engine.Clock.Now().Add(d)
	}

	id := chi.URLParam(r, "conversationID")
	if err := s.engine.SnoozeConversation(r.Context(), id, until); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"snooze_until":    optTime(until),
	})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	n, err := s.engine.ArchiveStaleTopics(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"archived":        n,
	})
}

func (s *Server) handleMine(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	topics, err := s.engine.MineTopics(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	out := make([]topicJSON, len(topics))
	for i, t := range topics {
		out[i] = topicView(t)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"count":           len(out),
		"topics":          out,
	})
}

func (s *Server) handleImpulseLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	logs, err := s.db.ListImpulseLogs(id, limit)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	out := make([]impulseJSON, len(logs))
	for i := range logs {
		out[i] = impulseView(&logs[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"count":           len(out),
		"logs":            out,
	})
}

func (s *Server) handleGetKillSwitch(w http.ResponseWriter, r *http.Request) {
	if s.kill == nil {
		writeError(w, http.StatusServiceUnavailable, "kill switch not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"engaged": s.kill.Engaged(),
		"path":    s.kill.Path(),
	})
}

func (s *Server) handleSetKillSwitch(w http.ResponseWriter, r *http.Request) {
	if s.kill == nil {
		writeError(w, http.StatusServiceUnavailable, "kill switch not configured")
		return
	}
	var req struct {
		Engaged *bool `json:"engaged"`
	}
	if err := decode(r, &req); err != nil || req.Engaged == nil {
		writeError(w, http.StatusBadRequest, "engaged required")
		return
	}
	s.kill.Set(*req.Engaged)
	writeJSON(w, http.StatusOK, map[string]any{
		"engaged": s.kill.Engaged(),
		"path":    s.kill.Path(),
	})
}

func (s *Server) handleSetGuard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Degraded *bool  `json:"degraded"`
		Reason   string `json:"reason"`
	}
	if err := decode(r, &req); err != nil || req.Degraded == nil {
		writeError(w, http.StatusBadRequest, "degraded required")
		return
	}
	guard := s.engine.Health()
	guard.Set(*req.Degraded, req.Reason)
	s.logger.Warn("health guard set",
		zap.Bool("degraded", *req.Degraded),
		zap.String("reason", req.Reason))
	writeJSON(w, http.StatusOK, guard.Status())
}
