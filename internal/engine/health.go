package engine

import (
	"sync"
	"time"
)

// HealthGuard is the external health signal checked by the last hard gate.
// Integrations (generation-service probes, dispatch backlog monitors, the
// operator API) mark it degraded; while degraded no conversation sends.
type HealthGuard struct {
	mu       sync.RWMutex
	degraded bool
	reason   string
	since    time.Time
}

// Set records the current health. reason is kept for status reporting.
func (h *HealthGuard) Set(degraded bool, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if degraded != h.degraded {
		h.since = time.Now().UTC()
	}
	h.degraded = degraded
	if !degraded {
		reason = ""
	}
	h.reason = reason
}

// Degraded reports whether sends must be held back.
func (h *HealthGuard) Degraded() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.degraded
}

// HealthStatus is a point-in-time view of the guard.
type HealthStatus struct {
	Degraded bool      `json:"degraded"`
	Reason   string    `json:"reason,omitempty"`
	Since    time.Time `json:"since,omitempty"`
}

func (h *HealthGuard) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HealthStatus{Degraded: h.degraded, Reason: h.reason, Since: h.since}
}
