package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/whetstone-ai/whetstone/session"
	"github.com/whetstone-ai/whetstone/symposium"
)

// StatusHandler serves the engine status probe.
type StatusHandler struct {
	session *session.Session
	debates *symposium.Coordinator
	started time.Time
	logger  *zap.Logger
}

// NewStatusHandler creates the status handler.
func NewStatusHandler(s *session.Session, c *symposium.Coordinator, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		session: s,
		debates: c,
		started: time.Now(),
		logger:  logger.With(zap.String("handler", "status")),
	}
}

type statusView struct {
	Backend        string        `json:"backend"`
	BackendHealthy bool          `json:"backend_healthy"`
	BackendLatency time.Duration `json:"backend_latency_ms"`
	Persona        string        `json:"persona,omitempty"`
	SessionBusy    bool          `json:"session_busy"`
	Symposium      string        `json:"symposium"`
	Uptime         string        `json:"uptime"`
}

// HandleStatus probes the backend and reports engine state. The probe is
// bounded so a dead backend cannot hang the status page.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	view := statusView{
		Persona:     h.session.Persona(),
		SessionBusy: h.session.Busy(),
		Symposium:   "idle",
		Uptime:      time.Since(h.started).Round(time.Second).String(),
	}
	if s := h.debates.Current(); s != nil {
		view.Symposium = string(s.State())
	}

	if backend := h.session.Backend(); backend != nil {
		view.Backend = backend.Name()
		probeCtx, cancel := contextWithProbeTimeout(r)
		defer cancel()
		if hs, err := backend.HealthCheck(probeCtx); err == nil {
			view.BackendHealthy = hs.Healthy
			view.BackendLatency = hs.Latency / time.Millisecond
		}
	}

	WriteSuccess(w, view)
}
