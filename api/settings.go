package api

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/whetstone-ai/whetstone/resolver"
	"github.com/whetstone-ai/whetstone/session"
	"github.com/whetstone-ai/whetstone/store"
)

// SettingsHandler serves the session mode switches and the persistence
// toggle, plus the persisted interaction history.
type SettingsHandler struct {
	session *session.Session
	store   *store.Store
	logger  *zap.Logger
}

// NewSettingsHandler creates the settings handler. st may be nil.
func NewSettingsHandler(s *session.Session, st *store.Store, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{
		session: s,
		store:   st,
		logger:  logger.With(zap.String("handler", "settings")),
	}
}

// settingsView reports the current switches.
type settingsView struct {
	Deep           bool `json:"deep"`
	Clarity        bool `json:"clarity"`
	LoggingEnabled bool `json:"logging_enabled"`
}

// settingsUpdate is a partial update; absent fields stay unchanged.
type settingsUpdate struct {
	Deep           *bool `json:"deep,omitempty"`
	Clarity        *bool `json:"clarity,omitempty"`
	LoggingEnabled *bool `json:"logging_enabled,omitempty"`
}

// HandleGet returns the current settings.
func (h *SettingsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	modes := h.session.Modes()
	WriteSuccess(w, settingsView{
		Deep:           modes.Deep,
		Clarity:        modes.Clarity,
		LoggingEnabled: h.store.LoggingEnabled(),
	})
}

// HandleUpdate applies a partial settings change.
func (h *SettingsHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req settingsUpdate
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	modes := h.session.Modes()
	if req.Deep != nil {
		modes.Deep = *req.Deep
	}
	if req.Clarity != nil {
		modes.Clarity = *req.Clarity
	}
	h.session.SetModes(resolver.Modes{Deep: modes.Deep, Clarity: modes.Clarity})

	if req.LoggingEnabled != nil {
		if err := h.store.SetLoggingEnabled(*req.LoggingEnabled); err != nil {
			WriteError(w, err, h.logger)
			return
		}
	}

	h.logger.Info("settings updated",
		zap.Bool("deep", modes.Deep),
		zap.Bool("clarity", modes.Clarity))
	h.HandleGet(w, r)
}

// HandleHistory returns the persisted interaction log, newest first. The
// optional limit query parameter caps the page size.
func (h *SettingsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	history, err := h.store.History(r.Context(), limit)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, history)
}
