package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/whetstone-ai/whetstone/registry"
	"github.com/whetstone-ai/whetstone/session"
	"github.com/whetstone-ai/whetstone/store"
	"github.com/whetstone-ai/whetstone/types"
)

// PersonaHandler serves persona listing, selection, and overrides.
type PersonaHandler struct {
	registry *registry.Registry
	session  *session.Session
	store    *store.Store
	logger   *zap.Logger
}

// NewPersonaHandler creates the persona handler. st may be nil; selections
// then last only for the process lifetime.
func NewPersonaHandler(reg *registry.Registry, s *session.Session, st *store.Store, logger *zap.Logger) *PersonaHandler {
	return &PersonaHandler{
		registry: reg,
		session:  s,
		store:    st,
		logger:   logger.With(zap.String("handler", "personas")),
	}
}

// personaSummary is the list-view projection of a persona.
type personaSummary struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
}

// HandleList returns all selectable personas.
func (h *PersonaHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	current := h.session.Persona()
	personas := h.registry.List()
	out := make([]personaSummary, 0, len(personas))
	for _, p := range personas {
		out = append(out, personaSummary{
			Key:         p.Key,
			Name:        p.Name,
			Description: p.Description,
			Active:      p.Name == current || p.Key == current,
		})
	}
	WriteSuccess(w, out)
}

// HandleDetail returns one persona with overrides applied.
func (h *PersonaHandler) HandleDetail(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	p, err := h.registry.Get(name)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, p)
}

// selectRequest names the persona to activate.
type selectRequest struct {
	Name string `json:"name"`
}

// HandleSelect switches the session's active persona. The name is
// validated against the registry before selection takes effect.
func (h *PersonaHandler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	p, err := h.registry.Get(req.Name)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.session.SelectPersona(p.Name)
	if h.store != nil {
		if err := h.store.SetSetting(store.DefaultPersonaKey, p.Name); err != nil {
			h.logger.Warn("failed to persist persona selection", zap.Error(err))
		}
	}
	h.logger.Info("persona selected", zap.String("persona", p.Name))
	WriteSuccess(w, map[string]string{"persona": p.Name})
}

// overrideRequest carries per-persona customization. Absent fields are
// left unchanged.
type overrideRequest struct {
	Preamble *string          `json:"preamble,omitempty"`
	Params   *types.GenParams `json:"params,omitempty"`
}

// HandleOverride sets a persona's preamble or generation parameters.
func (h *PersonaHandler) HandleOverride(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req overrideRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Preamble == nil && req.Params == nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "override must set preamble or params"), h.logger)
		return
	}

	err := h.registry.UpdateOverride(name, registry.Override{
		Preamble: req.Preamble,
		Params:   req.Params,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	p, err := h.registry.Get(name)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, p)
}

// HandleReload re-reads the persona file from disk. Overrides survive
// reloads because they live in settings, not in the file.
func (h *PersonaHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Reload(); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]int{"personas": len(h.registry.List())})
}
