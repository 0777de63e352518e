package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whetstone-ai/whetstone/backends"
	"github.com/whetstone-ai/whetstone/backends/factory"
	"github.com/whetstone-ai/whetstone/session"
	"github.com/whetstone-ai/whetstone/store"
	"github.com/whetstone-ai/whetstone/symposium"
	"github.com/whetstone-ai/whetstone/types"
)

const probeTimeout = 5 * time.Second

func contextWithProbeTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), probeTimeout)
}

// modelLister is implemented by backends that can enumerate available
// models (ollama). Others report only their active model.
type modelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// ModelsHandler serves model discovery and switching.
type ModelsHandler struct {
	session *session.Session
	debates *symposium.Coordinator
	store   *store.Store
	logger  *zap.Logger

	mu  sync.Mutex
	cfg factory.Config
}

// NewModelsHandler creates the models handler. cfg is the active backend
// configuration; switches derive from it, changing only the model. st may
// be nil; switches then last only for the process lifetime.
func NewModelsHandler(s *session.Session, c *symposium.Coordinator, cfg factory.Config, st *store.Store, logger *zap.Logger) *ModelsHandler {
	return &ModelsHandler{
		session: s,
		debates: c,
		store:   st,
		cfg:     cfg,
		logger:  logger.With(zap.String("handler", "models")),
	}
}

type modelsView struct {
	Active    string   `json:"active"`
	Available []string `json:"available"`
}

// HandleList enumerates the models the backend offers.
func (h *ModelsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	active := h.cfg.Model
	h.mu.Unlock()

	view := modelsView{Active: active}
	if lister, ok := h.session.Backend().(modelLister); ok {
		ctx, cancel := contextWithProbeTimeout(r)
		defer cancel()
		models, err := lister.ListModels(ctx)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		view.Available = models
	} else {
		view.Available = []string{active}
	}
	WriteSuccess(w, view)
}

type selectModelRequest struct {
	Model string `json:"model"`
}

// HandleSelect switches the active model. A fresh backend is built from
// the stored configuration and installed in the session and the debate
// coordinator; in-flight generations keep the backend they started with.
func (h *ModelsHandler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectModelRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Model == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "model must be non-empty"), h.logger)
		return
	}

	h.mu.Lock()
	cfg := h.cfg
	cfg.Model = req.Model
	backend, err := factory.New(cfg, h.logger)
	if err == nil {
		h.cfg = cfg
	}
	h.mu.Unlock()
	if err != nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, err.Error()), h.logger)
		return
	}

	h.install(backend)
	if h.store != nil {
		if err := h.store.SetSetting(store.DefaultModelKey, req.Model); err != nil {
			h.logger.Warn("failed to persist model selection", zap.Error(err))
		}
	}

	// Probe the new backend so the caller learns immediately whether the
	// model is reachable. The switch holds either way.
	healthy := false
	probeCtx, cancel := contextWithProbeTimeout(r)
	defer cancel()
	if hs, err := backend.HealthCheck(probeCtx); err == nil {
		healthy = hs.Healthy
	}

	h.logger.Info("model switched", zap.String("model", req.Model), zap.Bool("healthy", healthy))
	WriteSuccess(w, map[string]interface{}{
		"model":   req.Model,
		"backend": backend.Name(),
		"healthy": healthy,
	})
}

func (h *ModelsHandler) install(b backends.Backend) {
	h.session.SetBackend(b)
	h.debates.SetBackend(b)
}
