package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/whetstone-ai/whetstone/internal/metrics"
	"github.com/whetstone-ai/whetstone/stream"
	"github.com/whetstone-ai/whetstone/symposium"
	"github.com/whetstone-ai/whetstone/types"
)

// SymposiumHandler serves the debate endpoints.
type SymposiumHandler struct {
	debates *symposium.Coordinator
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewSymposiumHandler creates the symposium handler. collector may be nil.
func NewSymposiumHandler(c *symposium.Coordinator, collector *metrics.Collector, logger *zap.Logger) *SymposiumHandler {
	return &SymposiumHandler{
		debates: c,
		metrics: collector,
		logger:  logger.With(zap.String("handler", "symposium")),
	}
}

// startRequest names the debaters and the topic.
type startRequest struct {
	PersonaA string `json:"persona_a"`
	PersonaB string `json:"persona_b"`
	Topic    string `json:"topic"`
}

// HandleStart begins a new debate.
func (h *SymposiumHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	s, err := h.debates.Start(req.PersonaA, req.PersonaB, req.Topic)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	a, b := s.Participants()
	WriteSuccess(w, map[string]string{
		"persona_a": a.Name,
		"persona_b": b.Name,
		"topic":     s.Topic(),
		"state":     string(s.State()),
	})
}

// HandleNext streams the next debate turn over SSE.
func (h *SymposiumHandler) HandleNext(w http.ResponseWriter, r *http.Request) {
	s := h.debates.Current()
	if s == nil {
		WriteError(w, types.NewError(types.ErrSymposiumNotActive, "no active debate"), h.logger)
		return
	}
	ch, err := s.NextTurn(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	stream.PrepareHeaders(w)
	sw := stream.NewSSEWriter(w)
	for ev := range ch {
		if err := sw.WriteEvent(ev); err != nil {
			h.logger.Warn("debate stream aborted", zap.Error(err))
			for range ch {
			}
			return
		}
		if ev.Type == stream.EventComplete && ev.Turn != nil && h.metrics != nil {
			h.metrics.RecordDebateTurn(string(ev.Turn.Slot))
		}
	}
}

// interjectRequest carries the moderator's words and their target.
type interjectRequest struct {
	Text   string                `json:"text"`
	Target types.InterjectTarget `json:"target"`
}

// HandleInterject records a moderator interjection. The moderator turn is
// returned synchronously; the next generated turn consumes the text.
func (h *SymposiumHandler) HandleInterject(w http.ResponseWriter, r *http.Request) {
	s := h.debates.Current()
	if s == nil {
		WriteError(w, types.NewError(types.ErrSymposiumNotActive, "no active debate"), h.logger)
		return
	}
	var req interjectRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Target == "" {
		req.Target = types.TargetBoth
	}
	turn, err := s.Interject(req.Text, req.Target)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordInterjection(string(req.Target))
	}
	WriteSuccess(w, turn)
}

// HandleStop ends the debate and reports the final turn count.
func (h *SymposiumHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	count, err := h.debates.Stop()
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]int{"turns": count})
}

// HandleTranscript returns the full debate transcript so far.
func (h *SymposiumHandler) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	s := h.debates.Current()
	if s == nil {
		WriteError(w, types.NewError(types.ErrSymposiumNotActive, "no active debate"), h.logger)
		return
	}
	WriteSuccess(w, map[string]interface{}{
		"state":      string(s.State()),
		"topic":      s.Topic(),
		"transcript": s.Transcript(),
	})
}
