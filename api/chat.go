package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/whetstone-ai/whetstone/internal/metrics"
	"github.com/whetstone-ai/whetstone/session"
	"github.com/whetstone-ai/whetstone/stream"
	"github.com/whetstone-ai/whetstone/types"
)

// ChatRequest is the body of a chat submission.
type ChatRequest struct {
	Query string `json:"query"`
}

// ChatHandler serves the one-on-one conversation endpoints.
type ChatHandler struct {
	session *session.Session
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewChatHandler creates the chat handler. collector may be nil.
func NewChatHandler(s *session.Session, collector *metrics.Collector, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		session: s,
		metrics: collector,
		logger:  logger.With(zap.String("handler", "chat")),
	}
}

// HandleChat streams one generation over SSE.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	ch, err := h.session.Submit(r.Context(), req.Query)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	start := time.Now()
	backendName := ""
	if b := h.session.Backend(); b != nil {
		backendName = b.Name()
	}

	stream.PrepareHeaders(w)
	sw := stream.NewSSEWriter(w)
	tokens := 0
	status := "ok"
	for ev := range ch {
		switch ev.Type {
		case stream.EventToken:
			tokens++
		case stream.EventError:
			status = "error"
		}
		if err := sw.WriteEvent(ev); err != nil {
			h.logger.Warn("chat stream aborted", zap.Error(err))
			status = "aborted"
			for range ch {
			}
			break
		}
	}

	if h.metrics != nil {
		h.metrics.RecordGeneration(backendName, h.session.Persona(), status, time.Since(start), tokens)
	}
}

// HandleCancel aborts the in-flight generation, if any.
func (h *ChatHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.session.Cancel()
	WriteSuccess(w, map[string]string{"status": "cancelled"})
}

// HandleClear resets the conversation history.
func (h *ChatHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	h.session.ClearHistory()
	WriteSuccess(w, map[string]string{"status": "cleared"})
}

// HandleHistory returns the in-memory conversation so far.
func (h *ChatHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.session.History())
}

// HandleWS serves chat over a websocket. The client sends one JSON frame
// per submission ({"query": ...}); the server answers with the same event
// sequence the SSE endpoint produces, then waits for the next frame.
func (h *ChatHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	ws := stream.NewWSConn(conn, h.logger)
	defer ws.Close()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return // client gone
		}
		var req ChatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			h.logger.Debug("bad websocket frame", zap.Error(err))
			continue
		}

		ch, err := h.session.Submit(ctx, req.Query)
		if err != nil {
			ev := stream.ErrorEvent(types.GetError(err))
			if werr := ws.WriteEvent(ctx, ev); werr != nil {
				return
			}
			continue
		}
		if err := ws.WriteAll(ctx, ch); err != nil {
			h.logger.Warn("websocket stream aborted", zap.Error(err))
			h.session.Cancel()
			return
		}
	}
}
