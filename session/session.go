// Package session implements the single-user conversation session: persona
// selection, mode switches, bounded-concurrency submission, and the ordered
// event stream each submission produces. A session accepts one in-flight
// generation at a time; a second submission while one is running fails fast
// with SESSION_BUSY rather than queueing.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whetstone-ai/whetstone/backends"
	"github.com/whetstone-ai/whetstone/registry"
	"github.com/whetstone-ai/whetstone/resolver"
	"github.com/whetstone-ai/whetstone/stream"
	"github.com/whetstone-ai/whetstone/types"
)

// eventBuffer sizes the outbound event channel. Large enough that a slow
// consumer does not stall token production for typical responses.
const eventBuffer = 64

// Recorder persists finished interactions. Implementations decide whether
// recording is enabled; the session calls it unconditionally when non-nil.
type Recorder interface {
	RecordInteraction(ctx context.Context, persona, query, response, sessionID string) error
}

// ContextResolver is the resolution surface the session consumes.
type ContextResolver interface {
	Resolve(ctx context.Context, personaName, query string) (*resolver.Resolved, error)
}

// Config tunes a session.
type Config struct {
	// DefaultPersona is selected at construction. May be empty.
	DefaultPersona string `yaml:"default_persona"`
	// Params are the base generation parameters. Per-persona overrides are
	// merged on top per submission.
	Params types.GenParams `yaml:"params"`
}

// Session is a single user's conversation state. All methods are safe for
// concurrent use.
type Session struct {
	id       string
	resolver ContextResolver
	recorder Recorder
	cfg      Config
	logger   *zap.Logger

	mu      sync.Mutex
	backend backends.Backend
	persona string
	modes   resolver.Modes
	history []types.Turn
	busy    bool
	cancel  context.CancelFunc
}

// New creates a session with a fresh identifier. recorder may be nil, in
// which case interactions are not persisted.
func New(res ContextResolver, backend backends.Backend, recorder Recorder, cfg Config, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		id:       uuid.NewString(),
		resolver: res,
		recorder: recorder,
		cfg:      cfg,
		backend:  backend,
		persona:  cfg.DefaultPersona,
	}
	s.logger = logger.With(zap.String("component", "session"), zap.String("session_id", s.id))
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// SelectPersona switches the active persona. Validation happens at submit
// time against the registry; selection itself only records the name.
func (s *Session) SelectPersona(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persona = name
}

// Persona returns the active persona name.
func (s *Session) Persona() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persona
}

// SetModes replaces the session's mode switches.
func (s *Session) SetModes(m resolver.Modes) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes = m
}

// Modes returns the current mode switches.
func (s *Session) Modes() resolver.Modes {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modes
}

// SetBackend swaps the inference backend. In-flight generations keep the
// backend they started with.
func (s *Session) SetBackend(b backends.Backend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backend = b
}

// Backend returns the active backend.
func (s *Session) Backend() backends.Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// History returns a copy of the conversation so far, oldest first.
func (s *Session) History() []types.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Restore seeds the conversation history, oldest first. Used at startup
// to carry the persisted interaction log back into the session. A no-op
// once the session has history or a generation in flight.
func (s *Session) Restore(turns []types.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy || len(s.history) > 0 {
		return
	}
	s.history = append(s.history, turns...)
}

// ClearHistory drops the conversation history. The persona and modes are
// kept.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// Busy reports whether a generation is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Cancel aborts the in-flight generation, if any. The partial response is
// committed to history as a truncated assistant turn and the stream ends
// with complete+done rather than an error.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Submit starts a generation for query and returns its event stream.
// Precondition failures (busy session, empty query, unknown persona) are
// returned synchronously and leave the session unchanged. Failures during
// generation arrive on the stream as a terminal error event; the exchange
// is still committed to history with a synthetic assistant turn so the
// failure is visible in the transcript, and the session is immediately
// reusable.
func (s *Session) Submit(ctx context.Context, query string) (<-chan stream.Event, error) {
	if strings.TrimSpace(query) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "query must be non-empty")
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, types.NewError(types.ErrSessionBusy, "a generation is already in flight").WithHTTPStatus(429)
	}
	personaName := s.persona
	modes := s.modes
	backend := s.backend
	snapshot := make([]types.Turn, len(s.history))
	copy(snapshot, s.history)
	s.mu.Unlock()

	if backend == nil {
		return nil, types.NewError(types.ErrBackendUnavailable, "no inference backend configured")
	}

	res, err := s.resolver.Resolve(ctx, personaName, query)
	if err != nil {
		return nil, err
	}

	prompt := resolver.ChatPrompt(res, snapshot, query, modes)
	params := s.cfg.Params.Merge(res.Persona.Params)

	genCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		cancel()
		return nil, types.NewError(types.ErrSessionBusy, "a generation is already in flight").WithHTTPStatus(429)
	}
	s.busy = true
	s.cancel = cancel
	// The user turn is visible in history as soon as the generation is
	// accepted, before any tokens arrive.
	s.history = append(s.history, types.NewUserTurn(query))
	s.mu.Unlock()

	out := make(chan stream.Event, eventBuffer)
	go s.run(genCtx, cancel, backend, res.Persona, prompt, params, query, out)
	return out, nil
}

func (s *Session) run(ctx context.Context, cancel context.CancelFunc, backend backends.Backend, persona registry.Persona, prompt string, params types.GenParams, query string, out chan<- stream.Event) {
	defer close(out)
	defer cancel()
	defer func() {
		s.mu.Lock()
		s.busy = false
		s.cancel = nil
		s.mu.Unlock()
	}()

	speaker := persona.Name

	ch, err := backend.Generate(ctx, &backends.GenerateRequest{Prompt: prompt, Params: params})
	if err != nil {
		s.finishError(out, speaker, err)
		return
	}

	var sb strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			if ctx.Err() == context.Canceled {
				s.finishTruncated(out, speaker, sb.String())
				return
			}
			s.finishError(out, speaker, chunk.Err)
			return
		}
		if chunk.Done {
			break
		}
		sb.WriteString(chunk.Content)
		out <- stream.Token(chunk.Content, speaker)
	}

	response := sb.String()
	turn := types.NewAssistantTurn(response)
	s.commitAssistant(turn)
	out <- stream.CompleteChat(speaker, &turn)
	out <- stream.Done()

	s.record(persona.Name, query, response)
	s.logger.Debug("generation complete",
		zap.String("persona", persona.Name),
		zap.Int("response_len", len(response)))
}

// finishError commits the failed exchange and emits the terminal error
// event. The synthetic assistant turn keeps the transcript honest about
// what the user saw.
func (s *Session) finishError(out chan<- stream.Event, speaker string, err error) {
	werr := types.GetError(err)
	s.commitAssistant(types.NewAssistantTurn(fmt.Sprintf("[generation failed: %s]", werr.Message)))
	ev := stream.ErrorEvent(werr)
	ev.Speaker = speaker
	out <- ev
	s.logger.Warn("generation failed",
		zap.String("code", string(werr.Code)),
		zap.Error(err))
}

// finishTruncated commits the partial response after a user-initiated
// cancel. Cancellation is not an error from the client's point of view.
func (s *Session) finishTruncated(out chan<- stream.Event, speaker, partial string) {
	turn := types.NewAssistantTurn(partial)
	turn.Truncated = true
	s.commitAssistant(turn)
	out <- stream.CompleteChat(speaker, &turn)
	out <- stream.Done()
	s.logger.Debug("generation cancelled", zap.Int("partial_len", len(partial)))
}

// commitAssistant closes the exchange opened by Submit. The user turn is
// already in history, so every generation, successful or not, ends with a
// matching assistant turn.
func (s *Session) commitAssistant(assistant types.Turn) {
	s.mu.Lock()
	s.history = append(s.history, assistant)
	s.mu.Unlock()
}

func (s *Session) record(persona, query, response string) {
	if s.recorder == nil {
		return
	}
	// Persistence is best effort; a failing store never fails the chat.
	if err := s.recorder.RecordInteraction(context.Background(), persona, query, response, s.id); err != nil {
		s.logger.Warn("failed to record interaction", zap.Error(err))
	}
}
