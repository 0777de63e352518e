// Package symposium orchestrates a two-persona debate: alternating turns,
// moderator interjections, speaker attribution, and the Idle/Active/Stopped
// lifecycle. One debate is active per process; the Coordinator enforces
// that exclusivity.
package symposium

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whetstone-ai/whetstone/backends"
	"github.com/whetstone-ai/whetstone/registry"
	"github.com/whetstone-ai/whetstone/resolver"
	"github.com/whetstone-ai/whetstone/stream"
	"github.com/whetstone-ai/whetstone/types"
)

// ModeratorName labels moderator turns in the transcript.
const ModeratorName = "Moderator"

const eventBuffer = 64

// State is the debate lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateActive  State = "active"
	StateStopped State = "stopped"
)

// PersonaSource resolves participant names at start time.
type PersonaSource interface {
	Get(name string) (registry.Persona, error)
}

// pendingInterjection is a moderator prompt awaiting consumption by the
// next turn. Consumed exactly once, on the first turn that completes
// successfully after it was recorded.
type pendingInterjection struct {
	text   string
	target types.InterjectTarget
}

// Symposium is one debate instance. All methods are safe for concurrent
// use; turns are strictly serialized.
type Symposium struct {
	topic    string
	personaA registry.Persona
	personaB registry.Persona
	params   types.GenParams
	backend  backends.Backend
	logger   *zap.Logger

	mu        sync.Mutex
	state     State
	turns     []types.DebateTurn
	scheduled int // completed alternation turns; out-of-band turns excluded
	pending   *pendingInterjection
	busy      bool
	cancel    context.CancelFunc
}

// newSymposium is called by the Coordinator once participants are
// validated.
func newSymposium(a, b registry.Persona, topic string, backend backends.Backend, params types.GenParams, logger *zap.Logger) *Symposium {
	return &Symposium{
		topic:    topic,
		personaA: a,
		personaB: b,
		params:   params,
		backend:  backend,
		logger:   logger,
		state:    StateActive,
	}
}

// State returns the lifecycle state.
func (s *Symposium) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Topic returns the debate topic.
func (s *Symposium) Topic() string { return s.topic }

// Participants returns the two debaters in slot order.
func (s *Symposium) Participants() (registry.Persona, registry.Persona) {
	return s.personaA, s.personaB
}

// Transcript returns a copy of all DebateTurns in index order, moderator
// turns included.
func (s *Symposium) Transcript() []types.DebateTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.DebateTurn, len(s.turns))
	copy(out, s.turns)
	return out
}

// NextTurn generates the next debate turn and returns its event stream.
// The speaker is decided before generation starts and announced on every
// event. A backend failure aborts the turn without appending a DebateTurn
// or advancing the alternation, so the same speaker is retried on the next
// call.
func (s *Symposium) NextTurn(ctx context.Context) (<-chan stream.Event, error) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return nil, types.NewError(types.ErrSymposiumNotActive, "no active debate")
	}
	if s.busy {
		s.mu.Unlock()
		return nil, types.NewError(types.ErrSymposiumNotActive, "a debate turn is already in flight").WithHTTPStatus(429)
	}

	speaker, slot, outOfBand := s.nextSpeakerLocked()
	opponent := s.personaB
	if slot == types.SlotB {
		opponent = s.personaA
	}
	// Snapshot the pending pointer itself: a replacement recorded while
	// this turn streams must survive the turn's completion.
	pending := s.pending
	var interjection string
	if pending != nil {
		interjection = pending.text
	}
	transcript := make([]types.DebateTurn, len(s.turns))
	copy(transcript, s.turns)

	genCtx, cancel := context.WithCancel(ctx)
	s.busy = true
	s.cancel = cancel
	s.mu.Unlock()

	prompt := resolver.DebatePrompt(speaker, opponent, s.topic, transcript, interjection)

	out := make(chan stream.Event, eventBuffer)
	go s.run(genCtx, cancel, speaker, slot, outOfBand, pending, prompt, out)
	return out, nil
}

// nextSpeakerLocked applies the speaker-selection policy: a targeted
// pending interjection redirects the turn to its target out-of-band;
// otherwise strict alternation, personaA on odd turns (1-based).
func (s *Symposium) nextSpeakerLocked() (registry.Persona, types.Slot, bool) {
	if s.pending != nil {
		switch s.pending.target {
		case types.TargetA:
			return s.personaA, types.SlotA, true
		case types.TargetB:
			return s.personaB, types.SlotB, true
		}
	}
	if s.scheduled%2 == 0 {
		return s.personaA, types.SlotA, false
	}
	return s.personaB, types.SlotB, false
}

func (s *Symposium) run(ctx context.Context, cancel context.CancelFunc, speaker registry.Persona, slot types.Slot, outOfBand bool, pending *pendingInterjection, prompt string, out chan<- stream.Event) {
	defer close(out)
	defer cancel()
	defer func() {
		s.mu.Lock()
		s.busy = false
		s.cancel = nil
		s.mu.Unlock()
	}()

	ch, err := s.backend.Generate(ctx, &backends.GenerateRequest{Prompt: prompt, Params: s.params})
	if err != nil {
		s.emitError(out, speaker.Name, err)
		return
	}

	var sb strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			s.emitError(out, speaker.Name, chunk.Err)
			return
		}
		if chunk.Done {
			break
		}
		sb.WriteString(chunk.Content)
		out <- stream.Token(chunk.Content, speaker.Name)
	}

	s.mu.Lock()
	if s.state != StateActive {
		// Stop won the race; its final count must not grow afterwards.
		s.mu.Unlock()
		s.emitError(out, speaker.Name, types.NewError(types.ErrSymposiumNotActive, "debate stopped before the turn finished"))
		return
	}
	turn := types.DebateTurn{
		Slot:      slot,
		Speaker:   speaker.Name,
		Text:      sb.String(),
		Index:     len(s.turns) + 1,
		Timestamp: time.Now(),
	}
	s.turns = append(s.turns, turn)
	if !outOfBand {
		s.scheduled++
	}
	// Only the interjection this turn actually answered is consumed; one
	// recorded mid-turn stays queued for the next speaker.
	if pending != nil && s.pending == pending {
		s.pending = nil
	}
	s.mu.Unlock()

	out <- stream.Complete(speaker.Name, &turn)
	out <- stream.Done()

	s.logger.Debug("debate turn complete",
		zap.String("speaker", speaker.Name),
		zap.Int("index", turn.Index),
		zap.Bool("out_of_band", outOfBand))
}

// emitError surfaces a turn failure. The pending interjection, if any, is
// kept so the retried turn consumes it.
func (s *Symposium) emitError(out chan<- stream.Event, speaker string, err error) {
	werr := types.GetError(err)
	ev := stream.ErrorEvent(werr)
	ev.Speaker = speaker
	out <- ev
	s.logger.Warn("debate turn failed",
		zap.String("speaker", speaker),
		zap.String("code", string(werr.Code)),
		zap.Error(err))
}

// Interject records a moderator interjection. The moderator's turn is
// appended to the transcript immediately and synchronously; the text is
// also queued for the next generated turn. A second interjection before
// the first is consumed replaces it, but both moderator turns remain in
// the transcript.
func (s *Symposium) Interject(text string, target types.InterjectTarget) (types.DebateTurn, error) {
	if strings.TrimSpace(text) == "" {
		return types.DebateTurn{}, types.NewError(types.ErrInvalidRequest, "interjection text must be non-empty")
	}
	if !target.Valid() {
		return types.DebateTurn{}, types.NewError(types.ErrInvalidRequest, "unknown interjection target: "+string(target))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return types.DebateTurn{}, types.NewError(types.ErrSymposiumNotActive, "no active debate")
	}

	turn := types.DebateTurn{
		Slot:      types.SlotModerator,
		Speaker:   ModeratorName,
		Text:      text,
		Index:     len(s.turns) + 1,
		Timestamp: time.Now(),
	}
	s.turns = append(s.turns, turn)
	s.pending = &pendingInterjection{text: text, target: target}

	s.logger.Debug("moderator interjection",
		zap.String("target", string(target)),
		zap.Int("index", turn.Index))
	return turn, nil
}

// Stop ends the debate and returns the final turn count. In-flight
// generation is cancelled. Stopping a non-active debate fails with
// SYMPOSIUM_NOT_ACTIVE.
func (s *Symposium) Stop() (int, error) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return 0, types.NewError(types.ErrSymposiumNotActive, "no active debate")
	}
	s.state = StateStopped
	cancel := s.cancel
	count := len(s.turns)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.logger.Info("debate stopped", zap.Int("turns", count))
	return count, nil
}

// Coordinator enforces the one-active-debate-per-process rule and owns
// participant validation.
type Coordinator struct {
	personas PersonaSource
	logger   *zap.Logger

	mu      sync.Mutex
	backend backends.Backend
	params  types.GenParams
	current *Symposium
}

// NewCoordinator creates the process-wide debate coordinator.
func NewCoordinator(personas PersonaSource, backend backends.Backend, params types.GenParams, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		personas: personas,
		backend:  backend,
		params:   params,
		logger:   logger.With(zap.String("component", "symposium")),
	}
}

// SetBackend swaps the backend used by debates started after this call.
func (c *Coordinator) SetBackend(b backends.Backend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend = b
}

// Start validates the participants and begins a new debate. Fails with
// SYMPOSIUM_ACTIVE while another debate is active; a stopped debate is
// discarded and replaced.
func (c *Coordinator) Start(personaA, personaB, topic string) (*Symposium, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, types.NewError(types.ErrEmptyTopic, "debate topic must be non-empty")
	}

	a, err := c.personas.Get(personaA)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidParticipants, "unknown participant: "+personaA)
	}
	b, err := c.personas.Get(personaB)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidParticipants, "unknown participant: "+personaB)
	}
	if a.Key == b.Key {
		return nil, types.NewError(types.ErrInvalidParticipants, "participants must be two distinct personas")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.State() == StateActive {
		return nil, types.NewError(types.ErrSymposiumActive, "a debate is already active").WithHTTPStatus(409)
	}
	if c.backend == nil {
		return nil, types.NewError(types.ErrBackendUnavailable, "no inference backend configured")
	}

	c.current = newSymposium(a, b, topic, c.backend, c.params, c.logger)
	c.logger.Info("debate started",
		zap.String("persona_a", a.Name),
		zap.String("persona_b", b.Name),
		zap.String("topic", topic))
	return c.current, nil
}

// Current returns the most recently started debate, or nil.
func (c *Coordinator) Current() *Symposium {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Stop stops the current debate, returning its final turn count.
func (c *Coordinator) Stop() (int, error) {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil {
		return 0, types.NewError(types.ErrSymposiumNotActive, "no active debate")
	}
	return cur.Stop()
}
