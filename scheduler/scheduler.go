// Package scheduler runs the Socratic poke service: at a fixed interval it
// picks a random persona, generates one short provocation, and delivers it
// to a sink (terminal bell, web push, whatever the front-end wires in).
package scheduler

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whetstone-ai/whetstone/backends"
	"github.com/whetstone-ai/whetstone/registry"
	"github.com/whetstone-ai/whetstone/types"
)

// pokeQueryMarker is recorded in place of a user query for scheduled pokes.
const pokeQueryMarker = "[SYSTEM SCHEDULED POKE]"

// SessionID groups all scheduled pokes in the interaction log, and lets
// history consumers tell pokes apart from real conversations.
const SessionID = "scheduler"

// Poke is one delivered provocation.
type Poke struct {
	ID      string    `json:"id"`
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// PersonaLister enumerates selectable personas.
type PersonaLister interface {
	List() []registry.Persona
}

// Recorder persists delivered pokes. May be nil.
type Recorder interface {
	RecordInteraction(ctx context.Context, persona, query, response, sessionID string) error
}

// Sink receives delivered pokes.
type Sink func(Poke)

// Scheduler drives the poke loop. Safe for concurrent use.
type Scheduler struct {
	personas PersonaLister
	backend  backends.Backend
	recorder Recorder
	sink     Sink
	interval time.Duration
	logger   *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a scheduler. sink must be non-nil; recorder may be nil.
func New(personas PersonaLister, backend backends.Backend, recorder Recorder, sink Sink, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		personas: personas,
		backend:  backend,
		recorder: recorder,
		sink:     sink,
		interval: interval,
		logger:   logger.With(zap.String("component", "scheduler")),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run executes the poke loop until ctx is cancelled. A failed poke is
// logged and the loop continues; the scheduler never retries early.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.PokeNow(ctx); err != nil {
				s.logger.Warn("scheduled poke failed", zap.Error(err))
			}
		}
	}
}

// PokeNow generates and delivers one poke immediately.
func (s *Scheduler) PokeNow(ctx context.Context) (Poke, error) {
	personas := s.personas.List()
	if len(personas) == 0 {
		return Poke{}, types.NewError(types.ErrUnknownPersona, "no personas available")
	}

	s.mu.Lock()
	persona := personas[s.rng.Intn(len(personas))]
	pokeType := "rhetorical"
	if s.rng.Intn(2) == 1 {
		pokeType = "question"
	}
	s.mu.Unlock()

	prompt := buildPokePrompt(persona, pokeType)
	text, err := s.generate(ctx, prompt)
	if err != nil {
		return Poke{}, err
	}

	poke := Poke{
		ID:      uuid.NewString(),
		Speaker: persona.Name,
		Text:    strings.TrimSpace(text),
		At:      time.Now(),
	}
	s.sink(poke)

	if s.recorder != nil {
		if err := s.recorder.RecordInteraction(ctx, poke.Speaker, pokeQueryMarker, poke.Text, SessionID); err != nil {
			s.logger.Warn("failed to record poke", zap.Error(err))
		}
	}

	s.logger.Info("poke delivered",
		zap.String("persona", poke.Speaker),
		zap.String("type", pokeType))
	return poke, nil
}

func buildPokePrompt(persona registry.Persona, pokeType string) string {
	var sb strings.Builder
	sb.WriteString(persona.SystemPrompt())
	sb.WriteString("\n\nYou are \"poking\" the user to wake them up from their daily routine.\n")
	sb.WriteString("Generate a sudden, short, 1-sentence " + pokeType + " insight.\n")
	sb.WriteString("Do not say \"Hello\". Just deliver the insight like a lightning bolt.\n")
	return sb.String()
}

// generate runs a non-streamed generation and collects the full text.
func (s *Scheduler) generate(ctx context.Context, prompt string) (string, error) {
	ch, err := s.backend.Generate(ctx, &backends.GenerateRequest{Prompt: prompt})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		sb.WriteString(chunk.Content)
	}
	return sb.String(), nil
}
