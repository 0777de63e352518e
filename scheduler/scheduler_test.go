package scheduler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/whetstone-ai/whetstone/backends"
	"github.com/whetstone-ai/whetstone/registry"
	"github.com/whetstone-ai/whetstone/types"
)

type singlePersona struct{}

func (singlePersona) List() []registry.Persona {
	return []registry.Persona{{Key: "socrates", Name: "Socrates", Prompt: "You are Socrates."}}
}

type noPersonas struct{}

func (noPersonas) List() []registry.Persona { return nil }

type staticBackend struct {
	text string
	fail bool
}

func (b *staticBackend) Generate(context.Context, *backends.GenerateRequest) (<-chan backends.Chunk, error) {
	ch := make(chan backends.Chunk, 2)
	if b.fail {
		ch <- backends.Chunk{Err: types.NewError(types.ErrConnectionRefused, "down")}
	} else {
		ch <- backends.Chunk{Content: b.text}
		ch <- backends.Chunk{Done: true}
	}
	close(ch)
	return ch, nil
}

func (b *staticBackend) HealthCheck(context.Context) (*backends.HealthStatus, error) {
	return &backends.HealthStatus{Healthy: true}, nil
}

func (b *staticBackend) Name() string { return "static" }

type memRecorder struct {
	mu      sync.Mutex
	queries []string
	ids     []string
}

func (m *memRecorder) RecordInteraction(_ context.Context, _, query, _, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)
	m.ids = append(m.ids, sessionID)
	return nil
}

func TestPokeNow(t *testing.T) {
	var delivered []Poke
	rec := &memRecorder{}
	s := New(singlePersona{}, &staticBackend{text: "  Why do you hurry?  "}, rec,
		func(p Poke) { delivered = append(delivered, p) },
		time.Hour, zap.NewNop())

	poke, err := s.PokeNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Socrates", poke.Speaker)
	assert.Equal(t, "Why do you hurry?", poke.Text, "delivered text is trimmed")
	assert.NotEmpty(t, poke.ID)

	require.Len(t, delivered, 1)
	assert.Equal(t, poke, delivered[0])

	require.Len(t, rec.queries, 1)
	assert.Equal(t, "[SYSTEM SCHEDULED POKE]", rec.queries[0])
	assert.Equal(t, "scheduler", rec.ids[0])
}

func TestPokeNowNoPersonas(t *testing.T) {
	s := New(noPersonas{}, &staticBackend{}, nil, func(Poke) {}, time.Hour, zap.NewNop())
	_, err := s.PokeNow(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownPersona, types.GetErrorCode(err))
}

func TestPokeNowBackendFailure(t *testing.T) {
	var delivered int
	s := New(singlePersona{}, &staticBackend{fail: true}, nil,
		func(Poke) { delivered++ }, time.Hour, zap.NewNop())

	_, err := s.PokeNow(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrConnectionRefused, types.GetErrorCode(err))
	assert.Zero(t, delivered, "nothing delivered on failure")
}

func TestPokePrompt(t *testing.T) {
	p := registry.Persona{Name: "Socrates", Prompt: "You are Socrates."}
	prompt := buildPokePrompt(p, "question")

	assert.True(t, strings.HasPrefix(prompt, "You are Socrates."))
	assert.Contains(t, prompt, "1-sentence question insight")
	assert.Contains(t, prompt, "lightning bolt")
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(singlePersona{}, &staticBackend{text: "x"}, nil, func(Poke) {}, time.Hour, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRunDeliversOnTick(t *testing.T) {
	delivered := make(chan Poke, 1)
	s := New(singlePersona{}, &staticBackend{text: "insight"}, nil,
		func(p Poke) {
			select {
			case delivered <- p:
			default:
			}
		},
		10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	select {
	case p := <-delivered:
		assert.Equal(t, "insight", p.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("no poke delivered")
	}
}
