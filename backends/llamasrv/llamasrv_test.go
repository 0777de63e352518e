package llamasrv

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/whetstone-ai/whetstone/backends"
	"github.com/whetstone-ai/whetstone/types"
)

func completionServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completion" {
			http.NotFound(w, r)
			return
		}
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\n\n"))
		}
	}))
}

func TestBackend_Name(t *testing.T) {
	b := New(Config{Label: "qwen3-14b.gguf"}, zap.NewNop())
	assert.Equal(t, "llama.cpp (qwen3-14b.gguf)", b.Name())
}

func TestGenerate_StreamsUntilStop(t *testing.T) {
	srv := completionServer(t, []string{
		`data: {"content":"The ","stop":false}`,
		`data: {"content":"examined ","stop":false}`,
		`data: {"content":"life.","stop":true}`,
	})
	defer srv.Close()

	b := New(Config{BaseURL: srv.URL}, zap.NewNop())
	ch, err := b.Generate(context.Background(), &backends.GenerateRequest{Prompt: "speak"})
	require.NoError(t, err)

	var sb strings.Builder
	done := false
	for chunk := range ch {
		sb.WriteString(chunk.Content)
		require.Nil(t, chunk.Err)
		if chunk.Done {
			done = true
		}
	}
	assert.True(t, done)
	assert.Equal(t, "The examined life.", sb.String())
}

func TestGenerate_DefaultStopSequences(t *testing.T) {
	var got completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`data: {"content":"","stop":true}` + "\n\n"))
	}))
	defer srv.Close()

	b := New(Config{BaseURL: srv.URL}, zap.NewNop())
	ch, err := b.Generate(context.Background(), &backends.GenerateRequest{Prompt: "speak"})
	require.NoError(t, err)
	for range ch {
	}

	assert.Equal(t, defaultStop, got.Stop)
	assert.Equal(t, maxTokensDefault, got.NPredict)
	assert.True(t, got.Stream)
}

func TestGenerate_ModelLoading503(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"Loading model"}`))
	}))
	defer srv.Close()

	b := New(Config{BaseURL: srv.URL}, zap.NewNop())
	_, err := b.Generate(context.Background(), &backends.GenerateRequest{Prompt: "speak"})
	require.Error(t, err)
	assert.Equal(t, types.ErrBackendUnavailable, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestFlattenHistory(t *testing.T) {
	out := flattenHistory(&backends.GenerateRequest{
		Prompt: "Final prompt",
		History: []types.Turn{
			types.NewUserTurn("first question"),
			types.NewAssistantTurn("first answer"),
		},
	})
	assert.Equal(t, "User: first question\nAssistant: first answer\nFinal prompt", out)
}

func TestHealthCheck_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := New(Config{BaseURL: srv.URL}, zap.NewNop())
	status, err := b.HealthCheck(context.Background())
	require.Error(t, err)
	assert.False(t, status.Healthy)
}
