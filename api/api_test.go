package api

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
	"github.com/whetstone-ai/whetstone/backends/factory"
	"github.com/whetstone-ai/whetstone/library"
	"github.com/whetstone-ai/whetstone/registry"
	"github.com/whetstone-ai/whetstone/resolver"
	"github.com/whetstone-ai/whetstone/session"
	"github.com/whetstone-ai/whetstone/store"
	"github.com/whetstone-ai/whetstone/stream"
	"github.com/whetstone-ai/whetstone/symposium"
	"github.com/whetstone-ai/whetstone/types"
)

// fixedBackend replies to any prompt with a fixed token sequence.
type fixedBackend struct {
	tokens []string
}

func (b *fixedBackend) Generate(ctx context.Context, req *backends.GenerateRequest) (<-chan backends.Chunk, error) {
	if err := backends.ValidateRequest(req); err != nil {
		return nil, err
	}
	ch := make(chan backends.Chunk, len(b.tokens)+1)
	for _, tok := range b.tokens {
		ch <- backends.Chunk{Content: tok}
	}
	ch <- backends.Chunk{Done: true}
	close(ch)
	return ch, nil
}

func (b *fixedBackend) HealthCheck(context.Context) (*backends.HealthStatus, error) {
	return &backends.HealthStatus{Healthy: true}, nil
}

func (b *fixedBackend) Name() string { return "fixed" }

func newTestServer(t *testing.T) *httptest.Server {
	srv, _ := newTestEnv(t)
	return srv
}

func newTestEnv(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()

	st, err := store.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg := registry.New(st, zap.NewNop())
	reg.Put(registry.Persona{Key: "socrates", Name: "Socrates", Prompt: "You are Socrates."})
	reg.Put(registry.Persona{Key: "nietzsche", Name: "Nietzsche", Prompt: "You are Nietzsche."})

	index := library.NewIndex(zap.NewNop())
	index.Add(library.Document{Filename: "plato_republic.txt", Content: "Justice is the harmony of the soul."})

	res := resolver.New(reg, index, nil, resolver.Config{}, zap.NewNop())
	backend := &fixedBackend{tokens: []string{"wisdom ", "begins ", "in wonder"}}
	sess := session.New(res, backend, st, session.Config{DefaultPersona: "Socrates"}, zap.NewNop())
	debates := symposium.NewCoordinator(reg, backend, types.GenParams{}, zap.NewNop())

	router := NewRouter(Deps{
		Session:    sess,
		Symposium:  debates,
		Registry:   reg,
		Store:      st,
		BackendCfg: factory.Config{Engine: factory.EngineOllama, Model: "cogito:8b"},
		Logger:     zap.NewNop(),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, st
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response) Response {
	t.Helper()
	defer resp.Body.Close()
	var env Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	env := decodeEnvelope(t, resp)

	require.True(t, env.Success)
	data := env.Data.(map[string]interface{})
	assert.Equal(t, "fixed", data["backend"])
	assert.Equal(t, true, data["backend_healthy"])
	assert.Equal(t, "Socrates", data["persona"])
	assert.Equal(t, "idle", data["symposium"])
}

func TestPersonaEndpoints(t *testing.T) {
	srv := newTestServer(t)

	t.Run("list", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/personas")
		require.NoError(t, err)
		env := decodeEnvelope(t, resp)
		require.True(t, env.Success)
		assert.Len(t, env.Data.([]interface{}), 2)
	})

	t.Run("detail", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/personas/Nietzsche")
		require.NoError(t, err)
		env := decodeEnvelope(t, resp)
		require.True(t, env.Success)
		assert.Equal(t, "Nietzsche", env.Data.(map[string]interface{})["name"])
	})

	t.Run("select unknown persona", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/personas/select", `{"name":"Hypatia"}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		env := decodeEnvelope(t, resp)
		require.NotNil(t, env.Error)
		assert.Equal(t, string(types.ErrUnknownPersona), env.Error.Code)
	})

	t.Run("select and override", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/personas/select", `{"name":"Nietzsche"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		resp = postJSON(t, srv.URL+"/api/personas/Nietzsche/override", `{"preamble":"Be gentle."}`)
		env := decodeEnvelope(t, resp)
		require.True(t, env.Success)
		assert.Equal(t, "Be gentle.", env.Data.(map[string]interface{})["custom_preamble"])
	})

	t.Run("empty override rejected", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/personas/Socrates/override", `{}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestChatStreaming(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/chat", `{"query":"what is wisdom?"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := stream.NewSSEReader(resp.Body)
	var text strings.Builder
	var sawDone bool
	for {
		ev, err := reader.Next()
		if err != nil {
			break
		}
		switch ev.Type {
		case stream.EventToken:
			text.WriteString(ev.Data)
		case stream.EventDone:
			sawDone = true
		}
	}
	assert.True(t, sawDone)
	assert.Equal(t, "wisdom begins in wonder", text.String())

	// The exchange was persisted through the interaction log.
	histResp, err := http.Get(srv.URL + "/api/history")
	require.NoError(t, err)
	env := decodeEnvelope(t, histResp)
	require.True(t, env.Success)
	records := env.Data.([]interface{})
	require.Len(t, records, 1)
	assert.Equal(t, "Socrates", records[0].(map[string]interface{})["persona"])
}

func TestChatValidation(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/chat", `{"query":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(types.ErrInvalidRequest), env.Error.Code)
}

func TestSymposiumEndpoints(t *testing.T) {
	srv := newTestServer(t)

	t.Run("next before start", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/symposium/next", `{}`)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("full debate round", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/symposium/start",
			`{"persona_a":"Socrates","persona_b":"Nietzsche","topic":"virtue"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		// Second start fails while active.
		resp = postJSON(t, srv.URL+"/api/symposium/start",
			`{"persona_a":"Nietzsche","persona_b":"Socrates","topic":"truth"}`)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		env := decodeEnvelope(t, resp)
		assert.Equal(t, string(types.ErrSymposiumActive), env.Error.Code)

		// First turn streams and is attributed to persona A.
		resp = postJSON(t, srv.URL+"/api/symposium/next", ``)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		reader := stream.NewSSEReader(resp.Body)
		var speaker string
		for {
			ev, err := reader.Next()
			if err != nil {
				break
			}
			if ev.Type == stream.EventToken && speaker == "" {
				speaker = ev.Speaker
			}
		}
		resp.Body.Close()
		assert.Equal(t, "Socrates", speaker)

		// Interject, then inspect the transcript.
		resp = postJSON(t, srv.URL+"/api/symposium/interject",
			`{"text":"Define your terms.","target":"both"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		resp, err := http.Get(srv.URL + "/api/symposium/transcript")
		require.NoError(t, err)
		env = decodeEnvelope(t, resp)
		require.True(t, env.Success)
		transcript := env.Data.(map[string]interface{})["transcript"].([]interface{})
		assert.Len(t, transcript, 2)

		// Stop reports the turn count.
		resp = postJSON(t, srv.URL+"/api/symposium/stop", `{}`)
		env = decodeEnvelope(t, resp)
		require.True(t, env.Success)
		assert.Equal(t, float64(2), env.Data.(map[string]interface{})["turns"])
	})
}

func TestSettingsEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/settings", `{"deep":true,"logging_enabled":false}`)
	env := decodeEnvelope(t, resp)
	require.True(t, env.Success)
	data := env.Data.(map[string]interface{})
	assert.Equal(t, true, data["deep"])
	assert.Equal(t, false, data["clarity"])
	assert.Equal(t, false, data["logging_enabled"])

	// Settings persist across reads.
	getResp, err := http.Get(srv.URL + "/api/settings")
	require.NoError(t, err)
	env = decodeEnvelope(t, getResp)
	assert.Equal(t, true, env.Data.(map[string]interface{})["deep"])
}

func TestModelsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/models")
	require.NoError(t, err)
	env := decodeEnvelope(t, resp)
	require.True(t, env.Success)
	data := env.Data.(map[string]interface{})
	assert.Equal(t, "cogito:8b", data["active"])
	// The fixed test backend cannot enumerate models.
	assert.Equal(t, []interface{}{"cogito:8b"}, data["available"])
}

func TestPersonaSelectionPersisted(t *testing.T) {
	srv, st := newTestEnv(t)

	resp := postJSON(t, srv.URL+"/api/personas/select", `{"name":"Nietzsche"}`)
	env := decodeEnvelope(t, resp)
	require.True(t, env.Success)

	v, err := st.GetSetting(store.DefaultPersonaKey, "")
	require.NoError(t, err)
	assert.Equal(t, "Nietzsche", v)
}

func TestModelSelectionPersisted(t *testing.T) {
	srv, st := newTestEnv(t)

	resp := postJSON(t, srv.URL+"/api/models/select", `{"model":"llama3:8b"}`)
	env := decodeEnvelope(t, resp)
	require.True(t, env.Success)
	assert.Equal(t, "llama3:8b", env.Data.(map[string]interface{})["model"])

	v, err := st.GetSetting(store.DefaultModelKey, "")
	require.NoError(t, err)
	assert.Equal(t, "llama3:8b", v)
}

func TestUnknownRouteIs404(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
