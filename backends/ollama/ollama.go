// Package ollama implements the backend contract against an Ollama server
// using its OpenAI-compatible chat completions API.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/whetstone-ai/whetstone/backends"
	"github.com/whetstone-ai/whetstone/types"
)

const (
	defaultBaseURL = "http://127.0.0.1:11434"
	defaultModel   = "cogito:8b"
	defaultTimeout = 120 * time.Second
)

// Config tunes the Ollama backend.
type Config struct {
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Backend talks to a local or remote Ollama server.
type Backend struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New creates an Ollama backend.
func New(cfg Config, logger *zap.Logger) *Backend {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "backend_ollama")),
	}
}

// Name returns the display name, including the active model.
func (b *Backend) Name() string {
	return fmt.Sprintf("ollama (%s)", b.cfg.Model)
}

// Model returns the configured model name.
func (b *Backend) Model() string {
	return b.cfg.Model
}

// OpenAI-compatible wire types.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatDelta struct {
	Content string `json:"content"`
}

type chatChoice struct {
	Delta        *chatDelta `json:"delta,omitempty"`
	FinishReason string     `json:"finish_reason"`
}

type chatChunk struct {
	Choices []chatChoice `json:"choices"`
}

type errorResp struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (b *Backend) buildMessages(req *backends.GenerateRequest) []chatMessage {
	msgs := make([]chatMessage, 0, len(req.History)+1)
	for _, turn := range req.History {
		msgs = append(msgs, chatMessage{Role: string(turn.Role), Content: turn.Content})
	}
	msgs = append(msgs, chatMessage{Role: string(types.RoleUser), Content: req.Prompt})
	return msgs
}

// Generate streams a completion. The returned channel yields fragments in
// generation order and terminates with a Done chunk or an Err chunk.
func (b *Backend) Generate(ctx context.Context, req *backends.GenerateRequest) (<-chan backends.Chunk, error) {
	if err := backends.ValidateRequest(req); err != nil {
		return nil, err
	}

	body := chatRequest{
		Model:       b.cfg.Model,
		Messages:    b.buildMessages(req),
		MaxTokens:   req.Params.MaxTokens,
		Temperature: req.Params.Temperature,
		TopP:        req.Params.TopP,
		Stop:        req.Params.Stop,
		Stream:      true,
	}
	payload, _ := json.Marshal(body)

	endpoint := fmt.Sprintf("%s/v1/chat/completions", strings.TrimRight(b.cfg.BaseURL, "/"))
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, b.mapTransportError(err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, b.mapStatusError(resp.StatusCode, readErrMsg(resp.Body))
	}

	ch := make(chan backends.Chunk)
	go func() {
		defer resp.Body.Close()
		defer close(ch)
		reader := bufio.NewReader(resp.Body)
		for {
			if ctx.Err() != nil {
				ch <- backends.Chunk{Err: b.mapTransportError(ctx.Err())}
				return
			}
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					ch <- backends.Chunk{Err: b.mapTransportError(err)}
					return
				}
				// Stream ended without [DONE]; treat EOF as completion.
				ch <- backends.Chunk{Done: true}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				ch <- backends.Chunk{Done: true}
				return
			}
			var chunk chatChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				ch <- backends.Chunk{Err: types.NewError(types.ErrMalformedResponse,
					"ollama stream returned invalid JSON").WithCause(err).WithBackend(b.Name())}
				return
			}
			for _, choice := range chunk.Choices {
				if choice.Delta != nil && choice.Delta.Content != "" {
					ch <- backends.Chunk{Content: choice.Delta.Content}
				}
			}
		}
	}()
	return ch, nil
}

// HealthCheck probes the Ollama tags endpoint.
func (b *Backend) HealthCheck(ctx context.Context) (*backends.HealthStatus, error) {
	start := time.Now()
	endpoint := fmt.Sprintf("%s/api/tags", strings.TrimRight(b.cfg.BaseURL, "/"))
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)

	resp, err := b.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &backends.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &backends.HealthStatus{Healthy: false, Latency: latency},
			fmt.Errorf("ollama health check failed: status=%d", resp.StatusCode)
	}
	return &backends.HealthStatus{Healthy: true, Latency: latency}, nil
}

// ListModels returns the model names the server has pulled.
func (b *Backend) ListModels(ctx context.Context) ([]string, error) {
	endpoint := fmt.Sprintf("%s/api/tags", strings.TrimRight(b.cfg.BaseURL, "/"))
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, b.mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, b.mapStatusError(resp.StatusCode, readErrMsg(resp.Body))
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, types.NewError(types.ErrMalformedResponse,
			"ollama tags returned invalid JSON").WithCause(err).WithBackend(b.Name())
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (b *Backend) mapTransportError(err error) *types.Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewError(types.ErrInferenceTimeout, "ollama request timed out").
			WithCause(err).WithRetryable(true).WithBackend(b.Name())
	case errors.Is(err, context.Canceled):
		return types.NewError(types.ErrInferenceTimeout, "ollama request cancelled").
			WithCause(err).WithBackend(b.Name())
	default:
		return types.NewError(types.ErrConnectionRefused, "cannot reach ollama server").
			WithCause(err).WithRetryable(true).WithBackend(b.Name())
	}
}

func (b *Backend) mapStatusError(status int, msg string) *types.Error {
	switch status {
	case http.StatusNotFound:
		return types.NewError(types.ErrModelNotFound,
			fmt.Sprintf("model %q not available: %s", b.cfg.Model, msg)).
			WithHTTPStatus(status).WithBackend(b.Name())
	case http.StatusGatewayTimeout:
		return types.NewError(types.ErrInferenceTimeout, msg).
			WithHTTPStatus(status).WithRetryable(true).WithBackend(b.Name())
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return types.NewError(types.ErrBackendUnavailable, msg).
			WithHTTPStatus(status).WithRetryable(true).WithBackend(b.Name())
	case http.StatusBadRequest:
		return types.NewError(types.ErrInvalidRequest, msg).
			WithHTTPStatus(status).WithBackend(b.Name())
	default:
		return types.NewError(types.ErrBackendUnavailable, msg).
			WithHTTPStatus(status).WithRetryable(status >= 500).WithBackend(b.Name())
	}
}

func readErrMsg(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var er errorResp
	if err := json.Unmarshal(raw, &er); err == nil && er.Error.Message != "" {
		return er.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
