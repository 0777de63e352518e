// Package llamasrv implements the backend contract against a llama.cpp
// llama-server instance via its native completion API. This is the
// self-hosted counterpart to the Ollama backend for deployments that run
// the model process directly.
package llamasrv

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
	defaultBaseURL = "http://127.0.0.1:8081"
	defaultTimeout = 120 * time.Second

	// Matches the stop sequences the prompt template relies on so the
	// model does not continue past its own turn.
	maxTokensDefault = 2048
)

var defaultStop = []string{"User:", "\nUser"}

// Config tunes the llama-server backend.
type Config struct {
	// Label names the loaded model for display purposes; llama-server
	// itself does not take a model parameter per request.
	Label   string
	BaseURL string
	Timeout time.Duration
}

// Backend talks to a llama.cpp llama-server process.
type Backend struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New creates a llama-server backend.
func New(cfg Config, logger *zap.Logger) *Backend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Label == "" {
		cfg.Label = "local"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "backend_llamasrv")),
	}
}

// Name returns the display name, including the configured label.
func (b *Backend) Name() string {
	return fmt.Sprintf("llama.cpp (%s)", b.cfg.Label)
}

type completionRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict,omitempty"`
	Temperature float32  `json:"temperature,omitempty"`
	TopP        float32  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream"`
}

type completionChunk struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

// flattenHistory renders prior turns into the prompt, since the native
// completion API takes raw text rather than chat messages.
func flattenHistory(req *backends.GenerateRequest) string {
	if len(req.History) == 0 {
		return req.Prompt
	}
	var sb strings.Builder
	for _, turn := range req.History {
		switch turn.Role {
		case types.RoleUser:
			sb.WriteString("User: ")
		case types.RoleAssistant:
			sb.WriteString("Assistant: ")
		}
		sb.WriteString(turn.Content)
		sb.WriteString("\n")
	}
	sb.WriteString(req.Prompt)
	return sb.String()
}

// Generate streams a completion from llama-server.
func (b *Backend) Generate(ctx context.Context, req *backends.GenerateRequest) (<-chan backends.Chunk, error) {
	if err := backends.ValidateRequest(req); err != nil {
		return nil, err
	}

	body := completionRequest{
		Prompt:      flattenHistory(req),
		NPredict:    req.Params.MaxTokens,
		Temperature: req.Params.Temperature,
		TopP:        req.Params.TopP,
		Stop:        req.Params.Stop,
		Stream:      true,
	}
	if body.NPredict == 0 {
		body.NPredict = maxTokensDefault
	}
	if len(body.Stop) == 0 {
		body.Stop = defaultStop
	}
	payload, _ := json.Marshal(body)

	endpoint := fmt.Sprintf("%s/completion", strings.TrimRight(b.cfg.BaseURL, "/"))
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, b.mapTransportError(err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, b.mapStatusError(resp.StatusCode, strings.TrimSpace(string(raw)))
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
				ch <- backends.Chunk{Done: true}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var chunk completionChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				ch <- backends.Chunk{Err: types.NewError(types.ErrMalformedResponse,
					"llama-server stream returned invalid JSON").WithCause(err).WithBackend(b.Name())}
				return
			}
			if chunk.Content != "" {
				ch <- backends.Chunk{Content: chunk.Content}
			}
			if chunk.Stop {
				ch <- backends.Chunk{Done: true}
				return
			}
		}
	}()
	return ch, nil
}

// HealthCheck probes the llama-server health endpoint.
func (b *Backend) HealthCheck(ctx context.Context) (*backends.HealthStatus, error) {
	start := time.Now()
	endpoint := fmt.Sprintf("%s/health", strings.TrimRight(b.cfg.BaseURL, "/"))
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)

	resp, err := b.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &backends.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &backends.HealthStatus{Healthy: false, Latency: latency},
			fmt.Errorf("llama-server health check failed: status=%d", resp.StatusCode)
	}
	return &backends.HealthStatus{Healthy: true, Latency: latency}, nil
}

func (b *Backend) mapTransportError(err error) *types.Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewError(types.ErrInferenceTimeout, "llama-server request timed out").
			WithCause(err).WithRetryable(true).WithBackend(b.Name())
	case errors.Is(err, context.Canceled):
		return types.NewError(types.ErrInferenceTimeout, "llama-server request cancelled").
			WithCause(err).WithBackend(b.Name())
	default:
		return types.NewError(types.ErrConnectionRefused, "cannot reach llama-server").
			WithCause(err).WithRetryable(true).WithBackend(b.Name())
	}
}

func (b *Backend) mapStatusError(status int, msg string) *types.Error {
	switch status {
	case http.StatusServiceUnavailable:
		// llama-server answers 503 while the model is still loading.
		return types.NewError(types.ErrBackendUnavailable, msg).
			WithHTTPStatus(status).WithRetryable(true).WithBackend(b.Name())
	case http.StatusNotFound:
		return types.NewError(types.ErrModelNotFound, msg).
			WithHTTPStatus(status).WithBackend(b.Name())
	default:
		return types.NewError(types.ErrBackendUnavailable, msg).
			WithHTTPStatus(status).WithRetryable(status >= 500).WithBackend(b.Name())
	}
}
