// Package factory builds backends from configuration. It lives apart from
// the backends package so implementations can import the interface without
// a cycle.
package factory

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/whetstone-ai/whetstone/backends"
	"github.com/whetstone-ai/whetstone/backends/llamasrv"
	"github.com/whetstone-ai/whetstone/backends/ollama"
)

// Engine identifies a backend implementation.
type Engine string

const (
	EngineOllama      Engine = "ollama"
	EngineLlamaServer Engine = "llamaserver"
)

// Config selects and tunes a backend engine.
type Config struct {
	// Engine is "ollama" (default) or "llamaserver".
	Engine Engine `yaml:"engine"`
	// Model is the model name (ollama) or a display label (llamaserver).
	Model string `yaml:"model"`
	// BaseURL overrides the engine's default endpoint.
	BaseURL string `yaml:"base_url"`
	// Timeout bounds each HTTP call, including streaming reads.
	Timeout time.Duration `yaml:"timeout"`
}

// New builds a backend from cfg. Unknown engines are rejected.
func New(cfg Config, logger *zap.Logger) (backends.Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Engine {
	case "", EngineOllama:
		return ollama.New(ollama.Config{
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}, logger), nil
	case EngineLlamaServer:
		return llamasrv.New(llamasrv.Config{
			Label:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend engine: %q (use %q or %q)",
			cfg.Engine, EngineOllama, EngineLlamaServer)
	}
}
