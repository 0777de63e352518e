// Package backends defines the uniform interface over interchangeable
// model-inference engines. The orchestration core is polymorphic over this
// interface and never branches on which engine is active except to report
// the active backend's display name.
package backends

import (
	"context"
	"time"

	"github.com/whetstone-ai/whetstone/types"
)

// GenerateRequest describes one generation call.
type GenerateRequest struct {
	// Prompt is the fully assembled prompt. Must be non-empty.
	Prompt string
	// History is replayed before the prompt, oldest first. May be empty.
	History []types.Turn
	// Params tune the generation. Zero values use backend defaults.
	Params types.GenParams
}

// Chunk is one element of a generation stream. The stream is finite and
// not restartable: fragments arrive in generation order, and the last
// element is either a chunk with Done set (the explicit end marker) or a
// chunk with Err set. The channel is closed afterwards.
type Chunk struct {
	Content string
	Done    bool
	Err     *types.Error
}

// HealthStatus reports the outcome of a backend health probe.
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
}

// Backend is the capability interface every inference engine implements.
// New engines are added by implementing this interface, never by wrapping
// a concrete base.
type Backend interface {
	// Generate starts a streaming generation. Precondition failures are
	// returned synchronously; failures during generation arrive as a
	// terminal Chunk with Err set. No retries are performed here; retry
	// policy belongs to the caller.
	Generate(ctx context.Context, req *GenerateRequest) (<-chan Chunk, error)

	// HealthCheck performs a lightweight availability probe.
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Name returns the backend's display name, e.g. "ollama (cogito:8b)".
	Name() string
}

// ValidateRequest checks the request preconditions shared by all engines.
func ValidateRequest(req *GenerateRequest) *types.Error {
	if req == nil || req.Prompt == "" {
		return types.NewError(types.ErrInvalidRequest, "prompt must be non-empty")
	}
	return nil
}
