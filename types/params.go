package types

import "time"

// GenParams are generation parameters passed through to a backend.
// The zero value means "use the backend's defaults".
type GenParams struct {
	MaxTokens   int           `json:"max_tokens,omitempty" yaml:"max_tokens"`
	Temperature float32       `json:"temperature,omitempty" yaml:"temperature"`
	TopP        float32       `json:"top_p,omitempty" yaml:"top_p"`
	Stop        []string      `json:"stop,omitempty" yaml:"stop"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout"`
}

// Merge returns p overlaid with the non-zero fields of override.
// Used to apply per-persona parameter overrides on top of the configured
// defaults without mutating either side.
func (p GenParams) Merge(override *GenParams) GenParams {
	if override == nil {
		return p
	}
	out := p
	if override.MaxTokens != 0 {
		out.MaxTokens = override.MaxTokens
	}
	if override.Temperature != 0 {
		out.Temperature = override.Temperature
	}
	if override.TopP != 0 {
		out.TopP = override.TopP
	}
	if len(override.Stop) > 0 {
		out.Stop = override.Stop
	}
	if override.Timeout != 0 {
		out.Timeout = override.Timeout
	}
	return out
}
