// Package registry holds the in-memory persona catalogue. Personas are
// produced by an external scan/import tool that writes the persona file;
// the registry loads that file and serves read access to the rest of the
// engine. Override fields (custom preamble, generation parameters) are the
// only mutable part and are persisted through a settings store.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/whetstone-ai/whetstone/types"
)

// Settings keys used for persisted persona overrides.
const (
	preambleKeyPrefix = "persona_preamble_"
	paramsKeyPrefix   = "persona_params_"
)

// Placeholder keys excluded from listings.
var placeholderKeys = map[string]struct{}{
	"example":     {},
	"test":        {},
	"placeholder": {},
}

// SettingsStore persists persona override fields. A nil store degrades
// gracefully: overrides live only in memory for the process lifetime.
type SettingsStore interface {
	GetSetting(key, fallback string) (string, error)
	SetSetting(key, value string) error
}

// Persona is a named configuration bundling a system prompt, a document
// filter scope, and optional overrides.
type Persona struct {
	Key           string           `json:"key"`
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	Prompt        string           `json:"prompt"`
	LibraryFilter []string         `json:"library_filter,omitempty"`
	Preamble      string           `json:"custom_preamble,omitempty"`
	Params        *types.GenParams `json:"params,omitempty"`
}

// SystemPrompt returns the persona prompt with the custom preamble
// prepended when one is set.
func (p Persona) SystemPrompt() string {
	if p.Preamble == "" {
		return p.Prompt
	}
	return p.Preamble + "\n\n" + p.Prompt
}

// personaFile is the on-disk shape written by the scan tool: a map of
// persona key to definition.
type personaFile map[string]struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Prompt        string   `json:"prompt"`
	LibraryFilter []string `json:"library_filter"`
}

// Registry is the shared persona catalogue. Reads are concurrent; writes
// happen only through Reload and UpdateOverride (single-writer,
// many-reader discipline).
type Registry struct {
	mu       sync.RWMutex
	personas map[string]Persona // keyed by persona file key
	path     string
	settings SettingsStore
	logger   *zap.Logger
}

// New creates an empty registry. settings may be nil.
func New(settings SettingsStore, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		personas: make(map[string]Persona),
		settings: settings,
		logger:   logger.With(zap.String("component", "persona_registry")),
	}
}

// LoadFile reads the persona file at path and replaces the catalogue.
// Subsequent Reload calls re-read the same path.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read persona file: %w", err)
	}

	var file personaFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse persona file: %w", err)
	}

	personas := make(map[string]Persona, len(file))
	for key, def := range file {
		personas[key] = Persona{
			Key:           key,
			Name:          def.Name,
			Description:   def.Description,
			Prompt:        def.Prompt,
			LibraryFilter: def.LibraryFilter,
		}
	}

	r.mu.Lock()
	r.personas = personas
	r.path = path
	r.mu.Unlock()

	r.logger.Info("personas loaded",
		zap.String("path", path),
		zap.Int("count", len(personas)))
	return nil
}

// Reload re-reads the last loaded persona file. Called after the external
// scan tool rewrites it.
func (r *Registry) Reload() error {
	r.mu.RLock()
	path := r.path
	r.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("no persona file loaded")
	}
	return r.LoadFile(path)
}

// Put inserts or replaces a persona. Used by tests and embedded setups
// that do not load from a file.
func (r *Registry) Put(p Persona) {
	if p.Key == "" {
		p.Key = strings.ToLower(p.Name)
	}
	r.mu.Lock()
	r.personas[p.Key] = p
	r.mu.Unlock()
}

// Get looks a persona up by file key or display name, applying any
// persisted overrides. Returns UNKNOWN_PERSONA when absent.
func (r *Registry) Get(name string) (Persona, error) {
	r.mu.RLock()
	p, ok := r.personas[name]
	if !ok {
		p, ok = r.personas[strings.ToLower(name)]
	}
	if !ok {
		for _, cand := range r.personas {
			if cand.Name == name {
				p, ok = cand, true
				break
			}
		}
	}
	r.mu.RUnlock()

	if !ok {
		return Persona{}, types.NewError(types.ErrUnknownPersona,
			fmt.Sprintf("persona %q not found", name)).WithHTTPStatus(404)
	}
	return r.applyOverrides(p), nil
}

// List returns the valid personas: placeholders and entries without a
// display name are excluded. Order is not specified.
func (r *Registry) List() []Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Persona, 0, len(r.personas))
	for key, p := range r.personas {
		if _, skip := placeholderKeys[strings.ToLower(key)]; skip {
			continue
		}
		if strings.TrimSpace(p.Name) == "" {
			continue
		}
		out = append(out, r.applyOverrides(p))
	}
	return out
}

// Override carries the mutable persona fields. Nil members are left
// untouched.
type Override struct {
	Preamble *string
	Params   *types.GenParams
}

// UpdateOverride sets override fields for a persona and persists them.
// Sessions hold personas by name, so the change takes effect on their
// next turn.
func (r *Registry) UpdateOverride(name string, o Override) error {
	p, err := r.Get(name)
	if err != nil {
		return err
	}

	if o.Preamble != nil {
		if err := r.persist(preambleKeyPrefix+p.Name, *o.Preamble); err != nil {
			return err
		}
	}
	if o.Params != nil {
		raw, err := json.Marshal(o.Params)
		if err != nil {
			return fmt.Errorf("marshal params override: %w", err)
		}
		if err := r.persist(paramsKeyPrefix+p.Name, string(raw)); err != nil {
			return err
		}
	}

	// Without a settings store, keep the override in the in-memory copy.
	if r.settings == nil {
		r.mu.Lock()
		stored := r.personas[p.Key]
		if o.Preamble != nil {
			stored.Preamble = *o.Preamble
		}
		if o.Params != nil {
			stored.Params = o.Params
		}
		r.personas[p.Key] = stored
		r.mu.Unlock()
	}
	return nil
}

func (r *Registry) persist(key, value string) error {
	if r.settings == nil {
		return nil
	}
	if err := r.settings.SetSetting(key, value); err != nil {
		return types.NewError(types.ErrStoreFailure, "persist persona override").WithCause(err)
	}
	return nil
}

// applyOverrides overlays persisted override fields on a catalogue entry.
// Reads go to the settings store so an override written by another process
// is visible on the next call.
func (r *Registry) applyOverrides(p Persona) Persona {
	if r.settings == nil {
		return p
	}
	if preamble, err := r.settings.GetSetting(preambleKeyPrefix+p.Name, ""); err == nil && preamble != "" {
		p.Preamble = preamble
	}
	if raw, err := r.settings.GetSetting(paramsKeyPrefix+p.Name, ""); err == nil && raw != "" {
		var params types.GenParams
		if jsonErr := json.Unmarshal([]byte(raw), &params); jsonErr == nil {
			p.Params = &params
		} else {
			r.logger.Warn("invalid persisted params override",
				zap.String("persona", p.Name), zap.Error(jsonErr))
		}
	}
	return p
}
