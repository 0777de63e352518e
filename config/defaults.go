package config

import "time"

// DefaultConfig returns the configuration a fresh install runs with: a
// local ollama backend, personas and library in the working directory, and
// a sqlite store next to them.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Backend:   DefaultBackendConfig(),
		Personas:  DefaultPersonasConfig(),
		Library:   DefaultLibraryConfig(),
		Store:     DefaultStoreConfig(),
		Scheduler: DefaultSchedulerConfig(),
		Log:       DefaultLogConfig(),
	}
}

// DefaultServerConfig returns the default HTTP server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "127.0.0.1",
		Port:            8640,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    0, // streaming responses must not be cut off
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    10,
		RateLimitBurst:  20,
	}
}

// DefaultBackendConfig returns the default inference settings.
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		Engine:      "ollama",
		Model:       "cogito:8b",
		BaseURL:     "http://127.0.0.1:11434",
		Timeout:     120 * time.Second,
		MaxTokens:   2048,
		Temperature: 0.7,
		TopP:        0.9,
	}
}

// DefaultPersonasConfig returns the default persona source.
func DefaultPersonasConfig() PersonasConfig {
	return PersonasConfig{
		File:           "personas.json",
		DefaultPersona: "",
	}
}

// DefaultLibraryConfig returns the default corpus settings.
func DefaultLibraryConfig() LibraryConfig {
	return LibraryConfig{
		Dir:       "library",
		TopK:      3,
		Tokenizer: "cl100k_base",
	}
}

// DefaultStoreConfig returns the default persistence settings.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Path: "whetstone.db",
	}
}

// DefaultSchedulerConfig returns the default poke-scheduler settings.
// Disabled by default; the scheduler interrupts people.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:  false,
		Interval: 45 * time.Minute,
	}
}

// DefaultLogConfig returns the default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}
