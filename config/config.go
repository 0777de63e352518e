// Package config loads the whetstone configuration from a YAML file with
// environment-variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("whetstone.yaml").
//	    WithEnvPrefix("WHETSTONE").
//	    Load()
//
// Precedence: defaults, then YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full whetstone configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Backend   BackendConfig   `yaml:"backend" env:"BACKEND"`
	Personas  PersonasConfig  `yaml:"personas" env:"PERSONAS"`
	Library   LibraryConfig   `yaml:"library" env:"LIBRARY"`
	Store     StoreConfig     `yaml:"store" env:"STORE"`
	Scheduler SchedulerConfig `yaml:"scheduler" env:"SCHEDULER"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// RateLimitRPS caps request throughput per client. Zero disables
	// rate limiting.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// BackendConfig selects and tunes the inference engine.
type BackendConfig struct {
	// Engine is "ollama" or "llamaserver".
	Engine  string        `yaml:"engine" env:"ENGINE"`
	Model   string        `yaml:"model" env:"MODEL"`
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// Generation defaults; per-persona overrides are merged on top.
	MaxTokens   int     `yaml:"max_tokens" env:"MAX_TOKENS"`
	Temperature float32 `yaml:"temperature" env:"TEMPERATURE"`
	TopP        float32 `yaml:"top_p" env:"TOP_P"`
}

// PersonasConfig locates the persona definitions.
type PersonasConfig struct {
	File           string `yaml:"file" env:"FILE"`
	DefaultPersona string `yaml:"default_persona" env:"DEFAULT_PERSONA"`
}

// LibraryConfig locates the reference-text corpus.
type LibraryConfig struct {
	Dir  string `yaml:"dir" env:"DIR"`
	TopK int    `yaml:"top_k" env:"TOP_K"`
	// ContextBudget caps retrieved context in tokens. Zero disables it.
	ContextBudget int `yaml:"context_budget" env:"CONTEXT_BUDGET"`
	// Tokenizer names the tiktoken encoding used for budgeting.
	Tokenizer string `yaml:"tokenizer" env:"TOKENIZER"`
}

// StoreConfig configures persistence. An empty path disables the store
// entirely; the engine runs with in-memory history only.
type StoreConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// SchedulerConfig tunes the Socratic poke scheduler.
type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled" env:"ENABLED"`
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is "json" or "console".
	Format      string   `yaml:"format" env:"FORMAT"`
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// Loader loads configuration with the builder pattern.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the default env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "WHETSTONE",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path. A missing file is not an error;
// defaults and env vars still apply.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment-variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration: defaults, then file, then environment.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration from path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks the loaded configuration for obviously broken values.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, "invalid server port")
	}
	switch c.Backend.Engine {
	case "ollama", "llamaserver":
	default:
		errs = append(errs, fmt.Sprintf("unknown backend engine %q", c.Backend.Engine))
	}
	if c.Backend.Temperature < 0 || c.Backend.Temperature > 2 {
		errs = append(errs, "temperature must be in [0, 2]")
	}
	if c.Library.TopK < 0 {
		errs = append(errs, "library top_k must not be negative")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		errs = append(errs, "scheduler interval must be positive when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
