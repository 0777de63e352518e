// Command whetstone runs the dialogue orchestration engine: personas,
// library retrieval, the chat session, the Symposium, and the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/whetstone-ai/whetstone/api"
	"github.com/whetstone-ai/whetstone/backends/factory"
	"github.com/whetstone-ai/whetstone/config"
	"github.com/whetstone-ai/whetstone/internal/metrics"
	"github.com/whetstone-ai/whetstone/internal/server"
	"github.com/whetstone-ai/whetstone/library"
	"github.com/whetstone-ai/whetstone/registry"
	"github.com/whetstone-ai/whetstone/resolver"
	"github.com/whetstone-ai/whetstone/scheduler"
	"github.com/whetstone-ai/whetstone/session"
	"github.com/whetstone-ai/whetstone/store"
	"github.com/whetstone-ai/whetstone/symposium"
	"github.com/whetstone-ai/whetstone/types"
)

func main() {
	configPath := flag.String("config", "whetstone.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("engine failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Persistence. An empty path disables the store; everything degrades
	// to in-memory operation.
	var st *store.Store
	if cfg.Store.Path != "" {
		var err error
		st, err = store.Open(cfg.Store.Path, logger)
		if err != nil {
			return err
		}
		defer st.Close()
		logger.Info("store opened", zap.String("path", cfg.Store.Path))
	} else {
		logger.Warn("persistence disabled; history and settings are in-memory only")
	}

	// A disabled store must stay a plain nil interface so the registry's
	// in-memory override fallback engages.
	var settings registry.SettingsStore
	var recorder session.Recorder
	var pokeRecorder scheduler.Recorder
	if st != nil {
		settings = st
		recorder = st
		pokeRecorder = st
	}

	// Personas. A missing file leaves the catalogue empty rather than
	// failing startup; personas can be added and reloaded later.
	reg := registry.New(settings, logger)
	if err := reg.LoadFile(cfg.Personas.File); err != nil {
		logger.Warn("persona file not loaded",
			zap.String("path", cfg.Personas.File),
			zap.Error(err))
	} else {
		logger.Info("personas loaded", zap.Int("count", len(reg.List())))
	}

	// Library corpus.
	index := library.NewIndex(logger)
	if err := index.LoadDir(cfg.Library.Dir); err != nil {
		logger.Warn("library not loaded",
			zap.String("dir", cfg.Library.Dir),
			zap.Error(err))
	} else {
		logger.Info("library indexed", zap.Int("documents", index.Len()))
	}

	// Inference backend. Persisted selections from earlier runs override
	// the configured defaults.
	model := cfg.Backend.Model
	defaultPersona := cfg.Personas.DefaultPersona
	if st != nil {
		if v, err := st.GetSetting(store.DefaultModelKey, model); err == nil {
			model = v
		}
		if v, err := st.GetSetting(store.DefaultPersonaKey, defaultPersona); err == nil {
			defaultPersona = v
		}
	}
	backendCfg := factory.Config{
		Engine:  factory.Engine(cfg.Backend.Engine),
		Model:   model,
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout,
	}
	backend, err := factory.New(backendCfg, logger)
	if err != nil {
		return err
	}
	logger.Info("backend ready", zap.String("backend", backend.Name()))

	collector := metrics.NewCollector("whetstone", nil, logger)

	// Orchestration core.
	counter := resolver.NewTiktokenCounter(cfg.Library.Tokenizer, logger)
	res := resolver.New(reg, index, counter, resolver.Config{
		TopK:          cfg.Library.TopK,
		ContextBudget: cfg.Library.ContextBudget,
		Observe:       collector.RecordRetrieval,
	}, logger)

	params := types.GenParams{
		MaxTokens:   cfg.Backend.MaxTokens,
		Temperature: cfg.Backend.Temperature,
		TopP:        cfg.Backend.TopP,
		Timeout:     cfg.Backend.Timeout,
	}
	sess := session.New(res, backend, recorder, session.Config{
		DefaultPersona: defaultPersona,
		Params:         params,
	}, logger)
	if st != nil {
		restoreHistory(st, sess, logger)
	}
	debates := symposium.NewCoordinator(reg, backend, params, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)

	// Socratic poke scheduler.
	var pokes *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		pokes = scheduler.New(reg, backend, pokeRecorder, func(p scheduler.Poke) {
			collector.RecordPoke("ok")
			logger.Info("socratic poke",
				zap.String("speaker", p.Speaker),
				zap.String("text", p.Text))
		}, cfg.Scheduler.Interval, logger)
		group.Go(func() error {
			err := pokes.Run(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}

	// HTTP surface.
	router := api.NewRouter(api.Deps{
		Session:        sess,
		Symposium:      debates,
		Registry:       reg,
		Store:          st,
		Scheduler:      pokes,
		Metrics:        collector,
		BackendCfg:     backendCfg,
		Logger:         logger,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	})

	manager := server.NewManager(router, server.Config{
		Addr:            fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     server.DefaultConfig().IdleTimeout,
		MaxHeaderBytes:  server.DefaultConfig().MaxHeaderBytes,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)
	if err := manager.Start(); err != nil {
		return err
	}

	manager.WaitForShutdown()
	cancel()
	return group.Wait()
}

// restoreLimit caps how many logged exchanges are carried back into the
// session at startup.
const restoreLimit = 10

// restoreHistory seeds the session with the most recent logged
// conversations, oldest first. Scheduled pokes are not conversations and
// are skipped.
func restoreHistory(st *store.Store, sess *session.Session, logger *zap.Logger) {
	recent, err := st.History(context.Background(), restoreLimit)
	if err != nil {
		logger.Warn("could not restore history", zap.Error(err))
		return
	}
	var turns []types.Turn
	for i := len(recent) - 1; i >= 0; i-- {
		rec := recent[i]
		if rec.SessionID == scheduler.SessionID {
			continue
		}
		turns = append(turns,
			types.Turn{Role: types.RoleUser, Content: rec.Query, Timestamp: rec.Timestamp},
			types.Turn{Role: types.RoleAssistant, Content: rec.Response, Timestamp: rec.Timestamp},
		)
	}
	if len(turns) == 0 {
		return
	}
	sess.Restore(turns)
	logger.Info("conversation history restored", zap.Int("turns", len(turns)))
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
