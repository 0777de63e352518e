package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/whetstone-ai/whetstone/backends/factory"
	"github.com/whetstone-ai/whetstone/internal/metrics"
	"github.com/whetstone-ai/whetstone/registry"
	"github.com/whetstone-ai/whetstone/scheduler"
	"github.com/whetstone-ai/whetstone/session"
	"github.com/whetstone-ai/whetstone/store"
	"github.com/whetstone-ai/whetstone/symposium"
)

// Deps carries everything the API needs. Store, Scheduler, and Metrics
// may be nil; the corresponding endpoints degrade or disappear.
type Deps struct {
	Session    *session.Session
	Symposium  *symposium.Coordinator
	Registry   *registry.Registry
	Store      *store.Store
	Scheduler  *scheduler.Scheduler
	Metrics    *metrics.Collector
	BackendCfg factory.Config
	Logger     *zap.Logger

	// RateLimitRPS caps request throughput; zero disables the limiter.
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter assembles the full HTTP surface.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	chat := NewChatHandler(d.Session, d.Metrics, logger)
	personas := NewPersonaHandler(d.Registry, d.Session, d.Store, logger)
	debates := NewSymposiumHandler(d.Symposium, d.Metrics, logger)
	settings := NewSettingsHandler(d.Session, d.Store, logger)
	status := NewStatusHandler(d.Session, d.Symposium, logger)
	models := NewModelsHandler(d.Session, d.Symposium, d.BackendCfg, d.Store, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", status.HandleStatus)

	mux.HandleFunc("GET /api/personas", personas.HandleList)
	mux.HandleFunc("GET /api/personas/{name}", personas.HandleDetail)
	mux.HandleFunc("POST /api/personas/select", personas.HandleSelect)
	mux.HandleFunc("POST /api/personas/{name}/override", personas.HandleOverride)
	mux.HandleFunc("POST /api/personas/reload", personas.HandleReload)

	mux.HandleFunc("POST /api/chat", chat.HandleChat)
	mux.HandleFunc("POST /api/chat/cancel", chat.HandleCancel)
	mux.HandleFunc("POST /api/chat/clear", chat.HandleClear)
	mux.HandleFunc("GET /api/chat/history", chat.HandleHistory)
	mux.HandleFunc("GET /api/chat/ws", chat.HandleWS)

	mux.HandleFunc("POST /api/symposium/start", debates.HandleStart)
	mux.HandleFunc("POST /api/symposium/next", debates.HandleNext)
	mux.HandleFunc("POST /api/symposium/interject", debates.HandleInterject)
	mux.HandleFunc("POST /api/symposium/stop", debates.HandleStop)
	mux.HandleFunc("GET /api/symposium/transcript", debates.HandleTranscript)

	mux.HandleFunc("GET /api/settings", settings.HandleGet)
	mux.HandleFunc("POST /api/settings", settings.HandleUpdate)
	mux.HandleFunc("GET /api/history", settings.HandleHistory)

	mux.HandleFunc("GET /api/models", models.HandleList)
	mux.HandleFunc("POST /api/models/select", models.HandleSelect)

	if d.Scheduler != nil {
		mux.HandleFunc("POST /api/poke", func(w http.ResponseWriter, r *http.Request) {
			poke, err := d.Scheduler.PokeNow(r.Context())
			if err != nil {
				WriteError(w, err, logger)
				return
			}
			WriteSuccess(w, poke)
		})
	}

	mux.Handle("GET /metrics", promhttp.Handler())

	return Chain(mux,
		Observe(d.Metrics, logger),
		RateLimit(d.RateLimitRPS, d.RateLimitBurst, logger),
	)
}
