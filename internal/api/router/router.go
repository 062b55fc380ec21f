package router

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/symptom-assessment-engine/internal/channels/chat"
	"github.com/wolfman30/symptom-assessment-engine/internal/channels/voice"
	"github.com/wolfman30/symptom-assessment-engine/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/symptom-assessment-engine/internal/http/middleware"
	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

// HealthCheck checks one dependency for /health.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Chat               *chat.Handler
	Voice              *voice.Handler
	Admin              *handlers.AdminHandler
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// ChatRateLimit is requests per second per client on the chat API; zero
	// disables limiting.
	ChatRateLimit float64
	ChatRateBurst int

	HealthChecks map[string]HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", healthHandler(cfg.HealthChecks))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/v1", func(v1 chi.Router) {
		if cfg.Chat != nil {
			v1.Route("/chat", func(c chi.Router) {
				if cfg.ChatRateLimit > 0 {
					burst := cfg.ChatRateBurst
					if burst <= 0 {
						burst = int(cfg.ChatRateLimit) + 1
					}
					c.Use(httpmiddleware.RateLimit(httpmiddleware.NewRateLimiter(cfg.ChatRateLimit, burst), nil))
				}
				cfg.Chat.Routes(c)
			})
		}
		// Voice webhooks authenticate with provider signatures instead.
		if cfg.Voice != nil {
			v1.Route("/voice", cfg.Voice.Routes)
		}
	})

	if cfg.Admin != nil && cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret, "admin", "nurse", "case_manager"))
			cfg.Admin.Routes(admin)
		})
	}

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(names) > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			resp.Checks = make(map[string]string, len(names))
			for _, name := range names {
				if err := checks[name](ctx); err != nil {
					resp.Checks[name] = err.Error()
					resp.Status = "degraded"
					status = http.StatusServiceUnavailable
					continue
				}
				resp.Checks[name] = "ok"
			}
		}
		handlers.WriteJSON(w, status, resp)
	}
}
