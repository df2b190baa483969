package api

import (
	"companion-backend/internal/config"
	"companion-backend/internal/handlers"
	"companion-backend/internal/metrics"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// maxJSONBodyBytes caps JSON request bodies; audio uploads have their own limit.
const maxJSONBodyBytes = 1 << 20

// RouterDependencies holds all the dependencies required by the router setup,
// primarily handlers and configuration.
type RouterDependencies struct {
	ChatHandler     *handlers.ChatHandlers
	VoiceHandler    *handlers.VoiceHandlers
	PersonaHandler  *handlers.PersonaHandlers
	HealthHandler   *handlers.HealthHandlers
	RealtimeHandler *handlers.RealtimeHandler
	Metrics         *metrics.Metrics
	AudioDir        string // Served under /audio when set
	Config          *config.Config
}

// NewRouter creates and configures the main Chi router for the application.
func NewRouter(deps RouterDependencies) *chi.Mux {
	r := chi.NewRouter()

	requestTimeout := 90 * time.Second
	if deps.Config != nil && deps.Config.RequestTimeout > 0 {
		requestTimeout = deps.Config.RequestTimeout
	}

	// --- Base Middleware Stack ---
	r.Use(middleware.RequestID)            // Inject request ID into context
	r.Use(middleware.RealIP)               // Use X-Forwarded-For or X-Real-IP
	r.Use(middleware.Logger)               // Log requests
	r.Use(middleware.Recoverer)            // Recover from panics, return 500
	r.Use(MetricsMiddleware(deps.Metrics)) // Count requests per route

	// --- CORS Configuration ---
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(deps.Config),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	// --- Long-lived Routes (no request timeout) ---
	if deps.RealtimeHandler != nil {
		r.Get("/ws", deps.RealtimeHandler.HandleWebSocket)
	} else {
		log.Println("WARN: RealtimeHandler dependency is nil, skipping /ws route.")
	}

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	if deps.AudioDir != "" {
		fileServer := http.StripPrefix("/audio/", http.FileServer(http.Dir(deps.AudioDir)))
		r.Get("/audio/*", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "public, max-age=86400")
			fileServer.ServeHTTP(w, r)
		})
	}

	// --- API Routes ---
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		if deps.HealthHandler != nil {
			r.Get("/health", deps.HealthHandler.HandleHealth)
		}

		if deps.PersonaHandler != nil {
			r.Get("/personas", deps.PersonaHandler.HandleListPersonas)
		}

		// --- Mount Chat Routes ---
		if deps.ChatHandler != nil {
			r.With(JSONBodyLimit(maxJSONBodyBytes)).Post("/chat", deps.ChatHandler.HandleChat)
			r.Route("/conversation", func(r chi.Router) {
				r.Get("/{userID}", deps.ChatHandler.HandleGetConversation)
				r.Delete("/{userID}", deps.ChatHandler.HandleDeleteConversation)
			})
		} else {
			log.Println("WARN: ChatHandler dependency is nil, skipping /api/chat routes.")
		}

		// --- Mount Voice Routes ---
		if deps.VoiceHandler != nil {
			r.With(JSONBodyLimit(maxJSONBodyBytes)).Post("/speak", deps.VoiceHandler.HandleSpeak)
			r.Post("/transcribe", deps.VoiceHandler.HandleTranscribe)
			r.Post("/voice-chat", deps.VoiceHandler.HandleVoiceChat)
		} else {
			log.Println("WARN: VoiceHandler dependency is nil, skipping /api voice routes.")
		}
	})

	return r
}

// allowedOrigins returns the CORS origins: the configured frontend plus local dev servers.
func allowedOrigins(cfg *config.Config) []string {
	origins := []string{"http://localhost:3000", "http://localhost:5173"}
	if cfg == nil || strings.TrimSpace(cfg.FrontendURL) == "" {
		return origins
	}
	frontend := strings.TrimRight(strings.TrimSpace(cfg.FrontendURL), "/")
	if frontend == "*" {
		return []string{"*"}
	}
	return append(origins, frontend)
}
