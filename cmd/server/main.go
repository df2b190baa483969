package main

import (
	"companion-backend/internal/api"
	"companion-backend/internal/config"
	"companion-backend/internal/handlers"
	"companion-backend/internal/integrations"
	"companion-backend/internal/metrics"
	"companion-backend/internal/persona"
	"companion-backend/internal/realtime"
	"companion-backend/internal/services"
	"companion-backend/internal/store"
	"companion-backend/internal/store/audio"
	"companion-backend/internal/store/memory"
	"companion-backend/internal/store/postgres"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// janitorInterval is how often idle conversations and old audio are swept.
const janitorInterval = 5 * time.Minute

func main() {
	log.Println("Starting Companion Backend...")

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	log.Println("Configuration loaded successfully.")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New("companion")

	// 2. Initialize Personas
	personas := persona.NewDefaultRegistry(cfg.DefaultPersona)
	if _, err := personas.Get(cfg.DefaultPersona); err != nil {
		log.Fatalf("FATAL: DEFAULT_PERSONA %q is not a known persona: %v", cfg.DefaultPersona, err)
	}
	for name, voice := range cfg.PersonaVoices {
		if err := personas.SetVoice(name, voice); err != nil {
			log.Printf("WARN: Ignoring voice override for %s: %v", name, err)
		}
	}
	log.Printf("Persona registry initialized with %d personas (default %s).", len(personas.List()), personas.DefaultName())

	// 3. Initialize Provider Clients
	providers := integrations.NewRegistry()

	openAI := integrations.NewOpenAIClient(integrations.OpenAIConfig{
		APIKey:    cfg.OpenAIAPIKey,
		BaseURL:   cfg.OpenAIBaseURL,
		ChatModel: cfg.OpenAIModel,
	})
	providers.Register(openAI)

	elevenLabs := integrations.NewElevenLabsClient(integrations.ElevenLabsConfig{
		APIKey:         cfg.ElevenLabsAPIKey,
		ModelID:        cfg.ElevenLabsModel,
		DefaultVoiceID: cfg.ElevenLabsVoiceID,
	})
	providers.Register(elevenLabs)

	var completion services.CompletionGateway = openAI
	if !openAI.Configured() {
		log.Println("WARN: OPENAI_API_KEY not set, replies come from the offline demo responder.")
		demo := integrations.NewDemoCompletion()
		providers.Register(demo)
		completion = demo
	}

	var transcription services.TranscriptionGateway
	if openAI.Configured() {
		transcription = openAI
	} else {
		log.Println("WARN: Transcription disabled without OPENAI_API_KEY.")
	}

	audioStore, err := audio.NewFileStore(cfg.AudioDir, "/audio")
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize audio store: %v", err)
	}

	var speech services.SpeechGateway
	if elevenLabs.Configured() {
		speech = services.NewSpeechService(elevenLabs, audioStore)
		log.Printf("SpeechService initialized, audio stored in %s.", audioStore.Dir())
	} else {
		log.Println("WARN: ELEVENLABS_API_KEY not set, speech synthesis disabled.")
	}

	// 4. Initialize Stores
	convStore := memory.NewMemoryStore(cfg.MaxHistory)
	log.Println("In-memory conversation store initialized.")

	var archive store.Archive
	if cfg.DatabaseURL != "" {
		pgStore, dbpool, err := openArchive(rootCtx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		defer dbpool.Close() // Ensure pool is closed on exit
		archive = pgStore
		log.Println("Postgres transcript archive initialized.")
	} else {
		log.Println("DATABASE_URL not set, conversations are kept in memory only.")
	}

	// 5. Initialize Services
	hub := realtime.NewHub(m)

	coordinator, err := services.NewSessionCoordinator(services.CoordinatorDependencies{
		Store:         convStore,
		Personas:      personas,
		Completion:    completion,
		Speech:        speech,
		Transcription: transcription,
		Publisher:     hub,
		Archive:       archive,
		Metrics:       m,
	}, services.CoordinatorConfig{
		CompletionTimeout:    cfg.CompletionTimeout,
		SynthesisTimeout:     cfg.SynthesisTimeout,
		TranscriptionTimeout: cfg.TranscriptionTimeout,
		CompletionRetries:    cfg.CompletionRetries,
		SpeakReplies:         cfg.SpeakReplies,
		MaxHistory:           cfg.MaxHistory,
		MaxPendingTurns:      cfg.MaxPendingTurns,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to create session coordinator: %v", err)
	}
	log.Println("SessionCoordinator initialized.")

	// 6. Initialize Handlers
	routerDeps := api.RouterDependencies{
		ChatHandler:     handlers.NewChatHandlers(coordinator),
		VoiceHandler:    handlers.NewVoiceHandlers(coordinator, cfg.MaxAudioBytes),
		PersonaHandler:  handlers.NewPersonaHandlers(personas),
		HealthHandler:   handlers.NewHealthHandlers(providers),
		RealtimeHandler: handlers.NewRealtimeHandler(rootCtx, hub, coordinator, realtime.ClientConfig{}, cfg.FrontendURL),
		Metrics:         m,
		AudioDir:        audioStore.Dir(),
		Config:          cfg,
	}
	router := api.NewRouter(routerDeps)
	log.Println("HTTP router configured.")

	// 7. Configure and Start HTTP Server
	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Chat turns wait on the model, so writes get the request timeout plus slack.
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		log.Printf("Server starting and listening on port %s", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		log.Println("Server listener routine stopped.")
		return nil
	})

	g.Go(func() error {
		runJanitor(gctx, coordinator, audioStore, cfg.ConversationTTL, cfg.AudioRetention)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutdown signal received, initiating graceful shutdown...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("WARN: Server graceful shutdown failed: %v", err)
		}
		if err := coordinator.Close(shutdownCtx); err != nil {
			log.Printf("WARN: Pending turns did not finish before shutdown: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("FATAL: Server stopped with error: %v", err)
	}

	log.Println("Server shutdown complete.")
}

// openArchive connects to Postgres and prepares the transcript table.
func openArchive(ctx context.Context, databaseURL string) (*postgres.PostgresStore, *pgxpool.Pool, error) {
	dbCtx, dbCancel := context.WithTimeout(ctx, 10*time.Second) // Timeout for initial connection
	defer dbCancel()

	dbpool, err := pgxpool.New(dbCtx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create database connection pool: %w", err)
	}

	// Ping DB to verify connection
	if err := dbpool.Ping(dbCtx); err != nil {
		dbpool.Close()
		return nil, nil, fmt.Errorf("unable to ping database: %w", err)
	}

	pgStore := postgres.NewPostgresStore(dbpool)
	if err := pgStore.EnsureSchema(dbCtx); err != nil {
		dbpool.Close()
		return nil, nil, fmt.Errorf("unable to prepare transcript archive: %w", err)
	}
	return pgStore, dbpool, nil
}

// runJanitor periodically evicts idle conversations and prunes old audio files.
// A zero ttl or retention disables that sweep. Eviction goes through the
// coordinator so users with a turn in flight are never dropped.
func runJanitor(ctx context.Context, sessions *services.SessionCoordinator, files *audio.FileStore, ttl, retention time.Duration) {
	if ttl <= 0 && retention <= 0 {
		return
	}

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ttl > 0 {
				if n := sessions.EvictIdle(ttl); n > 0 {
					log.Printf("[Janitor] Evicted %d idle conversations", n)
				}
			}
			if retention > 0 {
				n, err := files.Prune(retention)
				if err != nil {
					log.Printf("ERROR [Janitor]: Failed to prune audio: %v", err)
				} else if n > 0 {
					log.Printf("[Janitor] Pruned %d audio files", n)
				}
			}
		}
	}
}
