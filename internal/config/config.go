package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration values loaded from environment variables.
type Config struct {
	HTTPPort       string
	FrontendURL    string
	RequestTimeout time.Duration

	// Providers
	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIBaseURL     string
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
	ElevenLabsModel   string

	// Storage
	AudioDir       string
	AudioRetention time.Duration // 0 keeps files forever
	DatabaseURL    string        // Optional transcript archive

	// Sessions
	DefaultPersona       string
	PersonaVoices        map[string]string // Persona name -> voice ID overrides
	MaxHistory           int
	ConversationTTL      time.Duration // 0 never expires idle conversations
	SpeakReplies         bool
	MaxPendingTurns      int
	CompletionTimeout    time.Duration
	SynthesisTimeout     time.Duration
	TranscriptionTimeout time.Duration
	CompletionRetries    int
	MaxAudioBytes        int64
}

// LoadConfig loads configuration from environment variables.
// It looks for a .env file first, then checks actual environment variables.
func LoadConfig() (*Config, error) {
	// Attempt to load .env file (useful for development)
	err := godotenv.Load() // Loads .env from the current directory
	if err != nil {
		log.Println("Warning: Could not load .env file. Using environment variables only.", err)
		// Don't fail if .env is not present, might be in production
	}

	return FromEnv()
}

// FromEnv builds a Config from the process environment without reading .env.
func FromEnv() (*Config, error) {
	voices, err := parsePersonaVoices(getEnv("PERSONA_VOICES", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPPort:       getEnv("HTTP_PORT", "3001"),
		FrontendURL:    getEnv("FRONTEND_URL", "http://localhost:3000"),
		RequestTimeout: getDuration("REQUEST_TIMEOUT", 90*time.Second),

		OpenAIAPIKey:      getSecret("OPENAI_API_KEY"),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4"),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
		ElevenLabsAPIKey:  getSecret("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: getEnv("ELEVENLABS_VOICE_ID", ""),
		ElevenLabsModel:   getEnv("ELEVENLABS_MODEL", ""),

		AudioDir:       getEnv("AUDIO_DIR", "audio"),
		AudioRetention: getDuration("AUDIO_RETENTION", 0),
		DatabaseURL:    getSecret("DATABASE_URL"),

		DefaultPersona:       strings.ToLower(getEnv("DEFAULT_PERSONA", "bella")),
		PersonaVoices:        voices,
		MaxHistory:           getInt("MAX_HISTORY", 20),
		ConversationTTL:      getDuration("CONVERSATION_TTL", 0),
		SpeakReplies:         getBool("SPEAK_REPLIES", false),
		MaxPendingTurns:      getInt("MAX_PENDING_TURNS", 0),
		CompletionTimeout:    getDuration("COMPLETION_TIMEOUT", 30*time.Second),
		SynthesisTimeout:     getDuration("SYNTHESIS_TIMEOUT", 60*time.Second),
		TranscriptionTimeout: getDuration("TRANSCRIPTION_TIMEOUT", 60*time.Second),
		CompletionRetries:    getInt("COMPLETION_RETRIES", 0),
		MaxAudioBytes:        int64(getInt("MAX_AUDIO_BYTES", 25<<20)),
	}

	if cfg.MaxHistory <= 0 {
		return nil, fmt.Errorf("MAX_HISTORY must be positive, got %d", cfg.MaxHistory)
	}
	if cfg.MaxPendingTurns < 0 || cfg.CompletionRetries < 0 {
		return nil, fmt.Errorf("MAX_PENDING_TURNS and COMPLETION_RETRIES must not be negative")
	}

	log.Printf("Loaded config: Port=%s, OpenAI=%t, ElevenLabs=%t, Archive=%t, MaxHistory=%d, Persona=%s",
		cfg.HTTPPort, cfg.OpenAIAPIKey != "", cfg.ElevenLabsAPIKey != "", cfg.DatabaseURL != "", cfg.MaxHistory, cfg.DefaultPersona)

	return cfg, nil
}

// parsePersonaVoices reads "bella=voiceA,alex=voiceB".
func parsePersonaVoices(raw string) (map[string]string, error) {
	voices := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, voice, ok := strings.Cut(pair, "=")
		name, voice = strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(voice)
		if !ok || name == "" || voice == "" {
			return nil, fmt.Errorf("invalid PERSONA_VOICES entry %q (expected name=voiceID)", pair)
		}
		voices[name] = voice
	}
	return voices, nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Env variable %s not set, using default: %s", key, fallback)
	return fallback
}

// getSecret retrieves an environment variable without logging its value.
func getSecret(key string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		log.Printf("Env variable %s not set", key)
	}
	return strings.TrimSpace(value)
}

func getInt(key string, fallback int) int {
	raw := getEnv(key, strconv.Itoa(fallback))
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("Warning: Invalid %s '%s', using default %d. Error: %v", key, raw, fallback, err)
		return fallback
	}
	return value
}

func getBool(key string, fallback bool) bool {
	raw := getEnv(key, strconv.FormatBool(fallback))
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("Warning: Invalid %s '%s', using default %t. Error: %v", key, raw, fallback, err)
		return fallback
	}
	return value
}

// getDuration accepts Go durations ("30s") or a bare number of seconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(getEnv(key, fallback.String()))
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("Warning: Invalid %s '%s', using default %s. Error: %v", key, raw, fallback, err)
		return fallback
	}
	return value
}
