package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{"HTTP_PORT", "MAX_HISTORY", "COMPLETION_TIMEOUT", "PERSONA_VOICES", "SPEAK_REPLIES", "DATABASE_URL"} {
		unsetEnv(t, key)
	}

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "3001", cfg.HTTPPort)
	assert.Equal(t, 20, cfg.MaxHistory)
	assert.Equal(t, 30*time.Second, cfg.CompletionTimeout)
	assert.False(t, cfg.SpeakReplies)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.PersonaVoices)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("MAX_HISTORY", "8")
	t.Setenv("COMPLETION_TIMEOUT", "5")
	t.Setenv("CONVERSATION_TTL", "2h")
	t.Setenv("SPEAK_REPLIES", "true")
	t.Setenv("COMPLETION_RETRIES", "2")
	t.Setenv("DEFAULT_PERSONA", "Luna")
	t.Setenv("PERSONA_VOICES", "bella=voice-b, Alex = voice-a")
	t.Setenv("OPENAI_API_KEY", " sk-test ")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.HTTPPort)
	assert.Equal(t, 8, cfg.MaxHistory)
	assert.Equal(t, 5*time.Second, cfg.CompletionTimeout)
	assert.Equal(t, 2*time.Hour, cfg.ConversationTTL)
	assert.True(t, cfg.SpeakReplies)
	assert.Equal(t, 2, cfg.CompletionRetries)
	assert.Equal(t, "luna", cfg.DefaultPersona)
	assert.Equal(t, map[string]string{"bella": "voice-b", "alex": "voice-a"}, cfg.PersonaVoices)
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
}

func TestFromEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("MAX_HISTORY", "lots")
	t.Setenv("SYNTHESIS_TIMEOUT", "soon")
	t.Setenv("PERSONA_VOICES", "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.MaxHistory)
	assert.Equal(t, 60*time.Second, cfg.SynthesisTimeout)
}

func TestFromEnv_Rejects(t *testing.T) {
	t.Setenv("PERSONA_VOICES", "bella")
	_, err := FromEnv()
	assert.Error(t, err)

	t.Setenv("PERSONA_VOICES", "")
	t.Setenv("MAX_HISTORY", "0")
	_, err = FromEnv()
	assert.Error(t, err)

	t.Setenv("MAX_HISTORY", "20")
	t.Setenv("COMPLETION_RETRIES", "-1")
	_, err = FromEnv()
	assert.Error(t, err)
}

// unsetEnv removes key for the duration of the test.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "") // Registers the restore
	require.NoError(t, os.Unsetenv(key))
}
