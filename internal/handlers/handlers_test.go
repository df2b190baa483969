package handlers_test

import (
	"bytes"
	"companion-backend/internal/handlers"
	"companion-backend/internal/models"
	"companion-backend/internal/persona"
	"companion-backend/internal/realtime"
	"companion-backend/internal/services"
	"companion-backend/internal/store/memory"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type completionFunc func(ctx context.Context, msgs []models.Message) (string, error)

func (f completionFunc) Complete(ctx context.Context, msgs []models.Message) (string, error) {
	return f(ctx, msgs)
}

type speechFunc func(ctx context.Context, text, voiceID string) (models.AudioArtifact, error)

func (f speechFunc) Synthesize(ctx context.Context, text, voiceID string) (models.AudioArtifact, error) {
	return f(ctx, text, voiceID)
}

type transcriptionFunc func(ctx context.Context, audio []byte, filename string) (string, error)

func (f transcriptionFunc) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	return f(ctx, audio, filename)
}

type env struct {
	coordinator *services.SessionCoordinator
	router      chi.Router
}

func newEnv(t *testing.T, deps services.CoordinatorDependencies) *env {
	t.Helper()
	if deps.Store == nil {
		deps.Store = memory.NewMemoryStore(20)
	}
	if deps.Personas == nil {
		deps.Personas = persona.NewDefaultRegistry(persona.DefaultName)
	}
	if deps.Completion == nil {
		deps.Completion = completionFunc(func(ctx context.Context, msgs []models.Message) (string, error) {
			return "I'm here for you.", nil
		})
	}
	if deps.Publisher == nil {
		deps.Publisher = realtime.NewHub(nil)
	}

	c, err := services.NewSessionCoordinator(deps, services.CoordinatorConfig{CompletionTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	chat := handlers.NewChatHandlers(c)
	voice := handlers.NewVoiceHandlers(c, 1024)

	r := chi.NewRouter()
	r.Post("/api/chat", chat.HandleChat)
	r.Get("/api/conversation/{userID}", chat.HandleGetConversation)
	r.Delete("/api/conversation/{userID}", chat.HandleDeleteConversation)
	r.Post("/api/speak", voice.HandleSpeak)
	r.Post("/api/transcribe", voice.HandleTranscribe)
	r.Post("/api/voice-chat", voice.HandleVoiceChat)
	r.Get("/api/personas", handlers.NewPersonaHandlers(deps.Personas).HandleListPersonas)

	return &env{coordinator: c, router: r}
}

func (e *env) do(t *testing.T, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) postJSON(t *testing.T, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return e.do(t, http.MethodPost, path, "application/json", body)
}

func multipartAudio(t *testing.T, audio []byte, fields map[string]string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if audio != nil {
		fw, err := mw.CreateFormFile("audio", "clip.webm")
		require.NoError(t, err)
		_, err = fw.Write(audio)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func TestHandleChat(t *testing.T) {
	e := newEnv(t, services.CoordinatorDependencies{})

	rec := e.postJSON(t, "/api/chat", map[string]string{"message": "Hello", "userId": "u1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp models.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "I'm here for you.", resp.Response)
	assert.Equal(t, "u1", resp.UserID)
	assert.Empty(t, resp.AudioURL)

	rec = e.do(t, http.MethodGet, "/api/conversation/u1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var conv models.ConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	require.Len(t, conv.Conversation, 2)
	assert.Equal(t, "Hello", conv.Conversation[0].Content)
}

func TestHandleChat_DefaultUser(t *testing.T) {
	e := newEnv(t, services.CoordinatorDependencies{})

	rec := e.postJSON(t, "/api/chat", map[string]string{"message": "Hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, e.coordinator.History(models.DefaultUserID), 2)
}

func TestHandleChat_Errors(t *testing.T) {
	failing := completionFunc(func(ctx context.Context, msgs []models.Message) (string, error) {
		return "", &models.CompletionError{Provider: "fake", Err: errors.New("down")}
	})

	tests := []struct {
		name       string
		completion services.CompletionGateway
		body       string
		status     int
		message    string
	}{
		{name: "malformed body", body: `{"message":`, status: http.StatusBadRequest, message: "Invalid request payload"},
		{name: "missing message", body: `{"userId":"u1"}`, status: http.StatusBadRequest, message: "Message is required"},
		{name: "unknown persona", body: `{"message":"hi","persona":"zed"}`, status: http.StatusBadRequest},
		{name: "provider failure", completion: failing, body: `{"message":"hi"}`, status: http.StatusBadGateway, message: "Failed to generate response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, services.CoordinatorDependencies{Completion: tt.completion})
			rec := e.do(t, http.MethodPost, "/api/chat", "application/json", []byte(tt.body))
			assert.Equal(t, tt.status, rec.Code)

			var resp models.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			if tt.message != "" {
				assert.Equal(t, tt.message, resp.Error)
			}
			assert.Empty(t, e.coordinator.History(models.DefaultUserID))
		})
	}
}

// headerCounter records how often WriteHeader is called on a response.
type headerCounter struct {
	*httptest.ResponseRecorder
	writes int
}

func (h *headerCounter) WriteHeader(code int) {
	h.writes++
	h.ResponseRecorder.WriteHeader(code)
}

func TestHandleChat_RequestTimeoutWritesOnce(t *testing.T) {
	release := make(chan struct{})
	e := newEnv(t, services.CoordinatorDependencies{
		Completion: completionFunc(func(ctx context.Context, msgs []models.Message) (string, error) {
			<-release
			return "too late", nil
		}),
	})
	t.Cleanup(func() { close(release) })

	chat := handlers.NewChatHandlers(e.coordinator)
	r := chi.NewRouter()
	r.Use(middleware.Timeout(50 * time.Millisecond))
	r.Post("/api/chat", chat.HandleChat)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"Hello","userId":"u1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := &headerCounter{ResponseRecorder: httptest.NewRecorder()}
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, 1, rec.writes)
}

func TestHandleDeleteConversation(t *testing.T) {
	e := newEnv(t, services.CoordinatorDependencies{})
	require.Equal(t, http.StatusOK, e.postJSON(t, "/api/chat", map[string]string{"message": "Hello", "userId": "u1"}).Code)

	rec := e.do(t, http.MethodDelete, "/api/conversation/u1", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, e.coordinator.History("u1"))

	rec = e.do(t, http.MethodGet, "/api/conversation/u1", "", nil)
	assert.JSONEq(t, `{"conversation":[]}`, rec.Body.String())
}

func TestHandleSpeak(t *testing.T) {
	artifactID := uuid.New()
	e := newEnv(t, services.CoordinatorDependencies{
		Speech: speechFunc(func(ctx context.Context, text, voiceID string) (models.AudioArtifact, error) {
			if text == "fail" {
				return models.AudioArtifact{}, &models.SynthesisError{Provider: "fake", Err: errors.New("quota")}
			}
			return models.AudioArtifact{ID: artifactID, URL: "/audio/" + artifactID.String() + ".mp3"}, nil
		}),
	})

	rec := e.postJSON(t, "/api/speak", map[string]string{"text": "Good night"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.SpeakResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, artifactID, resp.AudioID)
	assert.True(t, strings.HasPrefix(resp.AudioURL, "/audio/"))

	rec = e.postJSON(t, "/api/speak", map[string]string{"text": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Text is required"}`, rec.Body.String())

	rec = e.postJSON(t, "/api/speak", map[string]string{"text": "fail"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleSpeak_NotConfigured(t *testing.T) {
	e := newEnv(t, services.CoordinatorDependencies{})

	rec := e.postJSON(t, "/api/speak", map[string]string{"text": "hello"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleTranscribe(t *testing.T) {
	e := newEnv(t, services.CoordinatorDependencies{
		Transcription: transcriptionFunc(func(ctx context.Context, audio []byte, filename string) (string, error) {
			if string(audio) == "noise" {
				return "", &models.TranscriptionError{Provider: "fake", InvalidAudio: true, Err: errors.New("unreadable")}
			}
			if string(audio) == "outage" {
				return "", &models.TranscriptionError{Provider: "fake", Err: errors.New("503")}
			}
			return "hello there", nil
		}),
	})

	body, ct := multipartAudio(t, []byte("RIFFdata"), nil)
	rec := e.do(t, http.MethodPost, "/api/transcribe", ct, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"text":"hello there"}`, rec.Body.String())

	body, ct = multipartAudio(t, nil, nil)
	rec = e.do(t, http.MethodPost, "/api/transcribe", ct, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Audio file is required"}`, rec.Body.String())

	body, ct = multipartAudio(t, []byte("noise"), nil)
	rec = e.do(t, http.MethodPost, "/api/transcribe", ct, body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body, ct = multipartAudio(t, []byte("outage"), nil)
	rec = e.do(t, http.MethodPost, "/api/transcribe", ct, body)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	body, ct = multipartAudio(t, bytes.Repeat([]byte("a"), 2048), nil)
	rec = e.do(t, http.MethodPost, "/api/transcribe", ct, body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandleVoiceChat(t *testing.T) {
	e := newEnv(t, services.CoordinatorDependencies{
		Transcription: transcriptionFunc(func(ctx context.Context, audio []byte, filename string) (string, error) {
			return "how are you", nil
		}),
	})

	body, ct := multipartAudio(t, []byte("RIFFdata"), map[string]string{"userId": "u9", "persona": "maya"})
	rec := e.do(t, http.MethodPost, "/api/voice-chat", ct, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp models.VoiceChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "how are you", resp.Transcript)
	assert.Equal(t, "I'm here for you.", resp.Response)
	assert.Equal(t, "u9", resp.UserID)

	history := e.coordinator.History("u9")
	require.Len(t, history, 2)
	assert.Equal(t, "how are you", history[0].Content)
}

func TestHandleListPersonas(t *testing.T) {
	e := newEnv(t, services.CoordinatorDependencies{})

	rec := e.do(t, http.MethodGet, "/api/personas", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.ListPersonasResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Personas)

	defaults := 0
	for _, p := range resp.Personas {
		if p.IsDefault {
			defaults++
			assert.Equal(t, "bella", p.Name)
		}
	}
	assert.Equal(t, 1, defaults)
}

type staticStatus map[string]bool

func (s staticStatus) Status() map[string]bool { return s }

func TestHandleHealth(t *testing.T) {
	h := handlers.NewHealthHandlers(staticStatus{"openai": true, "elevenlabs": false})

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, map[string]bool{"openai": true, "elevenlabs": false}, resp.Providers)
}
