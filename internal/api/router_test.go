package api_test

import (
	"companion-backend/internal/api"
	"companion-backend/internal/config"
	"companion-backend/internal/handlers"
	"companion-backend/internal/integrations"
	"companion-backend/internal/metrics"
	"companion-backend/internal/models"
	"companion-backend/internal/persona"
	"companion-backend/internal/realtime"
	"companion-backend/internal/services"
	"companion-backend/internal/store/memory"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*httptest.Server, *metrics.Metrics, string) {
	t.Helper()

	m := metrics.New("routertest")
	personas := persona.NewDefaultRegistry(persona.DefaultName)
	hub := realtime.NewHub(m)
	providers := integrations.NewRegistry()
	demo := integrations.NewDemoCompletion()
	providers.Register(demo)

	coordinator, err := services.NewSessionCoordinator(services.CoordinatorDependencies{
		Store:      memory.NewMemoryStore(20),
		Personas:   personas,
		Completion: demo,
		Publisher:  hub,
		Metrics:    m,
	}, services.CoordinatorConfig{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	audioDir := t.TempDir()

	router := api.NewRouter(api.RouterDependencies{
		ChatHandler:     handlers.NewChatHandlers(coordinator),
		VoiceHandler:    handlers.NewVoiceHandlers(coordinator, 0),
		PersonaHandler:  handlers.NewPersonaHandlers(personas),
		HealthHandler:   handlers.NewHealthHandlers(providers),
		RealtimeHandler: handlers.NewRealtimeHandler(ctx, hub, coordinator, realtime.ClientConfig{}, "*"),
		Metrics:         m,
		AudioDir:        audioDir,
		Config:          &config.Config{FrontendURL: "http://example.test", RequestTimeout: 5 * time.Second},
	})

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = coordinator.Close(context.Background())
	})
	return srv, m, audioDir
}

func TestRouter_Health(t *testing.T) {
	srv, m, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body models.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, map[string]bool{"demo": true}, body.Providers)

	// The middleware records after the handler returns, which can trail the response.
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/health", "200")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRouter_ChatOverHTTPReachesWebSocketSubscribers(t *testing.T) {
	srv, _, _ := newServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "join_conversation", "userId": "u1"}))
	// Joining is asynchronous; give the reader a moment before the turn starts.
	time.Sleep(100 * time.Millisecond)

	resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(`{"message":"Hello","userId":"u1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var chat models.ChatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chat))
	assert.Equal(t, "(demo) Bella: I hear you. Tell me more about how you're feeling.", chat.Response)

	var senders []string
	for i := 0; i < 2; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var ev models.OutboundEvent
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, models.EventMessageReceived, ev.Type)
		senders = append(senders, ev.Sender)
	}
	assert.Equal(t, []string{"user", "assistant"}, senders)
}

func TestRouter_ServesAudioAndMetrics(t *testing.T) {
	srv, _, audioDir := newServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(audioDir, "clip.mp3"), []byte("ID3"), 0o644))

	resp, err := http.Get(srv.URL + "/audio/clip.mp3")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ID3", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestRouter_CORS(t *testing.T) {
	srv, _, _ := newServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/chat", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.test")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://example.test", resp.Header.Get("Access-Control-Allow-Origin"))
}
