package integrations

import (
	"bytes"
	"companion-backend/internal/models"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	elevenLabsDefaultBaseURL = "https://api.elevenlabs.io"
	elevenLabsDefaultModel   = "eleven_monolingual_v1"
	elevenLabsDefaultVoiceID = "EXAVITQu4vr4xnSDxMaL"
)

// Ensure ElevenLabsClient implements the Provider interface.
var _ Provider = (*ElevenLabsClient)(nil)

// ElevenLabsConfig configures the text-to-speech client.
type ElevenLabsConfig struct {
	APIKey          string
	BaseURL         string
	ModelID         string
	DefaultVoiceID  string
	Stability       float64
	SimilarityBoost float64
	HTTPClient      *http.Client
}

// ElevenLabsClient converts text to MP3 audio.
type ElevenLabsClient struct {
	apiKey          string
	baseURL         string
	modelID         string
	defaultVoiceID  string
	stability       float64
	similarityBoost float64
	httpClient      *http.Client
}

// NewElevenLabsClient creates a client, filling unset fields with defaults.
func NewElevenLabsClient(cfg ElevenLabsConfig) *ElevenLabsClient {
	c := &ElevenLabsClient{
		apiKey:          strings.TrimSpace(cfg.APIKey),
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		modelID:         cfg.ModelID,
		defaultVoiceID:  strings.TrimSpace(cfg.DefaultVoiceID),
		stability:       cfg.Stability,
		similarityBoost: cfg.SimilarityBoost,
		httpClient:      cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = elevenLabsDefaultBaseURL
	}
	if c.modelID == "" {
		c.modelID = elevenLabsDefaultModel
	}
	if c.defaultVoiceID == "" {
		c.defaultVoiceID = elevenLabsDefaultVoiceID
	}
	if c.stability <= 0 {
		c.stability = 0.5
	}
	if c.similarityBoost <= 0 {
		c.similarityBoost = 0.7
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	return c
}

// Name returns the provider identifier.
func (c *ElevenLabsClient) Name() string { return "elevenlabs" }

// Configured reports whether an API key is present.
func (c *ElevenLabsClient) Configured() bool { return c.apiKey != "" }

type ttsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type ttsRequest struct {
	Text          string           `json:"text"`
	ModelID       string           `json:"model_id"`
	VoiceSettings ttsVoiceSettings `json:"voice_settings"`
}

// Synthesize returns MP3 audio for text spoken by voiceID (or the default voice).
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text, voiceID string) ([]byte, string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, "", c.synthesisErr(errors.New("text is empty"))
	}
	if !c.Configured() {
		return nil, "", c.synthesisErr(models.ErrProviderNotConfigured)
	}
	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		voiceID = c.defaultVoiceID
	}

	body, err := json.Marshal(ttsRequest{
		Text:    text,
		ModelID: c.modelID,
		VoiceSettings: ttsVoiceSettings{
			Stability:       c.stability,
			SimilarityBoost: c.similarityBoost,
		},
	})
	if err != nil {
		return nil, "", c.synthesisErr(fmt.Errorf("marshal request: %w", err))
	}

	endpoint := c.baseURL + "/v1/text-to-speech/" + url.PathEscape(voiceID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", c.synthesisErr(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("xi-api-key", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, "", c.synthesisErr(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, "", c.synthesisErr(fmt.Errorf("elevenlabs error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", c.synthesisErr(fmt.Errorf("read audio: %w", err))
	}
	if len(audio) == 0 {
		return nil, "", c.synthesisErr(errors.New("provider returned no audio"))
	}
	return audio, "mp3", nil
}

func (c *ElevenLabsClient) synthesisErr(err error) error {
	return &models.SynthesisError{Provider: c.Name(), Err: err}
}
