package integrations

import (
	"bytes"
	"companion-backend/internal/models"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
)

const (
	openAIDefaultBaseURL            = "https://api.openai.com/v1"
	openAIDefaultChatModel          = "gpt-4"
	openAIDefaultTranscriptionModel = "whisper-1"
	openAIDefaultMaxTokens          = 500
	openAIDefaultTemperature        = 0.8
)

// Ensure OpenAIClient implements the Provider interface.
var _ Provider = (*OpenAIClient)(nil)

// OpenAIConfig configures the OpenAI chat and transcription client.
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	ChatModel          string
	TranscriptionModel string
	MaxTokens          int
	Temperature        float64
	HTTPClient         *http.Client
}

// OpenAIClient talks to the chat completions and audio transcription endpoints.
type OpenAIClient struct {
	apiKey             string
	baseURL            string
	chatModel          string
	transcriptionModel string
	maxTokens          int
	temperature        float64
	httpClient         *http.Client
}

// NewOpenAIClient creates a client, filling unset fields with defaults.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	c := &OpenAIClient{
		apiKey:             strings.TrimSpace(cfg.APIKey),
		baseURL:            strings.TrimRight(cfg.BaseURL, "/"),
		chatModel:          cfg.ChatModel,
		transcriptionModel: cfg.TranscriptionModel,
		maxTokens:          cfg.MaxTokens,
		temperature:        cfg.Temperature,
		httpClient:         cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = openAIDefaultBaseURL
	}
	if c.chatModel == "" {
		c.chatModel = openAIDefaultChatModel
	}
	if c.transcriptionModel == "" {
		c.transcriptionModel = openAIDefaultTranscriptionModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = openAIDefaultMaxTokens
	}
	if c.temperature <= 0 {
		c.temperature = openAIDefaultTemperature
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	return c
}

// Name returns the provider identifier.
func (c *OpenAIClient) Name() string { return "openai" }

// Configured reports whether an API key is present.
func (c *OpenAIClient) Configured() bool { return c.apiKey != "" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Complete sends the full conversation and returns the assistant's reply text.
func (c *OpenAIClient) Complete(ctx context.Context, msgs []models.Message) (string, error) {
	if !c.Configured() {
		return "", c.completionErr(models.ErrProviderNotConfigured, false)
	}
	if len(msgs) == 0 || msgs[0].Role != models.RoleSystem {
		return "", c.completionErr(errors.New("conversation must start with a system message"), false)
	}

	req := chatRequest{
		Model:       c.chatModel,
		Messages:    make([]chatMessage, 0, len(msgs)),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", c.completionErr(fmt.Errorf("marshal request: %w", err), false)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", c.completionErr(fmt.Errorf("create request: %w", err), false)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", c.completionErr(fmt.Errorf("http request: %w", err), false)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", c.completionErr(parseAPIError(resp), retryable)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", c.completionErr(fmt.Errorf("decode response: %w", err), false)
	}
	if len(parsed.Choices) == 0 {
		return "", c.completionErr(errors.New("response contained no choices"), false)
	}
	reply := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if reply == "" {
		return "", c.completionErr(errors.New("response contained an empty message"), false)
	}
	return reply, nil
}

func (c *OpenAIClient) completionErr(err error, retryable bool) error {
	return &models.CompletionError{Provider: c.Name(), Retryable: retryable, Err: err}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads one audio file and returns the recognized text.
func (c *OpenAIClient) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", &models.TranscriptionError{Provider: c.Name(), InvalidAudio: true, Err: errors.New("audio is empty")}
	}
	if !c.Configured() {
		return "", &models.TranscriptionError{Provider: c.Name(), Err: models.ErrProviderNotConfigured}
	}
	if strings.TrimSpace(filename) == "" {
		filename = "audio.webm"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", c.transcriptionErr(fmt.Errorf("create form file: %w", err))
	}
	if _, err := fw.Write(audio); err != nil {
		return "", c.transcriptionErr(fmt.Errorf("write audio data: %w", err))
	}
	if err := mw.WriteField("model", c.transcriptionModel); err != nil {
		return "", c.transcriptionErr(fmt.Errorf("write model field: %w", err))
	}
	if err := mw.Close(); err != nil {
		return "", c.transcriptionErr(fmt.Errorf("close multipart writer: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", c.transcriptionErr(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", c.transcriptionErr(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &models.TranscriptionError{
			Provider:     c.Name(),
			InvalidAudio: resp.StatusCode == http.StatusBadRequest,
			Err:          parseAPIError(resp),
		}
	}

	var parsed transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", c.transcriptionErr(fmt.Errorf("decode response: %w", err))
	}
	text := strings.TrimSpace(parsed.Text)
	if text == "" {
		return "", &models.TranscriptionError{Provider: c.Name(), InvalidAudio: true, Err: errors.New("no speech recognized")}
	}
	return text, nil
}

func (c *OpenAIClient) transcriptionErr(err error) error {
	return &models.TranscriptionError{Provider: c.Name(), Err: err}
}

// parseAPIError turns an OpenAI-style error body into an error.
func parseAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, parsed.Error.Message)
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	log.Printf("WARN [OpenAI] Unstructured error body (status %d)", resp.StatusCode)
	return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
}
