package models

import (
	"strings"

	"github.com/google/uuid"
)

// DefaultUserID is used when a chat request does not name a user.
const DefaultUserID = "default"

// --- Request Structs ---

// ChatRequest defines the body for submitting a chat message.
type ChatRequest struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
	Persona string `json:"persona,omitempty"` // Optional, resolved to the default persona when empty
	Speak   bool   `json:"speak,omitempty"`   // Optional, synthesize the reply even if replies are not spoken by default
}

// Validate checks the required fields of a chat submission.
func (r ChatRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return NewValidationError("message", "Message is required")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return NewValidationError("userId", "is required")
	}
	return nil
}

// SpeakRequest defines the body for the speech synthesis endpoint.
type SpeakRequest struct {
	Text    string `json:"text"`
	Persona string `json:"persona,omitempty"`
	UserID  string `json:"userId,omitempty"` // Accepted for compatibility, unused
}

// Validate checks the required fields of a speak request.
func (r SpeakRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return NewValidationError("text", "Text is required")
	}
	return nil
}

// VoiceRequest carries an uploaded recording that should become a chat turn.
type VoiceRequest struct {
	Audio    []byte
	Filename string
	UserID   string
	Persona  string
	Speak    bool
}

// Validate checks the required fields of a voice submission.
func (r VoiceRequest) Validate() error {
	if len(r.Audio) == 0 {
		return NewValidationError("audio", "Audio file is required")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return NewValidationError("userId", "is required")
	}
	return nil
}

// --- Response Structs ---

// ErrorResponse defines the standard structure for API errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ChatResponse is returned once a chat turn completes.
type ChatResponse struct {
	Response string `json:"response"`
	UserID   string `json:"userId"`
	AudioURL string `json:"audioUrl,omitempty"`
}

// ConversationResponse lists a user's history without the persona preamble.
type ConversationResponse struct {
	Conversation []Message `json:"conversation"`
}

// SpeakResponse points at a synthesized audio file.
type SpeakResponse struct {
	AudioURL string    `json:"audioUrl"`
	AudioID  uuid.UUID `json:"audioId"`
}

// TranscribeResponse carries recognized text.
type TranscribeResponse struct {
	Text string `json:"text"`
}

// VoiceChatResponse is returned once a spoken turn completes.
type VoiceChatResponse struct {
	Transcript string `json:"transcript"`
	Response   string `json:"response"`
	UserID     string `json:"userId"`
	AudioURL   string `json:"audioUrl,omitempty"`
}

// PersonaResponse describes one available persona.
type PersonaResponse struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Traits      string `json:"personality_traits"`
	Style       string `json:"communication_style"`
	Tagline     string `json:"tagline,omitempty"`
	IsDefault   bool   `json:"is_default"`
}

// ListPersonasResponse lists every registered persona.
type ListPersonasResponse struct {
	Personas []PersonaResponse `json:"personas"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	Providers map[string]bool `json:"providers,omitempty"` // Provider name -> has credentials
}
