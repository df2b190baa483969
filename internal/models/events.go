package models

import (
	"encoding/json"
	"strings"
	"time"
)

// --- Outbound events (server -> every subscriber of a user channel) ---

// EventType names an outbound event kind.
type EventType string

const (
	EventMessageReceived EventType = "message_received"
	EventError           EventType = "error"
	EventAudioReady      EventType = "audio_ready"
)

// Sender values carried by message_received events.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// OutboundEvent is a single event broadcast on a user's channel.
type OutboundEvent struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"userId"`
	Message   string    `json:"message,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	AudioURL  string    `json:"audioUrl,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageReceivedEvent reports a user or assistant turn.
func MessageReceivedEvent(userID string, msg Message) OutboundEvent {
	sender := SenderUser
	if msg.Role == RoleAssistant {
		sender = SenderAssistant
	}
	return OutboundEvent{
		Type:      EventMessageReceived,
		UserID:    userID,
		Message:   msg.Content,
		Sender:    sender,
		Timestamp: msg.CreatedAt,
	}
}

// ErrorEvent reports a failed turn. It is never recorded in history.
func ErrorEvent(userID, message string) OutboundEvent {
	return OutboundEvent{
		Type:      EventError,
		UserID:    userID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// AudioReadyEvent points subscribers at synthesized speech for the last reply.
func AudioReadyEvent(userID string, artifact AudioArtifact) OutboundEvent {
	return OutboundEvent{
		Type:      EventAudioReady,
		UserID:    userID,
		AudioURL:  artifact.URL,
		Timestamp: artifact.CreatedAt,
	}
}

// --- Inbound events (client -> server over the realtime transport) ---

// InboundKind names an inbound event variant.
type InboundKind string

const (
	InboundJoinConversation  InboundKind = "join_conversation"
	InboundLeaveConversation InboundKind = "leave_conversation"
	InboundNewMessage        InboundKind = "new_message"
)

// InboundEvent is a decoded and validated client frame.
type InboundEvent struct {
	Kind    InboundKind
	UserID  string
	Message string
	Persona string
}

type inboundFrame struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	Message string `json:"message"`
	Persona string `json:"persona"`
}

// DecodeInbound parses a client frame and validates the fields its kind requires.
func DecodeInbound(data []byte) (InboundEvent, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return InboundEvent{}, NewValidationError("frame", "invalid JSON")
	}

	ev := InboundEvent{
		Kind:    InboundKind(strings.TrimSpace(frame.Type)),
		UserID:  strings.TrimSpace(frame.UserID),
		Message: frame.Message,
		Persona: strings.TrimSpace(frame.Persona),
	}

	switch ev.Kind {
	case InboundJoinConversation, InboundLeaveConversation:
		if ev.UserID == "" {
			return InboundEvent{}, NewValidationError("userId", "is required")
		}
	case InboundNewMessage:
		req := ChatRequest{Message: ev.Message, UserID: ev.UserID, Persona: ev.Persona}
		if err := req.Validate(); err != nil {
			return InboundEvent{}, err
		}
	case "":
		return InboundEvent{}, NewValidationError("type", "is required")
	default:
		return InboundEvent{}, NewValidationError("type", "unsupported event type "+string(ev.Kind))
	}

	return ev, nil
}

// ChatRequest returns the chat submission carried by a new_message event.
func (ev InboundEvent) ChatRequest() ChatRequest {
	return ChatRequest{Message: ev.Message, UserID: ev.UserID, Persona: ev.Persona}
}
