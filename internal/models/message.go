package models

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message in a conversation.
// Messages are immutable once appended to a conversation.
type Message struct {
	ID        uuid.UUID `json:"id"`
	Role      Role      `json:"role"`    // "system", "user" or "assistant"
	Content   string    `json:"content"` // The text content of the message
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage builds a message with a fresh ID and the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.New(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// Conversation is the ordered message history owned by one user.
// Messages[0] is always the persona preamble (role "system").
type Conversation struct {
	UserID    string    `json:"user_id"`
	Persona   string    `json:"persona"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// History returns the messages after the persona preamble.
func (c Conversation) History() []Message {
	if len(c.Messages) <= 1 {
		return []Message{}
	}
	out := make([]Message, len(c.Messages)-1)
	copy(out, c.Messages[1:])
	return out
}

// AudioArtifact references one synthesized speech file.
type AudioArtifact struct {
	ID        uuid.UUID `json:"id"`
	URL       string    `json:"url"` // Retrieval path, e.g. /audio/<id>.mp3
	Format    string    `json:"format"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}
