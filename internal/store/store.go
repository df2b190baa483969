package store

import (
	"companion-backend/internal/models"
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// DefaultMaxHistory is the number of non-system messages retained per conversation.
const DefaultMaxHistory = 20

// ConversationStore maps a user identifier to its ordered conversation.
// Implementations must be safe for concurrent use across users.
type ConversationStore interface {
	// GetOrCreate returns the user's conversation, creating it seeded with the
	// given preamble when absent. The bool reports whether it was created.
	GetOrCreate(userID, persona string, preamble models.Message) (models.Conversation, bool)

	// Get returns a snapshot of the full conversation including the preamble.
	Get(userID string) (models.Conversation, error)

	// Append adds a message to the end of the conversation.
	// Precondition: GetOrCreate has been called for userID.
	Append(userID string, msg models.Message) error

	// RemoveLast removes the newest message if it has the given ID.
	RemoveLast(userID string, id uuid.UUID) error

	// Trim evicts the oldest non-system messages until the retained window holds.
	Trim(userID string) (int, error)

	// History returns every message after the preamble. Unknown users yield an empty slice.
	History(userID string) []models.Message

	// Delete drops the conversation. It reports whether one existed.
	Delete(userID string) bool

	// CleanupIdle removes conversations untouched for longer than ttl.
	// Users for which skip returns true are kept; skip may be nil.
	CleanupIdle(ttl time.Duration, skip func(userID string) bool) int

	// Len returns the number of conversations held.
	Len() int
}

// Archive persists completed turns outside the process.
// It is best effort: the in-memory store stays the system of record.
type Archive interface {
	SaveMessages(ctx context.Context, userID, persona string, msgs []models.Message) error
	LoadRecent(ctx context.Context, userID string, limit int) ([]models.Message, error)
	DeleteConversation(ctx context.Context, userID string) error
}
