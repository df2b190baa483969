package memory

import (
	"companion-backend/internal/models"
	"companion-backend/internal/store"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time check to ensure MemoryStore implements store.ConversationStore
var _ store.ConversationStore = (*MemoryStore)(nil)

const defaultShardCount = 32

type conversation struct {
	mu           sync.Mutex
	persona      string
	messages     []models.Message
	createdAt    time.Time
	lastActivity time.Time
}

type shard struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
}

// MemoryStore keeps conversations in a sharded map. Each shard guards its map,
// each conversation guards its own message slice.
type MemoryStore struct {
	shards     []*shard
	maxHistory int
	now        func() time.Time
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithShards sets the number of map shards.
func WithShards(n int) Option {
	return func(s *MemoryStore) {
		if n > 0 {
			s.shards = newShards(n)
		}
	}
}

// WithClock replaces time.Now, used by tests of idle cleanup.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore creates a store retaining at most maxHistory non-system messages per user.
func NewMemoryStore(maxHistory int, opts ...Option) *MemoryStore {
	if maxHistory <= 0 {
		maxHistory = store.DefaultMaxHistory
	}
	s := &MemoryStore{
		shards:     newShards(defaultShardCount),
		maxHistory: maxHistory,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{conversations: make(map[string]*conversation)}
	}
	return shards
}

func (s *MemoryStore) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *MemoryStore) lookup(userID string) (*conversation, bool) {
	sh := s.shardFor(userID)
	sh.mu.RLock()
	conv, ok := sh.conversations[userID]
	sh.mu.RUnlock()
	return conv, ok
}

// GetOrCreate returns the existing conversation or creates one seeded with the preamble.
func (s *MemoryStore) GetOrCreate(userID, persona string, preamble models.Message) (models.Conversation, bool) {
	if conv, ok := s.lookup(userID); ok {
		return conv.snapshot(userID), false
	}

	sh := s.shardFor(userID)
	sh.mu.Lock()
	conv, ok := sh.conversations[userID]
	created := false
	if !ok {
		now := s.now()
		preamble.Role = models.RoleSystem
		conv = &conversation{
			persona:      persona,
			messages:     []models.Message{preamble},
			createdAt:    now,
			lastActivity: now,
		}
		sh.conversations[userID] = conv
		created = true
	}
	sh.mu.Unlock()

	if created {
		log.Printf("[MemoryStore] Created conversation for user %s (persona: %s)", userID, persona)
	}
	return conv.snapshot(userID), created
}

// Get returns a snapshot of the full conversation including the preamble.
func (s *MemoryStore) Get(userID string) (models.Conversation, error) {
	conv, ok := s.lookup(userID)
	if !ok {
		return models.Conversation{}, store.ErrNotFound
	}
	return conv.snapshot(userID), nil
}

// Append adds a message to the end of the conversation.
func (s *MemoryStore) Append(userID string, msg models.Message) error {
	conv, ok := s.lookup(userID)
	if !ok {
		return store.ErrNotFound
	}
	if msg.Role == models.RoleSystem {
		return models.NewValidationError("role", "system messages cannot be appended")
	}

	conv.mu.Lock()
	conv.messages = append(conv.messages, msg)
	conv.lastActivity = s.now()
	conv.mu.Unlock()
	return nil
}

// RemoveLast removes the newest message when its ID matches.
func (s *MemoryStore) RemoveLast(userID string, id uuid.UUID) error {
	conv, ok := s.lookup(userID)
	if !ok {
		return store.ErrNotFound
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	n := len(conv.messages)
	if n <= 1 || conv.messages[n-1].ID != id {
		return store.ErrNotFound
	}
	conv.messages[n-1] = models.Message{}
	conv.messages = conv.messages[:n-1]
	return nil
}

// Trim evicts the oldest non-system messages beyond the retained window.
func (s *MemoryStore) Trim(userID string) (int, error) {
	conv, ok := s.lookup(userID)
	if !ok {
		return 0, store.ErrNotFound
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	excess := len(conv.messages) - (s.maxHistory + 1)
	if excess <= 0 {
		return 0, nil
	}
	kept := make([]models.Message, 0, s.maxHistory+1)
	kept = append(kept, conv.messages[0])
	kept = append(kept, conv.messages[1+excess:]...)
	conv.messages = kept
	return excess, nil
}

// History returns the messages after the preamble, empty for an unknown user.
func (s *MemoryStore) History(userID string) []models.Message {
	conv, ok := s.lookup(userID)
	if !ok {
		return []models.Message{}
	}
	return conv.snapshot(userID).History()
}

// Delete drops a conversation.
func (s *MemoryStore) Delete(userID string) bool {
	sh := s.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.conversations[userID]; !ok {
		return false
	}
	delete(sh.conversations, userID)
	return true
}

// CleanupIdle removes conversations whose last activity is older than ttl,
// except those skip reports as busy. A non-positive ttl disables expiry.
func (s *MemoryStore) CleanupIdle(ttl time.Duration, skip func(userID string) bool) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-ttl)
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for userID, conv := range sh.conversations {
			conv.mu.Lock()
			idle := conv.lastActivity.Before(cutoff)
			conv.mu.Unlock()
			if idle && (skip == nil || !skip(userID)) {
				delete(sh.conversations, userID)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of conversations held.
func (s *MemoryStore) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.conversations)
		sh.mu.RUnlock()
	}
	return total
}

func (c *conversation) snapshot(userID string) models.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]models.Message, len(c.messages))
	copy(msgs, c.messages)
	return models.Conversation{
		UserID:    userID,
		Persona:   c.persona,
		Messages:  msgs,
		CreatedAt: c.createdAt,
		UpdatedAt: c.lastActivity,
	}
}
