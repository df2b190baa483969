package services

import (
	"companion-backend/internal/models"
	"companion-backend/internal/persona"
	"container/list"
	"sync"
	"time"
)

// turn is one queued chat submission and the slot its outcome is delivered to.
// A reset turn carries no message; it clears the conversation in queue order.
type turn struct {
	req        models.ChatRequest
	persona    persona.Persona
	speak      bool
	reset      bool
	existed    bool // Set by a reset turn before done closes
	enqueuedAt time.Time

	done   chan struct{}
	result TurnResult
}

func newTurn(req models.ChatRequest, p persona.Persona, speak bool) *turn {
	return &turn{
		req:        req,
		persona:    p,
		speak:      speak,
		enqueuedAt: time.Now(),
		done:       make(chan struct{}),
	}
}

func newResetTurn(userID string) *turn {
	t := newTurn(models.ChatRequest{UserID: userID}, persona.Persona{}, false)
	t.reset = true
	return t
}

func (t *turn) finish(res TurnResult) {
	t.result = res
	close(t.done)
}

// channelQueue holds the pending turns of a single user channel.
// At most one turn is processing at a time; the rest wait in FIFO order.
type channelQueue struct {
	userID     string
	turns      *list.List
	processing *turn
	running    bool // Guarded by the coordinator's mutex, not mu
	mu         sync.Mutex
}

func newChannelQueue(userID string) *channelQueue {
	return &channelQueue{
		userID: userID,
		turns:  list.New(),
	}
}

// Enqueue adds a turn to the back of the queue.
func (q *channelQueue) Enqueue(t *turn) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.turns.PushBack(t)
}

// Dequeue removes and returns the next turn.
// Returns nil if the queue is empty or a turn is already processing.
func (q *channelQueue) Dequeue() *turn {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.processing != nil {
		return nil
	}

	front := q.turns.Front()
	if front == nil {
		return nil
	}

	t, ok := front.Value.(*turn)
	if !ok {
		return nil
	}
	q.turns.Remove(front)
	q.processing = t

	return t
}

// Complete marks the processing turn as done.
func (q *channelQueue) Complete() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing = nil
}

// Size returns the number of turns waiting behind the processing one.
func (q *channelQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.turns.Len()
}

// IsEmpty reports whether nothing is waiting or processing.
func (q *channelQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.turns.Len() == 0 && q.processing == nil
}
