package services

import (
	"companion-backend/internal/models"
	"companion-backend/internal/persona"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queuedTurn(text string) *turn {
	return newTurn(models.ChatRequest{Message: text, UserID: "u1"}, persona.Persona{Name: "bella"}, false)
}

func TestChannelQueue_FIFO(t *testing.T) {
	q := newChannelQueue("u1")
	q.Enqueue(queuedTurn("first"))
	q.Enqueue(queuedTurn("second"))
	assert.Equal(t, 2, q.Size())

	first := q.Dequeue()
	require.NotNil(t, first)
	assert.Equal(t, "first", first.req.Message)

	// Nothing else comes out while a turn is processing.
	assert.Nil(t, q.Dequeue())
	assert.False(t, q.IsEmpty())

	q.Complete()
	second := q.Dequeue()
	require.NotNil(t, second)
	assert.Equal(t, "second", second.req.Message)

	q.Complete()
	assert.True(t, q.IsEmpty())
	assert.Nil(t, q.Dequeue())
}

func TestChannelQueue_ConcurrentEnqueue(t *testing.T) {
	q := newChannelQueue("u1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue(queuedTurn("x"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, q.Size())
}

func TestTurnFinish(t *testing.T) {
	tr := queuedTurn("hi")
	tr.finish(TurnResult{Reply: models.NewMessage(models.RoleAssistant, "hello")})

	select {
	case <-tr.done:
	default:
		t.Fatal("expected done to be closed")
	}
	assert.Equal(t, "hello", tr.result.Reply.Content)
}
