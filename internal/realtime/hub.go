package realtime

import (
	"companion-backend/internal/metrics"
	"companion-backend/internal/models"
	"log"
	"sync"
)

// Subscriber receives the outbound events of the channels it joined.
// Send must not block; a subscriber that cannot keep up drops the event.
type Subscriber interface {
	ID() string
	Send(ev models.OutboundEvent) bool
}

// Hub groups subscribers into per-user channels and fans events out to them.
// Any number of connections may share a channel, so every device or tab of a
// user sees the same events.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[string]Subscriber
	metrics  *metrics.Metrics
}

// NewHub creates an empty hub. m may be nil.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		channels: make(map[string]map[string]Subscriber),
		metrics:  m,
	}
}

// Subscribe adds sub to userID's channel. The returned func removes it again
// and is safe to call more than once.
func (h *Hub) Subscribe(userID string, sub Subscriber) (unsubscribe func()) {
	h.mu.Lock()
	subs, ok := h.channels[userID]
	if !ok {
		subs = make(map[string]Subscriber)
		h.channels[userID] = subs
	}
	_, existed := subs[sub.ID()]
	subs[sub.ID()] = sub
	h.mu.Unlock()

	if !existed {
		h.metrics.AddSubscribers(1)
		log.Printf("[Hub] Subscriber %s joined channel %s", sub.ID(), userID)
	}

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(userID, sub) })
	}
}

func (h *Hub) remove(userID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.channels[userID]
	if !ok {
		return
	}
	if current, ok := subs[sub.ID()]; !ok || current != sub {
		return
	}
	delete(subs, sub.ID())
	if len(subs) == 0 {
		delete(h.channels, userID)
	}
	h.metrics.AddSubscribers(-1)
	log.Printf("[Hub] Subscriber %s left channel %s", sub.ID(), userID)
}

// Publish hands ev to every subscriber of userID's channel and returns how many
// accepted it. Publishing to a channel without subscribers is a no-op.
func (h *Hub) Publish(userID string, ev models.OutboundEvent) int {
	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.channels[userID]))
	for _, sub := range h.channels[userID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if sub.Send(ev) {
			delivered++
		}
	}
	return delivered
}

// SubscriberCount returns the number of subscribers on userID's channel.
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[userID])
}

// Channels returns the number of channels with at least one subscriber.
func (h *Hub) Channels() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}
