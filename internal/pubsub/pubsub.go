// Package pubsub implements an in-process publish/subscribe fabric
// satisfying the session engine's PubSub collaborator contract, for tests
// and single-binary demos. A real multi-node deployment would swap this for
// a networked broker behind the same interface.
package pubsub

import (
	"context"
	"sync"
)

// Handler receives a topic's raw message bytes and the id of the node that
// published them.
type Handler func(payload []byte, sourceNodeID string)

// Bus is an in-process pub/sub fabric. Safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[int]Handler
	next int
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string]map[int]Handler)}
}

// Subscribe registers handler for topic and returns an unsubscribe func.
func (b *Bus) Subscribe(topic string, handler func(payload []byte, sourceNodeID string)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	id := b.next
	b.next++
	b.subs[topic][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if m := b.subs[topic]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(b.subs, topic)
			}
		}
	}, nil
}

// Publish delivers payload to every current subscriber of topic,
// synchronously, tagging it with sourceNodeID.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte, sourceNodeID string) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(payload, sourceNodeID)
	}
	return nil
}
