package events

import (
	"encoding/json"
	"strings"
	"sync"
)

// Handler processes the payload of one named event
type Handler func(payload json.RawMessage)

// Publisher routes named events to their handlers. Handlers run synchronously
// on the goroutine that calls Publish, so a caller that publishes from a single
// loop gets single threaded handlers.
type Publisher struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler
	fallback    []UnhandledFunc
}

// UnhandledFunc sees events that no handler is subscribed to
type UnhandledFunc func(name string, payload json.RawMessage)

// NewPublisher creates a new event publisher
func NewPublisher() *Publisher {
	return &Publisher{
		subscribers: make(map[string][]Handler),
	}
}

// Subscribe registers a handler for a specific event name
func (p *Publisher) Subscribe(name string, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.subscribers[name] = append(p.subscribers[name], handler)
}

// SubscribeUnhandled registers a handler for events nobody subscribed to.
func (p *Publisher) SubscribeUnhandled(handler UnhandledFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.fallback = append(p.fallback, handler)
}

// UnsubscribePrefix drops every handler whose event name starts with prefix.
func (p *Publisher) UnsubscribePrefix(prefix string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for name := range p.subscribers {
		if strings.HasPrefix(name, prefix) {
			delete(p.subscribers, name)
		}
	}
}

// Publish calls every handler subscribed to name and reports whether there
// was at least one.
func (p *Publisher) Publish(name string, payload json.RawMessage) bool {
	p.mu.RLock()
	handlers := append([]Handler(nil), p.subscribers[name]...)
	fallback := append([]UnhandledFunc(nil), p.fallback...)
	p.mu.RUnlock()

	if len(handlers) == 0 {
		for _, handler := range fallback {
			handler(name, payload)
		}
		return false
	}

	for _, handler := range handlers {
		handler(payload)
	}
	return true
}

// Has reports whether name has a subscriber
func (p *Publisher) Has(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.subscribers[name]) > 0
}
