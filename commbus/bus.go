package commbus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// InMemoryCommBus routes messages inside a single process.
//
// Events are delivered one subscriber at a time, in subscription
// order, on the publisher's goroutine; Publish returns once every
// subscriber has run, so a publisher observes a consistent
// before/after around its own event. A failing subscriber is logged
// and the rest still run. Commands and queries go to exactly one
// handler; queries are bounded by the bus's query timeout.
type InMemoryCommBus struct {
	mu           sync.RWMutex
	queryTimeout time.Duration
	handlers     map[string]HandlerFunc
	subs         map[string][]subscription
	lastSubID    uint64
}

// subscription ties a subscriber to the token its remove function
// matches on. Comparing function values is not possible in Go, so the
// token carries identity.
type subscription struct {
	id      uint64
	deliver HandlerFunc
}

// NewInMemoryCommBus creates a bus whose queries time out after
// queryTimeout.
func NewInMemoryCommBus(queryTimeout time.Duration) *InMemoryCommBus {
	return &InMemoryCommBus{
		queryTimeout: queryTimeout,
		handlers:     make(map[string]HandlerFunc),
		subs:         make(map[string][]subscription),
	}
}

// =============================================================================
// MESSAGING
// =============================================================================

// Publish delivers an event to every subscriber in subscription
// order. Subscriber errors are logged, never returned: an observer
// must not fail the component it observes.
func (b *InMemoryCommBus) Publish(ctx context.Context, event Message) error {
	eventType := GetMessageType(event)

	b.mu.RLock()
	targets := make([]subscription, len(b.subs[eventType]))
	copy(targets, b.subs[eventType])
	b.mu.RUnlock()

	for _, sub := range targets {
		if _, err := sub.deliver(ctx, event); err != nil {
			log.Printf("commbus: %s subscriber failed: %v", eventType, err)
		}
	}
	return nil
}

// Send routes a command to its handler on the caller's goroutine.
// A missing handler is an error: a command that goes nowhere is a
// wiring mistake, not an empty audience.
func (b *InMemoryCommBus) Send(ctx context.Context, command Message) error {
	messageType := GetMessageType(command)

	b.mu.RLock()
	handler, ok := b.handlers[messageType]
	b.mu.RUnlock()
	if !ok {
		return noHandlerError(messageType)
	}

	if _, err := handler(ctx, command); err != nil {
		return fmt.Errorf("command %s: %w", messageType, err)
	}
	return nil
}

// QuerySync routes a query to its handler and waits for the reply.
// The handler runs under a context bounded by the query timeout; a
// cancelled parent context surfaces as the parent's error, an expired
// budget as ErrQueryTimeout.
func (b *InMemoryCommBus) QuerySync(ctx context.Context, query Query) (any, error) {
	messageType := GetMessageType(query)

	b.mu.RLock()
	handler, ok := b.handlers[messageType]
	b.mu.RUnlock()
	if !ok {
		return nil, noHandlerError(messageType)
	}

	queryCtx, cancel := context.WithTimeout(ctx, b.queryTimeout)
	defer cancel()

	type reply struct {
		value any
		err   error
	}
	replies := make(chan reply, 1)
	go func() {
		v, err := handler(queryCtx, query)
		replies <- reply{value: v, err: err}
	}()

	select {
	case <-queryCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, queryTimeoutError(messageType, b.queryTimeout)
	case r := <-replies:
		return r.value, r.err
	}
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Subscribe adds an event subscriber and returns its remove function.
// Removing is idempotent.
func (b *InMemoryCommBus) Subscribe(eventType string, handler HandlerFunc) func() {
	b.mu.Lock()
	b.lastSubID++
	id := b.lastSubID
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, deliver: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[eventType]
		for i, s := range subs {
			if s.id == id {
				b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// RegisterHandler binds the command/query handler for a message type.
func (b *InMemoryCommBus) RegisterHandler(messageType string, handler HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[messageType]; exists {
		return duplicateHandlerError(messageType)
	}
	b.handlers[messageType] = handler
	return nil
}

// =============================================================================
// INTROSPECTION AND LIFECYCLE
// =============================================================================

// HasHandler reports whether a command/query handler is bound.
func (b *InMemoryCommBus) HasHandler(messageType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.handlers[messageType]
	return exists
}

// SubscriberCount reports how many subscribers an event type has.
func (b *InMemoryCommBus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

// Clear drops every handler and subscriber. Used between tests.
func (b *InMemoryCommBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string]HandlerFunc)
	b.subs = make(map[string][]subscription)
}

var _ CommBus = (*InMemoryCommBus)(nil)
