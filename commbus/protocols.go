// Package commbus is the in-process message bus the runtime's
// components publish their lifecycle to.
//
// Three delivery patterns, selected by the message's category:
//   - events: Publish fans out to every subscriber, in subscription order
//   - commands: Send routes to the single registered handler
//   - queries: QuerySync routes to the single handler and waits for a reply
//
// Delivery never leaves the process. The bus is the runtime's observer
// and query outlet; envelope delivery itself does not pass through it.
package commbus

import "context"

// Message is anything the bus routes. Category tells the bus which
// delivery pattern applies: "event", "query", or "command".
type Message interface {
	Category() string
}

// Query marks messages that expect a reply from QuerySync.
type Query interface {
	Message
	IsQuery()
}

// HandlerFunc consumes one message. The returned value is the reply
// for queries; events and commands ignore it.
type HandlerFunc func(ctx context.Context, message Message) (any, error)

// CommBus routes messages between runtime components. Components
// depend on this interface, not on the in-memory implementation.
type CommBus interface {
	// Publish delivers an event to every subscriber and returns once
	// all of them have run. Subscriber failures are isolated.
	Publish(ctx context.Context, event Message) error

	// Send routes a command to its single handler.
	Send(ctx context.Context, command Message) error

	// QuerySync routes a query to its single handler and waits for
	// the reply, bounded by the bus's query timeout.
	QuerySync(ctx context.Context, query Query) (any, error)

	// Subscribe adds an event subscriber and returns its remove function.
	Subscribe(eventType string, handler HandlerFunc) func()

	// RegisterHandler binds the command/query handler for a message
	// type. One handler per type.
	RegisterHandler(messageType string, handler HandlerFunc) error

	// HasHandler reports whether a command/query handler is bound.
	HasHandler(messageType string) bool

	// SubscriberCount reports how many subscribers an event type has.
	SubscriberCount(eventType string) int

	// Clear drops every handler and subscriber.
	Clear()
}
