package bus

import "time"

// AnyType subscribes a handler to every event type published on a topic.
const AnyType = "*"

// EventBus is a thread-safe, in-process pub/sub bus.
//
// Handlers subscribe by topic and event type. Delivery is synchronous, in the
// publisher's goroutine, so a publisher observes every handler's effect when
// Publish returns. Handler errors are joined and returned to the publisher.
type EventBus interface {
	// Publish delivers event to the subscribers of its type on topic, then to
	// the topic's AnyType subscribers.
	Publish(topic string, event Event) error

	// Subscribe registers handler for eventType (or AnyType) on topic.
	Subscribe(topic, eventType string, handler EventHandler) (Subscription, error)
	// DropTopic cancels every subscription on topic and forgets it.
	DropTopic(topic string)
}

// Event is an immutable message carried by the bus.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
	Metadata() map[string]string
}

// EventHandler is invoked per delivered event.
type EventHandler func(event Event) error

// Subscription is a registered handler. Cancel is idempotent.
type Subscription interface {
	ID() string
	Topic() string
	EventType() string
	IsActive() bool
	Cancel() error
}
