package bus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type simpleEvent struct {
	typ  string
	src  string
	ts   time.Time
	data any
	meta map[string]string
}

func (e simpleEvent) Type() string                { return e.typ }
func (e simpleEvent) Source() string              { return e.src }
func (e simpleEvent) Timestamp() time.Time        { return e.ts }
func (e simpleEvent) Data() any                   { return e.data }
func (e simpleEvent) Metadata() map[string]string { return e.meta }

// NewEvent creates an event stamped with the current time.
func NewEvent(typ, src string, data any) Event {
	return simpleEvent{typ: typ, src: src, ts: time.Now(), data: data}
}

// NewEventAt creates an event with an explicit timestamp and metadata.
func NewEventAt(typ, src string, ts time.Time, data any, meta map[string]string) Event {
	return simpleEvent{typ: typ, src: src, ts: ts, data: data, meta: meta}
}

type subscription struct {
	id        string
	topic     string
	eventType string
	handler   EventHandler
	active    atomic.Bool
	cancel    func()
}

func (s *subscription) ID() string        { return s.id }
func (s *subscription) Topic() string     { return s.topic }
func (s *subscription) EventType() string { return s.eventType }
func (s *subscription) IsActive() bool    { return s.active.Load() }

func (s *subscription) Cancel() error {
	if s.active.CompareAndSwap(true, false) && s.cancel != nil {
		s.cancel()
	}
	return nil
}

type inMemoryBus struct {
	mu sync.RWMutex
	// topic -> eventType -> subscription id -> subscription
	handlers map[string]map[string]map[string]*subscription
}

func New() EventBus {
	return &inMemoryBus{
		handlers: make(map[string]map[string]map[string]*subscription),
	}
}

func (b *inMemoryBus) Publish(topic string, event Event) error {
	return b.deliver(topic, event)
}

func (b *inMemoryBus) Subscribe(topic, eventType string, handler EventHandler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("bus: nil handler")
	}
	if eventType == "" {
		return nil, errors.New("bus: empty event type")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[string]map[string]*subscription)
	}
	if b.handlers[topic][eventType] == nil {
		b.handlers[topic][eventType] = make(map[string]*subscription)
	}
	s := &subscription{id: uuid.NewString(), topic: topic, eventType: eventType, handler: handler}
	s.active.Store(true)
	s.cancel = func() { b.remove(s) }
	b.handlers[topic][eventType][s.id] = s
	return s, nil
}

func (b *inMemoryBus) DropTopic(topic string) {
	b.mu.Lock()
	types := b.handlers[topic]
	delete(b.handlers, topic)
	b.mu.Unlock()

	for _, subs := range types {
		for _, s := range subs {
			s.active.Store(false)
		}
	}
}

func (b *inMemoryBus) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	types, ok := b.handlers[s.topic]
	if !ok {
		return
	}
	subs, ok := types[s.eventType]
	if !ok {
		return
	}
	delete(subs, s.id)
	if len(subs) == 0 {
		delete(types, s.eventType)
	}
	if len(types) == 0 {
		delete(b.handlers, s.topic)
	}
}

func (b *inMemoryBus) deliver(topic string, event Event) error {
	etype := event.Type()

	b.mu.RLock()
	var subs []*subscription
	if types := b.handlers[topic]; types != nil {
		for _, s := range types[etype] {
			subs = append(subs, s)
		}
		if etype != AnyType {
			for _, s := range types[AnyType] {
				subs = append(subs, s)
			}
		}
	}
	b.mu.RUnlock()

	var all error
	for _, s := range subs {
		if !s.active.Load() {
			continue
		}
		if err := s.handler(event); err != nil {
			all = errors.Join(all, err)
		}
	}
	return all
}
