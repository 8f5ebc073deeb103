package hooks

import (
	"context"
	"errors"
	"sync"
)

type (
	// Bus publishes pipeline events to registered subscribers in a fan-out
	// pattern. The bus is thread-safe and supports concurrent Publish and
	// Register operations.
	//
	// Events are delivered synchronously in the publisher's goroutine, in
	// registration order, and iteration stops at the first subscriber error.
	// Subscribers doing non-critical work should log and swallow their own
	// errors so they never block delivery to later subscribers.
	Bus interface {
		// Publish delivers the event to every currently registered
		// subscriber. The context is forwarded to each subscriber's
		// HandleEvent method.
		Publish(ctx context.Context, event Event) error

		// Register adds a subscriber to the bus and returns a Subscription
		// that can be closed to unregister. Register returns an error if sub
		// is nil.
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published pipeline events. Implementations must
	// be thread-safe when registered with buses used by concurrent runs.
	Subscriber interface {
		// HandleEvent processes a single event. Returning an error stops
		// delivery of this event to remaining subscribers.
		HandleEvent(ctx context.Context, event Event) error
	}

	// Subscription is an active registration on a Bus. Close removes the
	// subscriber; it is idempotent and always returns nil.
	Subscription interface {
		Close() error
	}

	bus struct {
		mu sync.RWMutex
		// subs preserves registration order so delivery order is stable.
		subs []*subscription
	}

	subscription struct {
		bus  *bus
		sub  Subscriber
		once sync.Once
	}
)

// NewBus constructs an in-memory event bus ready for immediate use.
func NewBus() Bus {
	return &bus{}
}

// Publish delivers the event to every registered subscriber in registration
// order, stopping at the first error. The subscriber snapshot is captured
// before iteration, so registrations or removals during Publish do not affect
// the current delivery.
func (b *bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subs))
	for i, s := range b.subs {
		subs[i] = s.sub
	}
	b.mu.RUnlock()
	for _, sub := range subs {
		if err := sub.HandleEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Register adds a subscriber to the bus.
func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	s := &subscription{bus: b, sub: sub}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s, nil
}

// Close removes the subscriber from the bus. Idempotent.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		for i, cur := range s.bus.subs {
			if cur == s {
				s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
				break
			}
		}
		s.bus.mu.Unlock()
	})
	return nil
}
