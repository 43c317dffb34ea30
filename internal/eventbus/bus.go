// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

// Package eventbus implements the process-wide typed publish/subscribe
// channel. Delivery is synchronous on the publisher's goroutine; there
// is no background dispatch loop.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/duskhall/duskhall/pkg/sdk"
)

// Compile-time interface check.
var _ sdk.EventBus = (*Bus)(nil)

// subscriber is one registered handler. id orders and identifies it;
// owner is the plugin id for loader-revoked subscriptions, empty for
// host subscriptions.
type subscriber struct {
	id      uint64
	owner   string
	handler sdk.Handler
}

// Bus is the concrete event bus. Create with New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[reflect.Type][]subscriber
	nextID uint64
	logger *slog.Logger
}

// Option configures the Bus.
type Option func(*Bus)

// WithLogger sets the logger used for handler failures.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = l
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[reflect.Type][]subscriber),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for events of exactly eventType.
func (b *Bus) Subscribe(eventType reflect.Type, h sdk.Handler) sdk.Subscription {
	return b.SubscribeOwned("", eventType, h)
}

// SubscribeOwned registers h tagged with an owning plugin id, so the
// loader can revoke it when the owner unloads.
func (b *Bus) SubscribeOwned(owner string, eventType reflect.Type, h sdk.Handler) sdk.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscriber{
		id:      id,
		owner:   owner,
		handler: h,
	})
	return &subscription{bus: b, eventType: eventType, id: id}
}

// Publish delivers event to a snapshot of the current subscribers for
// the event's dynamic type, in subscription order. Subscribing or
// unsubscribing from inside a handler does not affect the in-flight
// pass. Handler errors and panics are caught per handler, logged, and
// aggregated into the returned *sdk.DeliveryWarning; they never abort
// delivery.
func (b *Bus) Publish(ctx context.Context, event any) error {
	if event == nil {
		return fmt.Errorf("cannot publish nil event")
	}
	eventType := reflect.TypeOf(event)

	b.mu.RLock()
	snapshot := make([]subscriber, len(b.subs[eventType]))
	copy(snapshot, b.subs[eventType])
	b.mu.RUnlock()

	var errs []error
	for _, sub := range snapshot {
		if err := b.invoke(ctx, sub, event); err != nil {
			b.logger.Warn("event handler failed",
				"event_type", eventType.String(),
				"owner", sub.owner,
				"error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return &sdk.DeliveryWarning{Errs: errs}
	}
	return nil
}

// invoke runs one handler, converting a panic into an error so a broken
// subscriber cannot take down the publisher.
func (b *Bus) invoke(ctx context.Context, sub subscriber, event any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return sub.handler(ctx, event)
}

// UnsubscribeOwner removes every subscription tagged with the plugin
// id, returning how many were removed.
func (b *Bus) UnsubscribeOwner(pluginID string) int {
	if pluginID == "" {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for eventType, subs := range b.subs {
		kept := subs[:0]
		for _, sub := range subs {
			if sub.owner == pluginID {
				removed++
				continue
			}
			kept = append(kept, sub)
		}
		if len(kept) == 0 {
			delete(b.subs, eventType)
		} else {
			b.subs[eventType] = kept
		}
	}
	return removed
}

// SubscriberCount returns the number of current subscribers for an
// event type.
func (b *Bus) SubscriberCount(eventType reflect.Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

// subscription implements sdk.Subscription.
type subscription struct {
	bus       *Bus
	eventType reflect.Type
	id        uint64
}

// Unsubscribe removes the subscription. Idempotent.
func (s *subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	subs := s.bus.subs[s.eventType]
	for i, sub := range subs {
		if sub.id == s.id {
			s.bus.subs[s.eventType] = append(subs[:i], subs[i+1:]...)
			if len(s.bus.subs[s.eventType]) == 0 {
				delete(s.bus.subs, s.eventType)
			}
			return
		}
	}
}
