// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package sdk

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// Handler processes one published event. Handlers run synchronously on
// the publisher's goroutine, in subscription order. A handler error (or
// panic) never stops delivery to later handlers; it is collected into
// the DeliveryWarning returned to the publisher.
type Handler func(ctx context.Context, event any) error

// Subscription is the handle returned by Subscribe. Go functions are not
// comparable, so unsubscription goes through the handle rather than by
// handler value.
type Subscription interface {
	// Unsubscribe removes the subscription. Safe to call more than once.
	// A handler that unsubscribes itself during a publish still sees the
	// remainder of that in-flight delivery pass.
	Unsubscribe()
}

// EventBus is the process-wide typed publish/subscribe channel.
// Implementations are safe for concurrent use.
type EventBus interface {
	// Subscribe registers h for events of exactly eventType.
	Subscribe(eventType reflect.Type, h Handler) Subscription

	// Publish delivers event to every current subscriber of the event's
	// dynamic type. The returned error, if non-nil, is a
	// *DeliveryWarning aggregating handler failures; publication itself
	// succeeded and must not be retried on account of it.
	Publish(ctx context.Context, event any) error
}

// On subscribes h for events of type E.
func On[E any](bus EventBus, h func(ctx context.Context, event E) error) Subscription {
	return bus.Subscribe(ContractOf[E](), func(ctx context.Context, event any) error {
		e, ok := event.(E)
		if !ok {
			return fmt.Errorf("event is %T, handler wants %v", event, ContractOf[E]())
		}
		return h(ctx, e)
	})
}

// DeliveryWarning aggregates per-handler failures from a single Publish
// call. It is advisory: every subscriber that could run has run.
type DeliveryWarning struct {
	Errs []error
}

func (w *DeliveryWarning) Error() string {
	msgs := make([]string, len(w.Errs))
	for i, err := range w.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d event handler(s) failed: %s", len(w.Errs), strings.Join(msgs, "; "))
}

// Unwrap exposes the individual handler errors to errors.Is/As.
func (w *DeliveryWarning) Unwrap() []error {
	return w.Errs
}
