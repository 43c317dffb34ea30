// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/duskhall/duskhall/pkg/contract"
	"github.com/duskhall/duskhall/pkg/sdk"
)

// pluginContext is the sdk.Context handed to one plugin. Its registry
// and bus views stamp the plugin's id as owner, so everything the
// plugin registers or subscribes is purged when it unloads, and they
// enforce the plugin's capability grants.
type pluginContext struct {
	loader   *Loader
	pluginID string
	registry *ownedRegistry
	events   *ownedBus
	log      *slog.Logger
}

var _ sdk.Context = (*pluginContext)(nil)

func newPluginContext(l *Loader, pluginID string) *pluginContext {
	return &pluginContext{
		loader:   l,
		pluginID: pluginID,
		registry: &ownedRegistry{loader: l, pluginID: pluginID},
		events:   &ownedBus{loader: l, pluginID: pluginID},
		log:      l.log.With("plugin", pluginID),
	}
}

func (c *pluginContext) Registry() sdk.ServiceRegistry { return c.registry }
func (c *pluginContext) Events() sdk.EventBus          { return c.events }
func (c *pluginContext) Logger() *slog.Logger          { return c.log }

func (c *pluginContext) Config() map[string]any {
	return c.loader.configs[c.pluginID]
}

func (c *pluginContext) Host() sdk.HostServices {
	return &hostServices{loader: c.loader, caller: c.pluginID}
}

// contractCapability names the capability segment for a contract type,
// e.g. contract.Renderer -> "renderer".
func contractCapability(t reflect.Type) string {
	name := t.Name()
	if name == "" {
		name = t.String()
	}
	return strings.ToLower(name)
}

// eventCapability names the capability segment for an event. Bridgeable
// events use their wire name; others fall back to the lowercased type
// name.
func eventCapability(event any) string {
	if name, ok := contract.EventName(event); ok {
		return name
	}
	return strings.ToLower(reflect.TypeOf(event).Name())
}

// ownedRegistry is a plugin's view of the host registry.
type ownedRegistry struct {
	loader   *Loader
	pluginID string
}

var _ sdk.ServiceRegistry = (*ownedRegistry)(nil)

func (r *ownedRegistry) Register(contractType reflect.Type, impl any, meta sdk.ServiceMetadata) error {
	capName := "registry.register." + contractCapability(contractType)
	if !r.loader.enforcer.Check(r.pluginID, capName) {
		return fmt.Errorf("%w: %s requires %s", ErrCapabilityDenied, r.pluginID, capName)
	}
	meta.Owner = r.pluginID
	return r.loader.registry.Register(contractType, impl, meta)
}

func (r *ownedRegistry) Get(contractType reflect.Type, mode sdk.SelectionMode) (any, error) {
	return r.loader.registry.Get(contractType, mode)
}

func (r *ownedRegistry) GetAll(contractType reflect.Type) []any {
	return r.loader.registry.GetAll(contractType)
}

func (r *ownedRegistry) IsRegistered(contractType reflect.Type) bool {
	return r.loader.registry.IsRegistered(contractType)
}

func (r *ownedRegistry) Unregister(contractType reflect.Type, impl any) bool {
	return r.loader.registry.Unregister(contractType, impl)
}

// ownedBus is a plugin's view of the host event bus.
type ownedBus struct {
	loader   *Loader
	pluginID string
}

var _ sdk.EventBus = (*ownedBus)(nil)

func (b *ownedBus) Publish(ctx context.Context, event any) error {
	if event == nil {
		return b.loader.bus.Publish(ctx, event)
	}
	capName := "events.publish." + eventCapability(event)
	if !b.loader.enforcer.Check(b.pluginID, capName) {
		return fmt.Errorf("%w: %s requires %s", ErrCapabilityDenied, b.pluginID, capName)
	}
	if b.loader.metrics != nil {
		if name, ok := contract.EventName(event); ok {
			b.loader.metrics.EventsPublished.WithLabelValues(name).Inc()
		}
	}
	err := b.loader.bus.Publish(ctx, event)
	var warn *sdk.DeliveryWarning
	if errors.As(err, &warn) && b.loader.metrics != nil {
		b.loader.metrics.DeliveryFailures.Add(float64(len(warn.Errs)))
	}
	return err
}

func (b *ownedBus) Subscribe(eventType reflect.Type, handler sdk.Handler) sdk.Subscription {
	return b.loader.bus.SubscribeOwned(b.pluginID, eventType, handler)
}

// hostServices exposes loader operations back to plugins, capability
// gated.
type hostServices struct {
	loader *Loader
	caller string
}

var _ sdk.HostServices = (*hostServices)(nil)

// RestartPlugin requests a reload of a plugin. The restart runs
// asynchronously: a plugin may restart itself from inside an event
// handler without deadlocking the loader.
func (h *hostServices) RestartPlugin(_ context.Context, pluginID string) error {
	if !h.loader.enforcer.Check(h.caller, "host.restart") {
		return fmt.Errorf("%w: %s requires host.restart", ErrCapabilityDenied, h.caller)
	}

	go func() {
		if err := h.loader.Reload(context.Background(), pluginID); err != nil {
			h.loader.log.Error("plugin restart failed",
				"plugin", pluginID, "requested_by", h.caller, "error", err)
		}
	}()
	return nil
}
