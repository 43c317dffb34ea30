// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

// Package sdk defines the surface a Duskhall plugin is written against:
// the Plugin lifecycle interface, the per-plugin Context handed to
// Initialize, and the shared registry/event-bus abstractions.
//
// Types in this package (and in pkg/contract) are resolved to the host's
// single copy in every isolation boundary, so a value registered by one
// plugin retains its type identity when retrieved by another.
package sdk

import (
	"context"
	"log/slog"
)

// ContractVersion identifies the contract surface a plugin was built
// against. Boundaries refuse to construct a plugin whose handshake
// version differs from the host's.
const ContractVersion = "1"

// SharedPackages lists the import paths whose types are shared by
// identity across all isolation boundaries. Everything else a plugin
// carries is private to its own boundary.
var SharedPackages = []string{
	"github.com/duskhall/duskhall/pkg/sdk",
	"github.com/duskhall/duskhall/pkg/contract",
}

// Plugin is the lifecycle contract every plugin implements.
//
// Initialize is called exactly once, before Start, with the plugin's
// Context. Start is called after all of the plugin's dependencies have
// started. Stop is called during unload; a plugin should release its
// registry entries and event subscriptions there (subscriptions made
// through the Context are also revoked by the host as a backstop).
type Plugin interface {
	Initialize(ctx context.Context, pctx Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Context is the host surface exposed to a single plugin. All methods
// are safe for concurrent use.
type Context interface {
	// Registry returns the shared service registry. Entries registered
	// through this view are stamped with the owning plugin's id and
	// purged when the plugin unloads.
	Registry() ServiceRegistry

	// Events returns the shared event bus. Subscriptions made through
	// this view are revoked when the plugin unloads.
	Events() EventBus

	// Config returns the plugin's configuration table from the host
	// config file. Never nil; empty when no configuration was provided.
	Config() map[string]any

	// Logger returns a logger scoped to the plugin.
	Logger() *slog.Logger

	// Host returns the narrow host-services facade.
	Host() HostServices
}

// HostServices is the narrow facade of host operations a plugin may
// request. Guarded by the plugin's declared capabilities.
type HostServices interface {
	// RestartPlugin unloads and reloads the named plugin.
	RestartPlugin(ctx context.Context, id string) error
}
