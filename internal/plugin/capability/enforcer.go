// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

// Package capability enforces the runtime capability grants declared in
// plugin manifests.
//
// Capabilities are dot-separated names matched with gobwas/glob using
// '.' as the segment separator:
//   - '*' matches a single segment (does not cross '.')
//   - '**' matches zero or more segments (crosses '.')
//
// The host checks capabilities such as:
//   - "events.publish.turn_ended" before a plugin may publish that event
//   - "registry.register.renderer" before a plugin may register a service
//   - "host.restart" before a plugin may request a restart
//
// A manifest that declares no capabilities is granted "**" by the
// loader, so enforcement only bites once a plugin opts in to a
// restricted grant set.
package capability

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gobwas/glob"
)

type grant struct {
	pattern string
	matcher glob.Glob
}

// Enforcer answers capability checks for loaded plugins.
//
// Enforcer is safe for concurrent use. The zero value is usable without
// calling NewEnforcer.
type Enforcer struct {
	mu     sync.RWMutex
	grants map[string][]grant // plugin id -> compiled grants
}

// NewEnforcer creates a capability enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{grants: make(map[string][]grant)}
}

// Grant replaces the capability set for a plugin. All patterns are
// compiled before any state changes, so an invalid pattern leaves the
// previous grants intact.
func (e *Enforcer) Grant(pluginID string, capabilities []string) error {
	if pluginID == "" {
		return errors.New("plugin id cannot be empty")
	}

	compiled := make([]grant, len(capabilities))
	for i, pattern := range capabilities {
		if pattern == "" {
			return fmt.Errorf("capability %d: empty pattern", i)
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return fmt.Errorf("capability %d (%q): %w", i, pattern, err)
		}
		compiled[i] = grant{pattern: pattern, matcher: g}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grants == nil {
		e.grants = make(map[string][]grant)
	}
	e.grants[pluginID] = compiled
	return nil
}

// Revoke removes all grants for a plugin. Safe to call for unknown ids.
func (e *Enforcer) Revoke(pluginID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, pluginID)
}

// Check reports whether the plugin holds the requested capability.
// Unknown plugins and empty names are denied.
func (e *Enforcer) Check(pluginID, capability string) bool {
	if capability == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, g := range e.grants[pluginID] {
		if g.matcher.Match(capability) {
			return true
		}
	}
	return false
}

// HasGrants reports whether the plugin has been registered via Grant.
// Distinguishes "never loaded" from "loaded but denied".
func (e *Enforcer) HasGrants(pluginID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.grants[pluginID]
	return ok
}

// Grants returns a copy of the patterns granted to a plugin, or nil if
// the plugin is unknown.
func (e *Enforcer) Grants(pluginID string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	gs, ok := e.grants[pluginID]
	if !ok {
		return nil
	}
	patterns := make([]string, len(gs))
	for i, g := range gs {
		patterns[i] = g.pattern
	}
	return patterns
}
