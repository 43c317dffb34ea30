// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package plugin

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for programmatic checks.
var (
	// ErrPluginNotFound is returned when operating on an id the loader
	// does not know.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrLoaderClosed is returned when operations are attempted on a
	// closed loader.
	ErrLoaderClosed = errors.New("loader is closed")

	// ErrNotStarted is returned when unloading a plugin that never
	// reached the started state.
	ErrNotStarted = errors.New("plugin is not started")

	// ErrCapabilityDenied is returned when a plugin attempts an
	// operation its manifest does not grant.
	ErrCapabilityDenied = errors.New("capability denied")

	// ErrUnknownStrategy is returned when no boundary factory is
	// registered for a manifest's load strategy.
	ErrUnknownStrategy = errors.New("no boundary factory for load strategy")
)

// ManifestError reports a missing or malformed manifest field.
type ManifestError struct {
	Field  string
	Reason string
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("manifest field %s: %s", e.Field, e.Reason)
}

// errLocatorFormat builds the validation error for a malformed
// "binary,symbol" locator.
func errLocatorFormat(locator string) error {
	return fmt.Errorf("locator %q must be \"binary,symbol\" with both parts non-empty", locator)
}

// DuplicatePluginError reports two discovered manifests sharing an id.
// A planning-stage error: the whole batch is rejected.
type DuplicatePluginError struct {
	ID string
}

func (e *DuplicatePluginError) Error() string {
	return fmt.Sprintf("duplicate plugin id %q in discovered set", e.ID)
}

// MissingDependencyError reports a required dependency absent from the
// discovered set. A planning-stage error.
type MissingDependencyError struct {
	PluginID  string
	MissingID string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("plugin %q requires %q, which was not discovered", e.PluginID, e.MissingID)
}

// VersionConflictError reports a discovered dependency whose version
// does not satisfy the dependent's declared range. A planning-stage
// error for required dependencies.
type VersionConflictError struct {
	PluginID     string
	DependencyID string
	Range        string
	Version      string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("plugin %q requires %s %s, but %s was discovered",
		e.PluginID, e.DependencyID, e.Range, e.Version)
}

// CyclicDependencyError reports a dependency cycle, naming every plugin
// id still in the graph when the sort stalled.
type CyclicDependencyError struct {
	IDs []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("dependency cycle among plugins: %s", strings.Join(e.IDs, ", "))
}

// LoadError reports a per-plugin failure to locate or construct the
// entry point. It does not abort the batch.
type LoadError struct {
	PluginID string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load plugin %q: %v", e.PluginID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// InitializationError reports a failure raised by the plugin's own
// Initialize or Start. It does not abort the batch but cascades to
// plugins that require the failed one.
type InitializationError struct {
	PluginID string
	Phase    string // "initialize" or "start"
	Err      error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("plugin %q failed during %s: %v", e.PluginID, e.Phase, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }
