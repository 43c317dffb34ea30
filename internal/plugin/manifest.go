// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

// Package plugin provides the plugin runtime: manifest parsing,
// dependency resolution, isolation boundaries, and lifecycle control.
package plugin

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// ManifestFileName is the manifest file expected in each plugin
// directory.
const ManifestFileName = "plugin.yaml"

// DefaultPriority is assigned when a manifest omits priority.
const DefaultPriority = 100

// LoadStrategy selects the isolation boundary used for a plugin.
type LoadStrategy string

// Load strategies supported by the runtime.
const (
	// StrategyNative loads a shared object into the host process.
	// Contract types are shared by identity. The default.
	StrategyNative LoadStrategy = "native"

	// StrategyProcess runs the plugin as a subprocess; the contract
	// surface crosses the boundary as a serialized protocol.
	StrategyProcess LoadStrategy = "process"

	// StrategyScript runs the plugin inside a sandboxed Lua state.
	StrategyScript LoadStrategy = "script"
)

// Dependency declares a plugin's requirement on another plugin.
type Dependency struct {
	ID string `yaml:"id" json:"id"`

	// VersionRange is an optional semver constraint the dependency's
	// version must satisfy, e.g. ">= 1.2.0, < 2".
	VersionRange string `yaml:"version-range,omitempty" json:"version-range,omitempty"`

	// Optional dependencies that are absent from the discovered set are
	// ignored rather than treated as missing.
	Optional bool `yaml:"optional,omitempty" json:"optional,omitempty"`
}

// EntryPoint locates a plugin's code for one host profile, parsed from
// the manifest's "binary,symbol" form. Binary is a path relative to the
// plugin directory; Symbol names the constructor within it (exported
// factory symbol for native plugins, the lifecycle table for script
// plugins, the dispensed service name for process plugins).
type EntryPoint struct {
	Binary string
	Symbol string
}

// Manifest represents a plugin.yaml file. Immutable after parse.
type Manifest struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`

	// EntryPoints maps a host profile string (e.g. "terminal", "tiles")
	// to a "binary,symbol" locator, so one plugin can support multiple
	// front-ends.
	EntryPoints map[string]string `yaml:"entry-points" json:"entry-points"`

	Dependencies []Dependency `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`

	// Capabilities are glob patterns granting access to guarded host
	// operations (see the capability package). A manifest that declares
	// none is unrestricted.
	Capabilities []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`

	// SupportedProfiles limits which host profiles the plugin loads
	// under. Empty means all profiles.
	SupportedProfiles []string `yaml:"supported-profiles,omitempty" json:"supported-profiles,omitempty"`

	// Priority orders service selection for this plugin's registrations.
	// Zero or negative is normalized to DefaultPriority.
	Priority int `yaml:"priority,omitempty" json:"priority,omitempty"`

	// Strategy hints which isolation boundary to use. Empty is
	// normalized to StrategyNative.
	Strategy LoadStrategy `yaml:"load-strategy,omitempty" json:"load-strategy,omitempty"`
}

// maxIDLength is the maximum allowed length for plugin ids.
const maxIDLength = 64

// idPattern validates plugin ids: must start with a lowercase letter,
// followed by lowercase letters, digits, or hyphens, and cannot end
// with a hyphen.
var idPattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ParseManifest parses and validates plugin.yaml data.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, &ManifestError{Field: "manifest", Reason: "data is empty"}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestError{Field: "manifest", Reason: "invalid YAML: " + err.Error()}
	}

	m.normalize()
	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, &ManifestError{Field: "manifest", Reason: "read " + path + ": " + err.Error()}
	}
	return ParseManifest(data)
}

// normalize applies manifest defaults.
func (m *Manifest) normalize() {
	if m.Priority <= 0 {
		m.Priority = DefaultPriority
	}
	if m.Strategy == "" {
		m.Strategy = StrategyNative
	}
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.ID == "" || !idPattern.MatchString(m.ID) {
		return &ManifestError{Field: "id", Reason: "must start with a-z and contain only a-z, 0-9, hyphens, not ending with a hyphen"}
	}
	if len(m.ID) > maxIDLength {
		return &ManifestError{Field: "id", Reason: "must be 64 characters or less"}
	}
	if m.Name == "" {
		return &ManifestError{Field: "name", Reason: "is required"}
	}
	if m.Version == "" {
		return &ManifestError{Field: "version", Reason: "is required"}
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return &ManifestError{Field: "version", Reason: "not a semantic version: " + m.Version}
	}

	if len(m.EntryPoints) == 0 {
		return &ManifestError{Field: "entry-points", Reason: "at least one profile entry point is required"}
	}
	for profile, locator := range m.EntryPoints {
		if profile == "" {
			return &ManifestError{Field: "entry-points", Reason: "profile name cannot be empty"}
		}
		if _, err := parseLocator(locator); err != nil {
			return &ManifestError{Field: "entry-points." + profile, Reason: err.Error()}
		}
	}

	switch m.Strategy {
	case StrategyNative, StrategyProcess, StrategyScript:
	default:
		return &ManifestError{Field: "load-strategy", Reason: "must be 'native', 'process', or 'script', got " + string(m.Strategy)}
	}

	seen := make(map[string]bool, len(m.Dependencies))
	for _, dep := range m.Dependencies {
		if dep.ID == "" {
			return &ManifestError{Field: "dependencies", Reason: "dependency id cannot be empty"}
		}
		if dep.ID == m.ID {
			return &ManifestError{Field: "dependencies", Reason: "plugin cannot depend on itself"}
		}
		if seen[dep.ID] {
			return &ManifestError{Field: "dependencies", Reason: "duplicate dependency " + dep.ID}
		}
		seen[dep.ID] = true
		if dep.VersionRange != "" {
			if _, err := semver.NewConstraint(dep.VersionRange); err != nil {
				return &ManifestError{Field: "dependencies", Reason: "invalid version range for " + dep.ID + ": " + err.Error()}
			}
		}
	}

	return nil
}

// EntryPoint returns the parsed entry point for a profile.
func (m *Manifest) EntryPoint(profile string) (EntryPoint, bool) {
	locator, ok := m.EntryPoints[profile]
	if !ok {
		return EntryPoint{}, false
	}
	ep, err := parseLocator(locator)
	if err != nil {
		// Validate rejects malformed locators at parse time.
		return EntryPoint{}, false
	}
	return ep, true
}

// Supports reports whether the plugin loads under the given host
// profile. A manifest with no supported-profiles list supports all
// profiles, though it still needs an entry point for one to load.
func (m *Manifest) Supports(profile string) bool {
	if len(m.SupportedProfiles) == 0 {
		return true
	}
	for _, p := range m.SupportedProfiles {
		if p == profile {
			return true
		}
	}
	return false
}

// SemVer returns the manifest version parsed as semver.
func (m *Manifest) SemVer() (*semver.Version, error) {
	v, err := semver.NewVersion(m.Version)
	if err != nil {
		return nil, &ManifestError{Field: "version", Reason: "not a semantic version: " + m.Version}
	}
	return v, nil
}

// parseLocator splits a "binary,symbol" entry-point locator.
func parseLocator(locator string) (EntryPoint, error) {
	parts := strings.SplitN(locator, ",", 2)
	if len(parts) != 2 {
		return EntryPoint{}, errLocatorFormat(locator)
	}
	ep := EntryPoint{
		Binary: strings.TrimSpace(parts[0]),
		Symbol: strings.TrimSpace(parts[1]),
	}
	if ep.Binary == "" || ep.Symbol == "" {
		return EntryPoint{}, errLocatorFormat(locator)
	}
	return ep, nil
}
