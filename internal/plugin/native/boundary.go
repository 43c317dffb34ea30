// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

// Package native loads plugins built as Go shared objects with the
// stdlib plugin package. Code loaded this way links against the host's
// single copy of the shared contract packages, so service and event
// types registered by one plugin are type-identical in every other.
//
// Shared objects cannot be unloaded by the runtime; Teardown drops the
// boundary's references and leaves reclamation to the collector.
package native

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	goplugin "plugin"

	"github.com/samber/oops"

	"github.com/duskhall/duskhall/internal/plugin"
	"github.com/duskhall/duskhall/pkg/sdk"
)

// VersionSymbol is the exported variable every shared-object plugin
// must carry, holding its compiled-in contract version.
const VersionSymbol = "ContractVersion"

// SharedSymbol is the exported variable listing the package paths the
// plugin was built to share with the host. Plugins assign it from
// sdk.SharedPackages; the boundary refuses any path outside its
// allowlist.
const SharedSymbol = "SharedContracts"

// Factory is a sdk.Plugin constructor exported under the manifest's
// entry-point symbol name.
type Factory func() (sdk.Plugin, error)

// object is the subset of *plugin.Plugin the boundary needs; tests
// substitute in-memory symbol tables.
type object interface {
	Lookup(name string) (goplugin.Symbol, error)
}

// OpenFunc opens a shared object at path.
type OpenFunc func(path string) (object, error)

func defaultOpen(path string) (object, error) {
	return goplugin.Open(path)
}

// Boundary loads one plugin from a Go shared object.
type Boundary struct {
	open  OpenFunc
	log   *slog.Logger
	allow map[string]struct{}
	obj   object
}

var _ plugin.Boundary = (*Boundary)(nil)

// Option configures a Boundary.
type Option func(*Boundary)

// WithOpenFunc replaces the shared-object opener, for tests.
func WithOpenFunc(open OpenFunc) Option {
	return func(b *Boundary) { b.open = open }
}

// WithLogger sets the boundary's logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *Boundary) { b.log = log }
}

// WithSharedPackages replaces the allowlist of package paths the
// boundary accepts as shared contract surface. Defaults to
// sdk.SharedPackages.
func WithSharedPackages(paths ...string) Option {
	return func(b *Boundary) {
		b.allow = make(map[string]struct{}, len(paths))
		for _, p := range paths {
			b.allow[p] = struct{}{}
		}
	}
}

// NewFactory returns a BoundaryFactory producing one Boundary per
// plugin.
func NewFactory(opts ...Option) plugin.BoundaryFactory {
	return plugin.BoundaryFactoryFunc(func(_ *plugin.Manifest) (plugin.Boundary, error) {
		return New(opts...), nil
	})
}

// New creates a native boundary.
func New(opts ...Option) *Boundary {
	b := &Boundary{
		open: defaultOpen,
		log:  slog.Default(),
	}
	WithSharedPackages(sdk.SharedPackages...)(b)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Load opens the shared object named by the entry point, verifies its
// contract version, and invokes its factory symbol.
func (b *Boundary) Load(ctx context.Context, manifest *plugin.Manifest, dir string, entry plugin.EntryPoint) (sdk.Plugin, error) {
	errb := oops.In("native").With("plugin", manifest.ID)

	path := filepath.Join(dir, entry.Binary)
	if _, err := os.Stat(path); err != nil {
		return nil, errb.With("path", path).Wrapf(err, "shared object not found")
	}

	obj, err := b.open(path)
	if err != nil {
		return nil, errb.With("path", path).Wrapf(err, "open shared object")
	}

	if err := checkVersion(obj); err != nil {
		return nil, errb.With("path", path).Wrap(err)
	}
	if err := b.checkShared(obj); err != nil {
		return nil, errb.With("path", path).Wrap(err)
	}

	sym, err := obj.Lookup(entry.Symbol)
	if err != nil {
		return nil, errb.With("symbol", entry.Symbol).Wrapf(err, "lookup entry point")
	}
	factory, ok := sym.(func() (sdk.Plugin, error))
	if !ok {
		return nil, errb.With("symbol", entry.Symbol).Errorf(
			"entry point has type %T, want func() (sdk.Plugin, error)", sym)
	}

	p, err := factory()
	if err != nil {
		return nil, errb.Wrapf(err, "construct plugin")
	}
	if p == nil {
		return nil, errb.Errorf("factory returned nil plugin")
	}

	b.obj = obj
	b.log.Debug("loaded shared object plugin",
		"plugin", manifest.ID, "path", path, "symbol", entry.Symbol)
	return p, nil
}

// Teardown releases the boundary's reference to the shared object. The
// runtime keeps loaded objects mapped for the life of the process, so
// memory is not reclaimed until exit.
func (b *Boundary) Teardown(_ context.Context) error {
	b.obj = nil
	return nil
}

func checkVersion(obj object) error {
	sym, err := obj.Lookup(VersionSymbol)
	if err != nil {
		return oops.Wrapf(err, "plugin does not export %s", VersionSymbol)
	}
	version, ok := sym.(*string)
	if !ok {
		return oops.Errorf("%s has type %T, want *string", VersionSymbol, sym)
	}
	if *version != sdk.ContractVersion {
		return oops.With("plugin_version", *version).
			With("host_version", sdk.ContractVersion).
			Errorf("contract version mismatch")
	}
	return nil
}

// checkShared verifies that every package the plugin expects to share
// with the host is on the boundary's allowlist.
func (b *Boundary) checkShared(obj object) error {
	sym, err := obj.Lookup(SharedSymbol)
	if err != nil {
		return oops.Wrapf(err, "plugin does not export %s", SharedSymbol)
	}
	shared, ok := sym.(*[]string)
	if !ok {
		return oops.Errorf("%s has type %T, want *[]string", SharedSymbol, sym)
	}
	for _, path := range *shared {
		if _, ok := b.allow[path]; !ok {
			return oops.With("package", path).
				Errorf("package is not on the shared contract allowlist")
		}
	}
	return nil
}
