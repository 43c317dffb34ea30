// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package script

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/oops"

	"github.com/duskhall/duskhall/internal/plugin"
	"github.com/duskhall/duskhall/pkg/sdk"
)

// Boundary runs one plugin as a sandboxed Lua script. The entry-point
// binary is the script path; the symbol is ignored.
type Boundary struct {
	factory *StateFactory
	log     *slog.Logger

	instance *scriptPlugin
}

var _ plugin.Boundary = (*Boundary)(nil)

// Option configures a Boundary.
type Option func(*Boundary)

// WithLogger sets the boundary's logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *Boundary) { b.log = log }
}

// NewFactory returns a BoundaryFactory producing one Boundary per
// plugin.
func NewFactory(opts ...Option) plugin.BoundaryFactory {
	return plugin.BoundaryFactoryFunc(func(_ *plugin.Manifest) (plugin.Boundary, error) {
		return New(opts...), nil
	})
}

// New creates a script boundary.
func New(opts ...Option) *Boundary {
	b := &Boundary{
		factory: NewStateFactory(),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Load reads the script and validates its syntax in a throwaway state.
// The long-lived state is created during Initialize, once the plugin's
// context exists.
func (b *Boundary) Load(ctx context.Context, manifest *plugin.Manifest, dir string, entry plugin.EntryPoint) (sdk.Plugin, error) {
	errb := oops.In("script").With("plugin", manifest.ID).With("operation", "load")

	path := filepath.Join(dir, entry.Binary)
	code, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, errb.With("path", path).Hint("failed to read script").Wrap(err)
	}

	L, err := b.factory.NewState(ctx)
	if err != nil {
		return nil, errb.Hint("failed to create validation state").Wrap(err)
	}
	defer L.Close()

	// The validation state has no duskhall module; top-level code must
	// not call host functions.
	if err := L.DoString(string(code)); err != nil {
		return nil, errb.With("path", path).Hint("syntax error").Wrap(err)
	}

	b.instance = &scriptPlugin{
		id:      manifest.ID,
		code:    string(code),
		factory: b.factory,
	}
	b.log.Debug("loaded script plugin", "plugin", manifest.ID, "path", path)
	return b.instance, nil
}

// Teardown closes the script's Lua state.
func (b *Boundary) Teardown(_ context.Context) error {
	if b.instance != nil {
		b.instance.close()
		b.instance = nil
	}
	return nil
}
