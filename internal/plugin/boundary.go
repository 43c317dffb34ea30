// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package plugin

import (
	"context"

	"github.com/duskhall/duskhall/pkg/sdk"
)

// Boundary is one plugin's isolation and loading context. It loads the
// plugin's private code while guaranteeing that the host's shared
// contract packages resolve to the host's single copy (or, for
// serialized boundaries, cross as a protocol), so contract type
// identity holds across plugins.
//
// One Boundary instance exists per plugin; boundaries are not reused
// after Teardown.
type Boundary interface {
	// Load locates the entry point inside the plugin directory and
	// constructs the plugin instance.
	Load(ctx context.Context, manifest *Manifest, dir string, entry EntryPoint) (sdk.Plugin, error)

	// Teardown releases the boundary's private modules. Reclamation of
	// their memory and handles is best-effort and may be deferred; it is
	// not guaranteed to complete before Teardown returns.
	Teardown(ctx context.Context) error
}

// BoundaryFactory creates one Boundary per plugin for a load strategy.
// The loader holds one factory per strategy it supports.
type BoundaryFactory interface {
	New(manifest *Manifest) (Boundary, error)
}

// BoundaryFactoryFunc adapts a function to BoundaryFactory.
type BoundaryFactoryFunc func(manifest *Manifest) (Boundary, error)

func (f BoundaryFactoryFunc) New(manifest *Manifest) (Boundary, error) {
	return f(manifest)
}
