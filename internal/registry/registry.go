// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

// Package registry implements the process-wide service registry mapping
// contract types to prioritized implementations.
package registry

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/duskhall/duskhall/pkg/sdk"
)

// Compile-time interface check.
var _ sdk.ServiceRegistry = (*Registry)(nil)

// entry is one registered implementation. seq preserves registration
// order for stable tie-breaking.
type entry struct {
	impl any
	meta sdk.ServiceMetadata
	seq  uint64
}

// Registry is the concrete service registry. The zero value is not
// usable; create with New.
type Registry struct {
	mu      sync.RWMutex
	entries map[reflect.Type][]entry
	seq     uint64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[reflect.Type][]entry),
	}
}

// Register appends an implementation for the contract. Duplicate
// registration of the same implementation is allowed; callers own
// deduplication.
func (r *Registry) Register(contract reflect.Type, impl any, meta sdk.ServiceMetadata) error {
	if contract == nil {
		return fmt.Errorf("contract type is nil")
	}
	if impl == nil {
		return fmt.Errorf("implementation for %s is nil", contract)
	}
	implType := reflect.TypeOf(impl)
	if contract.Kind() == reflect.Interface {
		if !implType.Implements(contract) {
			return fmt.Errorf("%w: %s does not implement %s", sdk.ErrNotImplementor, implType, contract)
		}
	} else if !implType.AssignableTo(contract) {
		return fmt.Errorf("%w: %s is not assignable to %s", sdk.ErrNotImplementor, implType, contract)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	r.entries[contract] = append(r.entries[contract], entry{
		impl: impl,
		meta: meta,
		seq:  r.seq,
	})
	return nil
}

// Get returns one implementation chosen by mode.
func (r *Registry) Get(contract reflect.Type, mode sdk.SelectionMode) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.entries[contract]
	switch mode {
	case sdk.SelectOne:
		if len(entries) == 0 {
			return nil, fmt.Errorf("%w: %s", sdk.ErrNoService, contract)
		}
		if len(entries) > 1 {
			return nil, fmt.Errorf("%w: %s has %d implementations", sdk.ErrAmbiguousService, contract, len(entries))
		}
		return entries[0].impl, nil

	case sdk.SelectHighestPriority:
		if len(entries) == 0 {
			return nil, fmt.Errorf("%w: %s", sdk.ErrNoService, contract)
		}
		best := entries[0]
		for _, e := range entries[1:] {
			// Strictly greater: equal priority keeps the earlier registration.
			if e.meta.Priority > best.meta.Priority {
				best = e
			}
		}
		return best.impl, nil

	case sdk.SelectAll:
		return nil, fmt.Errorf("%w: use GetAll for %s", sdk.ErrInvalidMode, contract)

	default:
		return nil, fmt.Errorf("%w: mode %d", sdk.ErrInvalidMode, int(mode))
	}
}

// GetAll returns all implementations for the contract ordered by
// descending priority, stable for equal priorities.
func (r *Registry) GetAll(contract reflect.Type) []any {
	r.mu.RLock()
	entries := make([]entry, len(r.entries[contract]))
	copy(entries, r.entries[contract])
	r.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].meta.Priority > entries[j].meta.Priority
	})

	impls := make([]any, len(entries))
	for i, e := range entries {
		impls[i] = e.impl
	}
	return impls
}

// IsRegistered reports whether at least one entry exists for the
// contract.
func (r *Registry) IsRegistered(contract reflect.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries[contract]) > 0
}

// Unregister removes the entry whose implementation is identical to
// impl. Identity is reference equality, not metadata.
func (r *Registry) Unregister(contract reflect.Type, impl any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.entries[contract]
	for i, e := range entries {
		if identical(e.impl, impl) {
			r.entries[contract] = append(entries[:i], entries[i+1:]...)
			if len(r.entries[contract]) == 0 {
				delete(r.entries, contract)
			}
			return true
		}
	}
	return false
}

// UnregisterOwner removes every entry whose metadata names the plugin
// id, across all contracts, returning how many were removed. Called by
// the loader during unload so no entry survives its owner.
func (r *Registry) UnregisterOwner(pluginID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for contract, entries := range r.entries {
		kept := entries[:0]
		for _, e := range entries {
			if e.meta.Owner == pluginID {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(r.entries, contract)
		} else {
			r.entries[contract] = kept
		}
	}
	return removed
}

// Metadata returns the metadata of all entries for a contract in
// registration order. Diagnostic surface for the CLI and tests.
func (r *Registry) Metadata(contract reflect.Type) []sdk.ServiceMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metas := make([]sdk.ServiceMetadata, len(r.entries[contract]))
	for i, e := range r.entries[contract] {
		metas[i] = e.meta
	}
	return metas
}

// Len returns the total number of entries across all contracts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, entries := range r.entries {
		n += len(entries)
	}
	return n
}

// identical reports reference identity between two implementations.
// Pointer-shaped values compare by address; other comparable values fall
// back to ==. Never panics on uncomparable types.
func identical(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Pointer, reflect.Chan, reflect.Map, reflect.Func, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	default:
		if va.Type().Comparable() {
			return a == b
		}
		return false
	}
}
