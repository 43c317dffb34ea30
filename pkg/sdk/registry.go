// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package sdk

import (
	"errors"
	"reflect"
)

// SelectionMode governs how Get picks among multiple registered
// implementations of a contract.
type SelectionMode int

const (
	// SelectHighestPriority returns the entry with the largest priority;
	// ties go to the earliest registration. The default.
	SelectHighestPriority SelectionMode = iota

	// SelectOne requires exactly one registered implementation.
	SelectOne

	// SelectAll is only valid for GetAll. Passing it to Get fails with
	// ErrInvalidMode.
	SelectAll
)

func (m SelectionMode) String() string {
	switch m {
	case SelectHighestPriority:
		return "highest-priority"
	case SelectOne:
		return "one"
	case SelectAll:
		return "all"
	default:
		return "unknown"
	}
}

// Sentinel errors for registry lookups. Wrapped values carry the
// contract name; use errors.Is to test.
var (
	// ErrNoService is returned by Get when no implementation is
	// registered for the contract.
	ErrNoService = errors.New("no service registered for contract")

	// ErrAmbiguousService is returned by Get in SelectOne mode when more
	// than one implementation is registered.
	ErrAmbiguousService = errors.New("multiple services registered for contract")

	// ErrInvalidMode is returned by Get when given SelectAll; callers
	// wanting every implementation must use GetAll.
	ErrInvalidMode = errors.New("selection mode not valid for single-result Get")

	// ErrNotImplementor is returned by Register when the implementation
	// does not satisfy the contract type.
	ErrNotImplementor = errors.New("implementation does not satisfy contract")
)

// ServiceMetadata describes one registry entry. Uniqueness of entries is
// by implementation identity, never by metadata.
type ServiceMetadata struct {
	// Priority orders implementations for SelectHighestPriority and
	// GetAll. Larger wins. Defaults to the registering plugin's manifest
	// priority when registered through a plugin Context.
	Priority int

	// Name and Version are informational.
	Name    string
	Version string

	// Owner is the id of the plugin that contributed the entry. Stamped
	// by the host for registrations made through a plugin Context; the
	// host purges entries by owner on unload.
	Owner string
}

// ServiceRegistry is the process-wide table from contract type to
// prioritized implementations. Implementations are safe for concurrent
// use.
type ServiceRegistry interface {
	// Register appends an entry for the contract. Duplicate
	// registrations of the same implementation are allowed and are the
	// caller's responsibility.
	Register(contract reflect.Type, impl any, meta ServiceMetadata) error

	// Get returns one implementation chosen by mode.
	Get(contract reflect.Type, mode SelectionMode) (any, error)

	// GetAll returns every implementation for the contract, ordered by
	// descending priority (stable for ties). Never returns an error; the
	// slice is empty when nothing is registered.
	GetAll(contract reflect.Type) []any

	// IsRegistered reports whether at least one entry exists.
	IsRegistered(contract reflect.Type) bool

	// Unregister removes the entry whose implementation is identical
	// (reference equality) to impl, reporting whether anything was
	// removed.
	Unregister(contract reflect.Type, impl any) bool
}

// ContractOf returns the reflect.Type registry key for T. For interface
// contracts, instantiate with the interface type: ContractOf[Renderer]().
func ContractOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Register registers impl under contract T.
func Register[T any](r ServiceRegistry, impl T, meta ServiceMetadata) error {
	return r.Register(ContractOf[T](), impl, meta)
}

// Resolve returns one implementation of contract T chosen by mode.
func Resolve[T any](r ServiceRegistry, mode SelectionMode) (T, error) {
	var zero T
	v, err := r.Get(ContractOf[T](), mode)
	if err != nil {
		return zero, err
	}
	impl, ok := v.(T)
	if !ok {
		return zero, ErrNotImplementor
	}
	return impl, nil
}

// ResolveAll returns every implementation of contract T, ordered by
// descending priority.
func ResolveAll[T any](r ServiceRegistry) []T {
	raw := r.GetAll(ContractOf[T]())
	out := make([]T, 0, len(raw))
	for _, v := range raw {
		if impl, ok := v.(T); ok {
			out = append(out, impl)
		}
	}
	return out
}

// Registered reports whether any implementation of T exists.
func Registered[T any](r ServiceRegistry) bool {
	return r.IsRegistered(ContractOf[T]())
}

// Unregister removes impl from contract T's entries.
func Unregister[T any](r ServiceRegistry, impl T) bool {
	return r.Unregister(ContractOf[T](), impl)
}
