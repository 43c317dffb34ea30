// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskhall/duskhall/pkg/contract"
	"github.com/duskhall/duskhall/pkg/sdk"
)

type stubHandler struct {
	name string
}

func (h *stubHandler) Execute(context.Context, contract.Command) (contract.CommandResult, error) {
	return contract.CommandResult{Output: h.name}, nil
}

var handlerContract = sdk.ContractOf[contract.CommandHandler]()

func TestRegister_RejectsNonImplementor(t *testing.T) {
	r := New()

	err := r.Register(handlerContract, "not a handler", sdk.ServiceMetadata{})
	require.ErrorIs(t, err, sdk.ErrNotImplementor)
	assert.False(t, r.IsRegistered(handlerContract))
}

func TestRegister_NilArguments(t *testing.T) {
	r := New()

	assert.Error(t, r.Register(nil, &stubHandler{}, sdk.ServiceMetadata{}))
	assert.Error(t, r.Register(handlerContract, nil, sdk.ServiceMetadata{}))
}

func TestRegister_ConcreteContract(t *testing.T) {
	r := New()
	type config struct{ Depth int }

	contractType := sdk.ContractOf[*config]()
	require.NoError(t, r.Register(contractType, &config{Depth: 3}, sdk.ServiceMetadata{}))

	got, err := r.Get(contractType, sdk.SelectOne)
	require.NoError(t, err)
	assert.Equal(t, 3, got.(*config).Depth)
}

func TestGet_NoService(t *testing.T) {
	r := New()

	_, err := r.Get(handlerContract, sdk.SelectHighestPriority)
	assert.ErrorIs(t, err, sdk.ErrNoService)

	_, err = r.Get(handlerContract, sdk.SelectOne)
	assert.ErrorIs(t, err, sdk.ErrNoService)
}

func TestGet_SelectOne(t *testing.T) {
	r := New()
	a := &stubHandler{name: "a"}
	require.NoError(t, r.Register(handlerContract, a, sdk.ServiceMetadata{}))

	got, err := r.Get(handlerContract, sdk.SelectOne)
	require.NoError(t, err)
	assert.Same(t, a, got)

	require.NoError(t, r.Register(handlerContract, &stubHandler{name: "b"}, sdk.ServiceMetadata{}))
	_, err = r.Get(handlerContract, sdk.SelectOne)
	assert.ErrorIs(t, err, sdk.ErrAmbiguousService)
}

func TestGet_HighestPriority(t *testing.T) {
	r := New()
	low := &stubHandler{name: "low"}
	high := &stubHandler{name: "high"}

	require.NoError(t, r.Register(handlerContract, low, sdk.ServiceMetadata{Priority: 10}))
	require.NoError(t, r.Register(handlerContract, high, sdk.ServiceMetadata{Priority: 90}))

	got, err := r.Get(handlerContract, sdk.SelectHighestPriority)
	require.NoError(t, err)
	assert.Same(t, high, got)
}

func TestGet_HighestPriorityTieKeepsEarliest(t *testing.T) {
	r := New()
	first := &stubHandler{name: "first"}
	second := &stubHandler{name: "second"}

	require.NoError(t, r.Register(handlerContract, first, sdk.ServiceMetadata{Priority: 50}))
	require.NoError(t, r.Register(handlerContract, second, sdk.ServiceMetadata{Priority: 50}))

	got, err := r.Get(handlerContract, sdk.SelectHighestPriority)
	require.NoError(t, err)
	assert.Same(t, first, got)
}

func TestGet_SelectAllIsInvalid(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(handlerContract, &stubHandler{}, sdk.ServiceMetadata{}))

	_, err := r.Get(handlerContract, sdk.SelectAll)
	assert.ErrorIs(t, err, sdk.ErrInvalidMode)
}

func TestGetAll_OrderedByPriority(t *testing.T) {
	r := New()
	a := &stubHandler{name: "a"}
	b := &stubHandler{name: "b"}
	c := &stubHandler{name: "c"}

	require.NoError(t, r.Register(handlerContract, a, sdk.ServiceMetadata{Priority: 10}))
	require.NoError(t, r.Register(handlerContract, b, sdk.ServiceMetadata{Priority: 90}))
	require.NoError(t, r.Register(handlerContract, c, sdk.ServiceMetadata{Priority: 90}))

	got := r.GetAll(handlerContract)
	require.Len(t, got, 3)
	// Descending priority; b before c because b registered first.
	assert.Same(t, b, got[0])
	assert.Same(t, c, got[1])
	assert.Same(t, a, got[2])
}

func TestGetAll_Empty(t *testing.T) {
	r := New()
	assert.Empty(t, r.GetAll(handlerContract))
}

func TestUnregister(t *testing.T) {
	r := New()
	a := &stubHandler{name: "a"}
	b := &stubHandler{name: "b"}

	require.NoError(t, r.Register(handlerContract, a, sdk.ServiceMetadata{}))
	require.NoError(t, r.Register(handlerContract, b, sdk.ServiceMetadata{}))

	assert.True(t, r.Unregister(handlerContract, a))
	assert.False(t, r.Unregister(handlerContract, a), "second removal finds nothing")
	assert.True(t, r.IsRegistered(handlerContract))

	assert.True(t, r.Unregister(handlerContract, b))
	assert.False(t, r.IsRegistered(handlerContract))
}

func TestUnregister_ByIdentityNotEquality(t *testing.T) {
	r := New()
	registered := &stubHandler{name: "same"}
	lookalike := &stubHandler{name: "same"}

	require.NoError(t, r.Register(handlerContract, registered, sdk.ServiceMetadata{}))

	assert.False(t, r.Unregister(handlerContract, lookalike))
	assert.True(t, r.Unregister(handlerContract, registered))
}

func TestUnregisterOwner(t *testing.T) {
	r := New()
	cmdContract := sdk.ContractOf[contract.CommandHandler]()

	require.NoError(t, r.Register(cmdContract, &stubHandler{name: "a"}, sdk.ServiceMetadata{Owner: "mapper"}))
	require.NoError(t, r.Register(cmdContract, &stubHandler{name: "b"}, sdk.ServiceMetadata{Owner: "mapper"}))
	require.NoError(t, r.Register(cmdContract, &stubHandler{name: "c"}, sdk.ServiceMetadata{Owner: "sound"}))

	assert.Equal(t, 2, r.UnregisterOwner("mapper"))
	assert.Equal(t, 0, r.UnregisterOwner("mapper"))
	assert.Equal(t, 1, r.Len())

	metas := r.Metadata(cmdContract)
	require.Len(t, metas, 1)
	assert.Equal(t, "sound", metas[0].Owner)
}

func TestGenericHelpers(t *testing.T) {
	r := New()
	h := &stubHandler{name: "echo"}

	require.NoError(t, sdk.Register[contract.CommandHandler](r, h, sdk.ServiceMetadata{Priority: 5}))
	assert.True(t, sdk.Registered[contract.CommandHandler](r))

	got, err := sdk.Resolve[contract.CommandHandler](r, sdk.SelectOne)
	require.NoError(t, err)
	assert.Same(t, h, got)

	all := sdk.ResolveAll[contract.CommandHandler](r)
	require.Len(t, all, 1)

	assert.True(t, sdk.Unregister[contract.CommandHandler](r, h))
	assert.False(t, sdk.Registered[contract.CommandHandler](r))
}

func TestRegistry_ConcurrentUse(t *testing.T) {
	r := New()
	var wg sync.WaitGroup

	for i := range 8 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			h := &stubHandler{name: "h"}
			for range 100 {
				_ = r.Register(handlerContract, h, sdk.ServiceMetadata{Priority: n})
				_ = r.GetAll(handlerContract)
				_, _ = r.Get(handlerContract, sdk.SelectHighestPriority)
				r.Unregister(handlerContract, h)
			}
		}(i)
	}
	wg.Wait()
}
