// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mf(id, version string, deps ...Dependency) *Manifest {
	return &Manifest{
		ID:           id,
		Name:         id,
		Version:      version,
		EntryPoints:  map[string]string{"terminal": id + ".so,NewPlugin"},
		Dependencies: deps,
	}
}

func ids(manifests []*Manifest) []string {
	out := make([]string, len(manifests))
	for i, m := range manifests {
		out[i] = m.ID
	}
	return out
}

func TestResolveLoadOrder_Empty(t *testing.T) {
	order, err := ResolveLoadOrder(nil)
	require.NoError(t, err)
	assert.Empty(t, order)
}

func TestResolveLoadOrder_Chain(t *testing.T) {
	order, err := ResolveLoadOrder([]*Manifest{
		mf("ui", "1.0.0", Dependency{ID: "mapper"}),
		mf("mapper", "1.0.0", Dependency{ID: "core"}),
		mf("core", "1.0.0"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"core", "mapper", "ui"}, ids(order))
}

func TestResolveLoadOrder_DeterministicTieBreak(t *testing.T) {
	// All independent: discovery order is preserved, every time.
	manifests := []*Manifest{
		mf("charlie", "1.0.0"),
		mf("alpha", "1.0.0"),
		mf("bravo", "1.0.0"),
	}

	for range 20 {
		order, err := ResolveLoadOrder(manifests)
		require.NoError(t, err)
		assert.Equal(t, []string{"charlie", "alpha", "bravo"}, ids(order))
	}
}

func TestResolveLoadOrder_Diamond(t *testing.T) {
	order, err := ResolveLoadOrder([]*Manifest{
		mf("top", "1.0.0", Dependency{ID: "left"}, Dependency{ID: "right"}),
		mf("left", "1.0.0", Dependency{ID: "base"}),
		mf("right", "1.0.0", Dependency{ID: "base"}),
		mf("base", "1.0.0"),
	})
	require.NoError(t, err)

	got := ids(order)
	assert.Equal(t, "base", got[0])
	assert.Equal(t, "top", got[3])
	// left was discovered before right, so the tie-break keeps that order.
	assert.Equal(t, []string{"left", "right"}, got[1:3])
}

func TestResolveLoadOrder_DuplicateID(t *testing.T) {
	_, err := ResolveLoadOrder([]*Manifest{
		mf("mapper", "1.0.0"),
		mf("mapper", "2.0.0"),
	})

	var dup *DuplicatePluginError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "mapper", dup.ID)
}

func TestResolveLoadOrder_MissingRequired(t *testing.T) {
	_, err := ResolveLoadOrder([]*Manifest{
		mf("ui", "1.0.0", Dependency{ID: "mapper"}),
	})

	var missing *MissingDependencyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "ui", missing.PluginID)
	assert.Equal(t, "mapper", missing.MissingID)
}

func TestResolveLoadOrder_MissingOptionalIgnored(t *testing.T) {
	order, err := ResolveLoadOrder([]*Manifest{
		mf("ui", "1.0.0", Dependency{ID: "sound", Optional: true}),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ui"}, ids(order))
}

func TestResolveLoadOrder_VersionRange(t *testing.T) {
	t.Run("satisfied", func(t *testing.T) {
		order, err := ResolveLoadOrder([]*Manifest{
			mf("ui", "1.0.0", Dependency{ID: "mapper", VersionRange: ">= 1.0.0, < 2"}),
			mf("mapper", "1.5.0"),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"mapper", "ui"}, ids(order))
	})

	t.Run("conflict", func(t *testing.T) {
		_, err := ResolveLoadOrder([]*Manifest{
			mf("ui", "1.0.0", Dependency{ID: "mapper", VersionRange: ">= 2.0.0"}),
			mf("mapper", "1.5.0"),
		})

		var conflict *VersionConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "ui", conflict.PluginID)
		assert.Equal(t, "mapper", conflict.DependencyID)
		assert.Equal(t, ">= 2.0.0", conflict.Range)
		assert.Equal(t, "1.5.0", conflict.Version)
	})

	t.Run("optional with unsatisfied range treated as absent", func(t *testing.T) {
		order, err := ResolveLoadOrder([]*Manifest{
			mf("ui", "1.0.0", Dependency{ID: "mapper", VersionRange: ">= 2.0.0", Optional: true}),
			mf("mapper", "1.5.0"),
		})
		require.NoError(t, err)
		// No edge: ui no longer waits on mapper.
		assert.Equal(t, []string{"ui", "mapper"}, ids(order))
	})
}

func TestResolveLoadOrder_Cycle(t *testing.T) {
	_, err := ResolveLoadOrder([]*Manifest{
		mf("standalone", "1.0.0"),
		mf("a", "1.0.0", Dependency{ID: "b"}),
		mf("b", "1.0.0", Dependency{ID: "c"}),
		mf("c", "1.0.0", Dependency{ID: "a"}),
	})

	var cycle *CyclicDependencyError
	require.ErrorAs(t, err, &cycle)
	// Every node still in the graph when the sort stalled is named.
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycle.IDs)
}

func TestResolveLoadOrder_SelfCycle(t *testing.T) {
	// A mutual pair is the smallest reportable cycle; self-dependencies
	// are rejected at manifest validation.
	_, err := ResolveLoadOrder([]*Manifest{
		mf("a", "1.0.0", Dependency{ID: "b"}),
		mf("b", "1.0.0", Dependency{ID: "a"}),
	})

	var cycle *CyclicDependencyError
	require.ErrorAs(t, err, &cycle)
	assert.ElementsMatch(t, []string{"a", "b"}, cycle.IDs)
}
