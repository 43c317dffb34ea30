// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnforcerGrant(t *testing.T) {
	tests := []struct {
		name         string
		pluginID     string
		capabilities []string
		wantErr      bool
	}{
		{
			name:         "valid exact capability",
			pluginID:     "minimap",
			capabilities: []string{"events.publish.turn_ended"},
		},
		{
			name:         "valid wildcard patterns",
			pluginID:     "minimap",
			capabilities: []string{"events.publish.*", "registry.register.**"},
		},
		{
			name:         "empty capability list",
			pluginID:     "minimap",
			capabilities: []string{},
		},
		{
			name:         "empty plugin id",
			pluginID:     "",
			capabilities: []string{"events.publish.*"},
			wantErr:      true,
		},
		{
			name:         "empty pattern",
			pluginID:     "minimap",
			capabilities: []string{""},
			wantErr:      true,
		},
		{
			name:         "invalid glob syntax",
			pluginID:     "minimap",
			capabilities: []string{"events.[unclosed"},
			wantErr:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEnforcer()
			err := e.Grant(tt.pluginID, tt.capabilities)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, e.HasGrants(tt.pluginID))
		})
	}
}

func TestEnforcerGrantAtomic(t *testing.T) {
	e := NewEnforcer()
	require.NoError(t, e.Grant("minimap", []string{"events.publish.turn_ended"}))

	// A failed Grant must not disturb existing grants.
	err := e.Grant("minimap", []string{"registry.register.renderer", "[bad"})
	require.Error(t, err)
	assert.True(t, e.Check("minimap", "events.publish.turn_ended"))
	assert.False(t, e.Check("minimap", "registry.register.renderer"))
}

func TestEnforcerCheck(t *testing.T) {
	tests := []struct {
		name       string
		grants     []string
		capability string
		want       bool
	}{
		{
			name:       "exact match",
			grants:     []string{"host.restart"},
			capability: "host.restart",
			want:       true,
		},
		{
			name:       "single star matches one segment",
			grants:     []string{"events.publish.*"},
			capability: "events.publish.turn_ended",
			want:       true,
		},
		{
			name:       "single star does not cross segments",
			grants:     []string{"events.*"},
			capability: "events.publish.turn_ended",
			want:       false,
		},
		{
			name:       "double star crosses segments",
			grants:     []string{"events.**"},
			capability: "events.publish.turn_ended",
			want:       true,
		},
		{
			name:       "root super-wildcard",
			grants:     []string{"**"},
			capability: "registry.register.renderer",
			want:       true,
		},
		{
			name:       "no matching grant",
			grants:     []string{"events.publish.*"},
			capability: "host.restart",
			want:       false,
		},
		{
			name:       "empty capability denied",
			grants:     []string{"**"},
			capability: "",
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEnforcer()
			require.NoError(t, e.Grant("minimap", tt.grants))
			assert.Equal(t, tt.want, e.Check("minimap", tt.capability))
		})
	}
}

func TestEnforcerCheckUnknownPlugin(t *testing.T) {
	e := NewEnforcer()
	assert.False(t, e.Check("ghost", "events.publish.turn_ended"))
}

func TestEnforcerZeroValue(t *testing.T) {
	var e Enforcer
	assert.False(t, e.Check("minimap", "host.restart"))
	assert.False(t, e.HasGrants("minimap"))
	assert.Nil(t, e.Grants("minimap"))
	e.Revoke("minimap")

	require.NoError(t, e.Grant("minimap", []string{"host.restart"}))
	assert.True(t, e.Check("minimap", "host.restart"))
}

func TestEnforcerRevoke(t *testing.T) {
	e := NewEnforcer()
	require.NoError(t, e.Grant("minimap", []string{"**"}))
	require.True(t, e.Check("minimap", "host.restart"))

	e.Revoke("minimap")
	assert.False(t, e.Check("minimap", "host.restart"))
	assert.False(t, e.HasGrants("minimap"))

	// Revoking again is a no-op.
	e.Revoke("minimap")
}

func TestEnforcerGrantsCopy(t *testing.T) {
	e := NewEnforcer()
	require.NoError(t, e.Grant("minimap", []string{"events.publish.*", "host.restart"}))

	got := e.Grants("minimap")
	require.Equal(t, []string{"events.publish.*", "host.restart"}, got)

	got[0] = "mutated"
	assert.Equal(t, []string{"events.publish.*", "host.restart"}, e.Grants("minimap"))
}
