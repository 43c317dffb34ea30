// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

// Package wire is the serialized protocol between the host and
// process-isolated plugins. It rides hashicorp/go-plugin's net/rpc
// transport: the host dispenses a lifecycle client for each plugin
// subprocess, and host callbacks (event publish, service registration,
// logging) travel back over mux-broker streams.
//
// Only types in pkg/contract with a registered ServiceBridge or event
// codec cross this boundary; arbitrary interface values do not.
package wire

import (
	goplugin "github.com/hashicorp/go-plugin"

	"github.com/duskhall/duskhall/pkg/sdk"
)

// LifecyclePluginName is the dispense key for the plugin lifecycle.
const LifecyclePluginName = "lifecycle"

// Handshake guards against the host executing a binary that is not a
// duskhall plugin. The cookie is an identity check, not security.
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "DUSKHALL_PLUGIN",
	MagicCookieValue: "duskhall-contract-v" + sdk.ContractVersion,
}

// Empty is the placeholder for RPC calls with no payload in one
// direction.
type Empty struct{}

// PluginMap builds the go-plugin dispense table for a plugin
// implementation. The host passes impl == nil.
func PluginMap(impl sdk.Plugin) map[string]goplugin.Plugin {
	return map[string]goplugin.Plugin{
		LifecyclePluginName: &LifecyclePlugin{Impl: impl},
	}
}

// Serve runs a plugin subprocess. It blocks until the host closes the
// connection; call it from the plugin binary's main.
func Serve(impl sdk.Plugin) {
	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins:         PluginMap(impl),
	})
}
