// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package wire

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskhall/duskhall/pkg/contract"
	"github.com/duskhall/duskhall/pkg/sdk"
)

type fakeHandler struct {
	err error
}

func (h *fakeHandler) Execute(_ context.Context, cmd contract.Command) (contract.CommandResult, error) {
	if h.err != nil {
		return contract.CommandResult{}, h.err
	}
	return contract.CommandResult{Output: cmd.Name + " done"}, nil
}

type fakeOverlay struct{}

func (fakeOverlay) Annotate(_ context.Context, depth int) ([]contract.OverlayCell, error) {
	return []contract.OverlayCell{{X: depth, Y: depth, Glyph: '!'}}, nil
}

// bridgePair serves a bridge server over an in-memory connection and
// returns the far side's proxy.
func bridgePair(t *testing.T, bridge ServiceBridge, impl any) any {
	t.Helper()

	server, err := bridge.NewServer(impl)
	require.NoError(t, err)

	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("Plugin", server))

	clientConn, serverConn := net.Pipe()
	go srv.ServeConn(serverConn)
	t.Cleanup(func() { clientConn.Close() })

	return bridge.NewProxy(rpc.NewClient(clientConn))
}

func TestBridgeLookup(t *testing.T) {
	byName, ok := BridgeByName("command_handler")
	require.True(t, ok)

	byType, ok := BridgeByType(sdk.ContractOf[contract.CommandHandler]())
	require.True(t, ok)
	assert.Equal(t, byName.ContractName(), byType.ContractName())

	_, ok = BridgeByName("renderer")
	assert.False(t, ok, "renderer is not bridgeable")

	_, ok = BridgeByType(sdk.ContractOf[contract.Renderer]())
	assert.False(t, ok)
}

func TestCommandHandlerBridge_RoundTrip(t *testing.T) {
	bridge, ok := BridgeByName("command_handler")
	require.True(t, ok)

	proxy := bridgePair(t, bridge, &fakeHandler{}).(contract.CommandHandler)

	result, err := proxy.Execute(context.Background(), contract.Command{Name: "look", Args: []string{"north"}})
	require.NoError(t, err)
	assert.Equal(t, "look done", result.Output)
}

func TestCommandHandlerBridge_ApplicationError(t *testing.T) {
	bridge, ok := BridgeByName("command_handler")
	require.True(t, ok)

	proxy := bridgePair(t, bridge, &fakeHandler{err: errors.New("no such exit")}).(contract.CommandHandler)

	_, err := proxy.Execute(context.Background(), contract.Command{Name: "move"})
	require.Error(t, err)
	assert.Equal(t, "no such exit", err.Error(), "application errors cross as text, not RPC failures")
}

func TestCommandHandlerBridge_RejectsWrongImpl(t *testing.T) {
	bridge, ok := BridgeByName("command_handler")
	require.True(t, ok)

	_, err := bridge.NewServer(fakeOverlay{})
	assert.Error(t, err)
}

func TestMapOverlayBridge_RoundTrip(t *testing.T) {
	bridge, ok := BridgeByName("map_overlay")
	require.True(t, ok)

	proxy := bridgePair(t, bridge, fakeOverlay{}).(contract.MapOverlay)

	cells, err := proxy.Annotate(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.Equal(t, contract.OverlayCell{X: 4, Y: 4, Glyph: '!'}, cells[0])
}

func TestRegisterBridge_DuplicatePanics(t *testing.T) {
	bridge, ok := BridgeByName("command_handler")
	require.True(t, ok)

	assert.Panics(t, func() { RegisterBridge(bridge) })
}
