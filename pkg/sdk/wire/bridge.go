// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package wire

import (
	"context"
	"errors"
	"fmt"
	"net/rpc"
	"reflect"
	"sync"

	"github.com/duskhall/duskhall/pkg/contract"
	"github.com/duskhall/duskhall/pkg/sdk"
)

// ServiceBridge adapts one shared service contract across the process
// boundary. Only contracts with a registered bridge can be registered
// or resolved by process-isolated plugins; everything else stays
// in-process.
type ServiceBridge interface {
	// ContractName is the stable wire name of the contract.
	ContractName() string
	// Contract returns the interface type the bridge carries.
	Contract() reflect.Type
	// NewProxy wraps an RPC connection in an implementation of the
	// contract interface.
	NewProxy(client *rpc.Client) any
	// NewServer wraps a local implementation in an RPC receiver that
	// NewProxy on the far side can call.
	NewServer(impl any) (any, error)
}

var (
	bridgeMu     sync.RWMutex
	bridgeByName = map[string]ServiceBridge{}
	bridgeByType = map[reflect.Type]ServiceBridge{}
)

// RegisterBridge adds a bridge to the global table. Call from init;
// panics on duplicate names or contract types.
func RegisterBridge(b ServiceBridge) {
	bridgeMu.Lock()
	defer bridgeMu.Unlock()
	if _, ok := bridgeByName[b.ContractName()]; ok {
		panic("wire: duplicate bridge name " + b.ContractName())
	}
	if _, ok := bridgeByType[b.Contract()]; ok {
		panic("wire: duplicate bridge for " + b.Contract().String())
	}
	bridgeByName[b.ContractName()] = b
	bridgeByType[b.Contract()] = b
}

// BridgeByName looks up a bridge by its wire name.
func BridgeByName(name string) (ServiceBridge, bool) {
	bridgeMu.RLock()
	defer bridgeMu.RUnlock()
	b, ok := bridgeByName[name]
	return b, ok
}

// BridgeByType looks up a bridge by contract interface type.
func BridgeByType(t reflect.Type) (ServiceBridge, bool) {
	bridgeMu.RLock()
	defer bridgeMu.RUnlock()
	b, ok := bridgeByType[t]
	return b, ok
}

func init() {
	RegisterBridge(commandHandlerBridge{})
	RegisterBridge(mapOverlayBridge{})
}

// commandHandlerBridge carries contract.CommandHandler.

type commandHandlerBridge struct{}

func (commandHandlerBridge) ContractName() string { return "command_handler" }

func (commandHandlerBridge) Contract() reflect.Type {
	return sdk.ContractOf[contract.CommandHandler]()
}

func (commandHandlerBridge) NewProxy(client *rpc.Client) any {
	return &commandHandlerProxy{client: client}
}

func (commandHandlerBridge) NewServer(impl any) (any, error) {
	h, ok := impl.(contract.CommandHandler)
	if !ok {
		return nil, fmt.Errorf("wire: %T does not implement contract.CommandHandler", impl)
	}
	return &commandHandlerServer{impl: h}, nil
}

// ExecuteArgs carries a command invocation.
type ExecuteArgs struct {
	Name string
	Args []string
}

// ExecuteReply carries the command result or error text.
type ExecuteReply struct {
	Output string
	Err    string
}

type commandHandlerProxy struct {
	client *rpc.Client
}

var _ contract.CommandHandler = (*commandHandlerProxy)(nil)

func (p *commandHandlerProxy) Execute(_ context.Context, cmd contract.Command) (contract.CommandResult, error) {
	var reply ExecuteReply
	if err := p.client.Call("Plugin.Execute", &ExecuteArgs{Name: cmd.Name, Args: cmd.Args}, &reply); err != nil {
		return contract.CommandResult{}, fmt.Errorf("wire: execute command: %w", err)
	}
	if reply.Err != "" {
		return contract.CommandResult{}, errors.New(reply.Err)
	}
	return contract.CommandResult{Output: reply.Output}, nil
}

type commandHandlerServer struct {
	impl contract.CommandHandler
}

func (s *commandHandlerServer) Execute(args *ExecuteArgs, reply *ExecuteReply) error {
	result, err := s.impl.Execute(context.Background(), contract.Command{Name: args.Name, Args: args.Args})
	if err != nil {
		reply.Err = err.Error()
		return nil
	}
	reply.Output = result.Output
	return nil
}

// mapOverlayBridge carries contract.MapOverlay.

type mapOverlayBridge struct{}

func (mapOverlayBridge) ContractName() string { return "map_overlay" }

func (mapOverlayBridge) Contract() reflect.Type {
	return sdk.ContractOf[contract.MapOverlay]()
}

func (mapOverlayBridge) NewProxy(client *rpc.Client) any {
	return &mapOverlayProxy{client: client}
}

func (mapOverlayBridge) NewServer(impl any) (any, error) {
	o, ok := impl.(contract.MapOverlay)
	if !ok {
		return nil, fmt.Errorf("wire: %T does not implement contract.MapOverlay", impl)
	}
	return &mapOverlayServer{impl: o}, nil
}

// AnnotateArgs carries an overlay request for one dungeon depth.
type AnnotateArgs struct {
	Depth int
}

// AnnotateReply carries the overlay cells or error text.
type AnnotateReply struct {
	Cells []contract.OverlayCell
	Err   string
}

type mapOverlayProxy struct {
	client *rpc.Client
}

var _ contract.MapOverlay = (*mapOverlayProxy)(nil)

func (p *mapOverlayProxy) Annotate(_ context.Context, depth int) ([]contract.OverlayCell, error) {
	var reply AnnotateReply
	if err := p.client.Call("Plugin.Annotate", &AnnotateArgs{Depth: depth}, &reply); err != nil {
		return nil, fmt.Errorf("wire: annotate: %w", err)
	}
	if reply.Err != "" {
		return nil, errors.New(reply.Err)
	}
	return reply.Cells, nil
}

type mapOverlayServer struct {
	impl contract.MapOverlay
}

func (s *mapOverlayServer) Annotate(args *AnnotateArgs, reply *AnnotateReply) error {
	cells, err := s.impl.Annotate(context.Background(), args.Depth)
	if err != nil {
		reply.Err = err.Error()
		return nil
	}
	reply.Cells = cells
	return nil
}
