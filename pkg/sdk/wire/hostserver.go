// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package wire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/rpc"
	"reflect"
	"sync"

	goplugin "github.com/hashicorp/go-plugin"

	"github.com/duskhall/duskhall/pkg/contract"
	"github.com/duskhall/duskhall/pkg/sdk"
)

// HostServer is the host's callback surface for one subprocess plugin.
// It is served over a mux-broker stream and translates RPC calls into
// the plugin's sdk.Context, so owner stamping and capability checks
// applied by the loader hold for remote plugins too.
type HostServer struct {
	pctx   sdk.Context
	broker *goplugin.MuxBroker

	mu        sync.Mutex
	nextToken uint64
	subs      map[uint64]*remoteSubscription
	services  map[uint64]remoteService
}

type remoteSubscription struct {
	sub      sdk.Subscription
	callback *rpc.Client
}

type remoteService struct {
	contract reflect.Type
	impl     any
}

// NewHostServer wraps a plugin's context for RPC service.
func NewHostServer(pctx sdk.Context, broker *goplugin.MuxBroker) *HostServer {
	return &HostServer{
		pctx:     pctx,
		broker:   broker,
		subs:     make(map[uint64]*remoteSubscription),
		services: make(map[uint64]remoteService),
	}
}

// PublishArgs carries an encoded event from the plugin.
type PublishArgs struct {
	Name    string
	Payload []byte
}

// PublishReply carries non-fatal delivery warnings back.
type PublishReply struct {
	Warnings []string
}

// Publish decodes and publishes an event on the host bus. Handler
// failures come back as warnings; unknown event names are errors.
func (h *HostServer) Publish(args *PublishArgs, reply *PublishReply) error {
	event, err := contract.DecodeEvent(args.Name, args.Payload)
	if err != nil {
		return err
	}
	err = h.pctx.Events().Publish(context.Background(), event)
	var warn *sdk.DeliveryWarning
	if errors.As(err, &warn) {
		for _, e := range warn.Errs {
			reply.Warnings = append(reply.Warnings, e.Error())
		}
		return nil
	}
	return err
}

// SubscribeArgs names an event and the broker stream where the plugin
// serves its delivery callback.
type SubscribeArgs struct {
	Name       string
	CallbackID uint32
}

// SubscribeReply returns the token for Unsubscribe.
type SubscribeReply struct {
	Token uint64
}

// Subscribe registers a host-bus subscription that forwards matching
// events to the plugin's callback stream.
func (h *HostServer) Subscribe(args *SubscribeArgs, reply *SubscribeReply) error {
	eventType, ok := contract.EventTypeByName(args.Name)
	if !ok {
		return fmt.Errorf("wire: unknown event %q", args.Name)
	}
	conn, err := h.broker.Dial(args.CallbackID)
	if err != nil {
		return fmt.Errorf("wire: dial event callback: %w", err)
	}
	callback := rpc.NewClient(conn)

	sub := h.pctx.Events().Subscribe(eventType, func(_ context.Context, event any) error {
		name, payload, err := contract.EncodeEvent(event)
		if err != nil {
			return err
		}
		return callback.Call("Plugin.Deliver", &PublishArgs{Name: name, Payload: payload}, &Empty{})
	})

	h.mu.Lock()
	h.nextToken++
	reply.Token = h.nextToken
	h.subs[reply.Token] = &remoteSubscription{sub: sub, callback: callback}
	h.mu.Unlock()
	return nil
}

// UnsubscribeArgs names the subscription to revoke.
type UnsubscribeArgs struct {
	Token uint64
}

// Unsubscribe revokes an earlier Subscribe. Unknown tokens are no-ops.
func (h *HostServer) Unsubscribe(args *UnsubscribeArgs, _ *Empty) error {
	h.mu.Lock()
	rs, ok := h.subs[args.Token]
	delete(h.subs, args.Token)
	h.mu.Unlock()
	if !ok {
		return nil
	}
	rs.sub.Unsubscribe()
	return rs.callback.Close()
}

// RegisterServiceArgs announces a plugin-hosted service implementation.
type RegisterServiceArgs struct {
	Contract string
	// ServiceID is the broker stream where the plugin serves the
	// implementation.
	ServiceID uint32
	Priority  int
	Name      string
	Version   string
}

// RegisterServiceReply returns the token for UnregisterService.
type RegisterServiceReply struct {
	Token uint64
}

// RegisterService builds a host-side proxy for the plugin's service and
// registers it with the plugin's registry view.
func (h *HostServer) RegisterService(args *RegisterServiceArgs, reply *RegisterServiceReply) error {
	bridge, ok := BridgeByName(args.Contract)
	if !ok {
		return fmt.Errorf("wire: contract %q cannot cross the process boundary", args.Contract)
	}
	conn, err := h.broker.Dial(args.ServiceID)
	if err != nil {
		return fmt.Errorf("wire: dial service stream: %w", err)
	}
	proxy := bridge.NewProxy(rpc.NewClient(conn))

	meta := sdk.ServiceMetadata{
		Priority: args.Priority,
		Name:     args.Name,
		Version:  args.Version,
	}
	if err := h.pctx.Registry().Register(bridge.Contract(), proxy, meta); err != nil {
		return err
	}

	h.mu.Lock()
	h.nextToken++
	reply.Token = h.nextToken
	h.services[reply.Token] = remoteService{contract: bridge.Contract(), impl: proxy}
	h.mu.Unlock()
	return nil
}

// UnregisterServiceArgs names the registration to remove.
type UnregisterServiceArgs struct {
	Token uint64
}

// UnregisterServiceReply reports whether a registration was removed.
type UnregisterServiceReply struct {
	Removed bool
}

// UnregisterService removes a registration made by RegisterService.
func (h *HostServer) UnregisterService(args *UnregisterServiceArgs, reply *UnregisterServiceReply) error {
	h.mu.Lock()
	svc, ok := h.services[args.Token]
	delete(h.services, args.Token)
	h.mu.Unlock()
	if !ok {
		return nil
	}
	reply.Removed = h.pctx.Registry().Unregister(svc.contract, svc.impl)
	return nil
}

// GetServiceArgs asks for a service by contract name and selection
// mode.
type GetServiceArgs struct {
	Contract string
	Mode     int
}

// GetServiceReply returns the broker stream where the host serves the
// selected implementation.
type GetServiceReply struct {
	ServiceID uint32
}

// GetService resolves a service on the host and serves it back over a
// fresh broker stream.
func (h *HostServer) GetService(args *GetServiceArgs, reply *GetServiceReply) error {
	bridge, ok := BridgeByName(args.Contract)
	if !ok {
		return fmt.Errorf("wire: contract %q cannot cross the process boundary", args.Contract)
	}
	impl, err := h.pctx.Registry().Get(bridge.Contract(), sdk.SelectionMode(args.Mode))
	if err != nil {
		return err
	}
	server, err := bridge.NewServer(impl)
	if err != nil {
		return err
	}
	id := h.broker.NextId()
	go h.broker.AcceptAndServe(id, server)
	reply.ServiceID = id
	return nil
}

// GetAllServicesReply returns one broker stream per implementation, in
// descending priority order.
type GetAllServicesReply struct {
	ServiceIDs []uint32
}

// GetAllServices resolves every implementation of a contract and serves
// each over its own broker stream.
func (h *HostServer) GetAllServices(args *GetServiceArgs, reply *GetAllServicesReply) error {
	bridge, ok := BridgeByName(args.Contract)
	if !ok {
		return fmt.Errorf("wire: contract %q cannot cross the process boundary", args.Contract)
	}
	for _, impl := range h.pctx.Registry().GetAll(bridge.Contract()) {
		server, err := bridge.NewServer(impl)
		if err != nil {
			return err
		}
		id := h.broker.NextId()
		go h.broker.AcceptAndServe(id, server)
		reply.ServiceIDs = append(reply.ServiceIDs, id)
	}
	return nil
}

// IsRegisteredReply reports whether any implementation exists.
type IsRegisteredReply struct {
	Registered bool
}

// IsRegistered reports whether a contract has any registered
// implementation.
func (h *HostServer) IsRegistered(args *GetServiceArgs, reply *IsRegisteredReply) error {
	bridge, ok := BridgeByName(args.Contract)
	if !ok {
		return fmt.Errorf("wire: contract %q cannot cross the process boundary", args.Contract)
	}
	reply.Registered = h.pctx.Registry().IsRegistered(bridge.Contract())
	return nil
}

// LogArgs carries a subprocess log record.
type LogArgs struct {
	Level int
	Msg   string
	Attrs map[string]string
}

// Log emits a subprocess record through the host logger.
func (h *HostServer) Log(args *LogArgs, _ *Empty) error {
	attrs := make([]any, 0, len(args.Attrs)*2)
	for k, v := range args.Attrs {
		attrs = append(attrs, k, v)
	}
	h.pctx.Logger().Log(context.Background(), slog.Level(args.Level), args.Msg, attrs...)
	return nil
}

// RestartArgs names the plugin asking to be restarted.
type RestartArgs struct {
	PluginID string
}

// RestartPlugin forwards a restart request to the host services.
func (h *HostServer) RestartPlugin(args *RestartArgs, _ *Empty) error {
	return h.pctx.Host().RestartPlugin(context.Background(), args.PluginID)
}

// Close revokes all live subscriptions and callback connections. The
// process boundary calls it during teardown.
func (h *HostServer) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[uint64]*remoteSubscription)
	h.services = make(map[uint64]remoteService)
	h.mu.Unlock()
	for _, rs := range subs {
		rs.sub.Unsubscribe()
		_ = rs.callback.Close()
	}
}
