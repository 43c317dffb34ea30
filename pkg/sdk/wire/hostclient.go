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

// hostContext is the sdk.Context a subprocess plugin sees. All its
// surfaces proxy to the HostServer over the callback stream.
type hostContext struct {
	pluginID string
	config   map[string]any
	registry *remoteRegistry
	events   *remoteBus
	host     *remoteHost
	log      *slog.Logger
}

var _ sdk.Context = (*hostContext)(nil)

func newHostContext(pluginID string, client *rpc.Client, broker *goplugin.MuxBroker, config map[string]any) *hostContext {
	return &hostContext{
		pluginID: pluginID,
		config:   config,
		registry: &remoteRegistry{client: client, broker: broker},
		events:   &remoteBus{client: client, broker: broker},
		host:     &remoteHost{client: client},
		log:      slog.New(&rpcLogHandler{client: client}),
	}
}

func (c *hostContext) Registry() sdk.ServiceRegistry { return c.registry }
func (c *hostContext) Events() sdk.EventBus          { return c.events }
func (c *hostContext) Config() map[string]any        { return c.config }
func (c *hostContext) Logger() *slog.Logger          { return c.log }
func (c *hostContext) Host() sdk.HostServices        { return c.host }

// remoteRegistry proxies sdk.ServiceRegistry across the process
// boundary. Only contracts with a ServiceBridge resolve; Unregister
// works for implementations this plugin registered itself.
type remoteRegistry struct {
	client *rpc.Client
	broker *goplugin.MuxBroker

	mu     sync.Mutex
	tokens []registeredImpl
}

type registeredImpl struct {
	impl  any
	token uint64
}

var _ sdk.ServiceRegistry = (*remoteRegistry)(nil)

func (r *remoteRegistry) Register(contractType reflect.Type, impl any, meta sdk.ServiceMetadata) error {
	bridge, ok := BridgeByType(contractType)
	if !ok {
		return fmt.Errorf("wire: contract %s cannot cross the process boundary", contractType)
	}
	server, err := bridge.NewServer(impl)
	if err != nil {
		return err
	}
	id := r.broker.NextId()
	go r.broker.AcceptAndServe(id, server)

	args := &RegisterServiceArgs{
		Contract:  bridge.ContractName(),
		ServiceID: id,
		Priority:  meta.Priority,
		Name:      meta.Name,
		Version:   meta.Version,
	}
	var reply RegisterServiceReply
	if err := r.client.Call("Plugin.RegisterService", args, &reply); err != nil {
		return fmt.Errorf("wire: register service: %w", err)
	}

	r.mu.Lock()
	r.tokens = append(r.tokens, registeredImpl{impl: impl, token: reply.Token})
	r.mu.Unlock()
	return nil
}

func (r *remoteRegistry) Get(contractType reflect.Type, mode sdk.SelectionMode) (any, error) {
	bridge, ok := BridgeByType(contractType)
	if !ok {
		return nil, fmt.Errorf("wire: contract %s cannot cross the process boundary", contractType)
	}
	var reply GetServiceReply
	args := &GetServiceArgs{Contract: bridge.ContractName(), Mode: int(mode)}
	if err := r.client.Call("Plugin.GetService", args, &reply); err != nil {
		return nil, err
	}
	conn, err := r.broker.Dial(reply.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("wire: dial service stream: %w", err)
	}
	return bridge.NewProxy(rpc.NewClient(conn)), nil
}

func (r *remoteRegistry) GetAll(contractType reflect.Type) []any {
	bridge, ok := BridgeByType(contractType)
	if !ok {
		return nil
	}
	var reply GetAllServicesReply
	args := &GetServiceArgs{Contract: bridge.ContractName()}
	if err := r.client.Call("Plugin.GetAllServices", args, &reply); err != nil {
		return nil
	}
	impls := make([]any, 0, len(reply.ServiceIDs))
	for _, id := range reply.ServiceIDs {
		conn, err := r.broker.Dial(id)
		if err != nil {
			continue
		}
		impls = append(impls, bridge.NewProxy(rpc.NewClient(conn)))
	}
	return impls
}

func (r *remoteRegistry) IsRegistered(contractType reflect.Type) bool {
	bridge, ok := BridgeByType(contractType)
	if !ok {
		return false
	}
	var reply IsRegisteredReply
	args := &GetServiceArgs{Contract: bridge.ContractName()}
	if err := r.client.Call("Plugin.IsRegistered", args, &reply); err != nil {
		return false
	}
	return reply.Registered
}

func (r *remoteRegistry) Unregister(contractType reflect.Type, impl any) bool {
	r.mu.Lock()
	var token uint64
	found := false
	for i, reg := range r.tokens {
		if reg.impl == impl {
			token = reg.token
			r.tokens = append(r.tokens[:i], r.tokens[i+1:]...)
			found = true
			break
		}
	}
	r.mu.Unlock()
	if !found {
		return false
	}
	var reply UnregisterServiceReply
	if err := r.client.Call("Plugin.UnregisterService", &UnregisterServiceArgs{Token: token}, &reply); err != nil {
		return false
	}
	return reply.Removed
}

// remoteBus proxies sdk.EventBus across the process boundary for
// bridgeable events.
type remoteBus struct {
	client *rpc.Client
	broker *goplugin.MuxBroker
}

var _ sdk.EventBus = (*remoteBus)(nil)

func (b *remoteBus) Publish(_ context.Context, event any) error {
	name, payload, err := contract.EncodeEvent(event)
	if err != nil {
		return err
	}
	var reply PublishReply
	if err := b.client.Call("Plugin.Publish", &PublishArgs{Name: name, Payload: payload}, &reply); err != nil {
		return err
	}
	if len(reply.Warnings) > 0 {
		warn := &sdk.DeliveryWarning{}
		for _, w := range reply.Warnings {
			warn.Errs = append(warn.Errs, errors.New(w))
		}
		return warn
	}
	return nil
}

func (b *remoteBus) Subscribe(eventType reflect.Type, handler sdk.Handler) sdk.Subscription {
	name, ok := contract.EventNameByType(eventType)
	if !ok {
		// Not bridgeable; events of this type never reach the
		// subprocess, so the subscription is inert.
		return inertSubscription{}
	}

	callbackID := b.broker.NextId()
	go b.broker.AcceptAndServe(callbackID, &eventCallbackServer{handler: handler})

	var reply SubscribeReply
	args := &SubscribeArgs{Name: name, CallbackID: callbackID}
	if err := b.client.Call("Plugin.Subscribe", args, &reply); err != nil {
		return inertSubscription{}
	}
	return &remoteSub{client: b.client, token: reply.Token}
}

type remoteSub struct {
	client *rpc.Client
	token  uint64
	once   sync.Once
}

func (s *remoteSub) Unsubscribe() {
	s.once.Do(func() {
		_ = s.client.Call("Plugin.Unsubscribe", &UnsubscribeArgs{Token: s.token}, &Empty{})
	})
}

type inertSubscription struct{}

func (inertSubscription) Unsubscribe() {}

// eventCallbackServer receives event deliveries from the host.
type eventCallbackServer struct {
	handler sdk.Handler
}

func (s *eventCallbackServer) Deliver(args *PublishArgs, _ *Empty) error {
	event, err := contract.DecodeEvent(args.Name, args.Payload)
	if err != nil {
		return err
	}
	return s.handler(context.Background(), event)
}

// remoteHost proxies sdk.HostServices.
type remoteHost struct {
	client *rpc.Client
}

var _ sdk.HostServices = (*remoteHost)(nil)

func (h *remoteHost) RestartPlugin(_ context.Context, pluginID string) error {
	return h.client.Call("Plugin.RestartPlugin", &RestartArgs{PluginID: pluginID}, &Empty{})
}

// rpcLogHandler forwards subprocess log records to the host logger, so
// plugin output lands in the host's structured stream with the host's
// format.
type rpcLogHandler struct {
	client *rpc.Client
	attrs  []slog.Attr
	group  string
}

var _ slog.Handler = (*rpcLogHandler)(nil)

func (h *rpcLogHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *rpcLogHandler) Handle(_ context.Context, record slog.Record) error {
	attrs := make(map[string]string, record.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[h.key(a.Key)] = a.Value.String()
	}
	record.Attrs(func(a slog.Attr) bool {
		attrs[h.key(a.Key)] = a.Value.String()
		return true
	})
	args := &LogArgs{Level: int(record.Level), Msg: record.Message, Attrs: attrs}
	return h.client.Call("Plugin.Log", args, &Empty{})
}

func (h *rpcLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *rpcLogHandler) WithGroup(name string) slog.Handler {
	clone := *h
	if clone.group != "" {
		clone.group += "."
	}
	clone.group += name
	return &clone
}

func (h *rpcLogHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}
