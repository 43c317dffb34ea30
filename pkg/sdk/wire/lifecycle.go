// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package wire

import (
	"context"
	"fmt"
	"net/rpc"

	goplugin "github.com/hashicorp/go-plugin"
	"gopkg.in/yaml.v3"

	"github.com/duskhall/duskhall/pkg/sdk"
)

// LifecyclePlugin is the go-plugin glue for the plugin lifecycle. The
// plugin process serves its sdk.Plugin implementation; the host
// dispenses a LifecycleClient.
type LifecyclePlugin struct {
	Impl sdk.Plugin
}

var _ goplugin.Plugin = (*LifecyclePlugin)(nil)

func (p *LifecyclePlugin) Server(broker *goplugin.MuxBroker) (any, error) {
	return &lifecycleServer{impl: p.Impl, broker: broker}, nil
}

func (p *LifecyclePlugin) Client(broker *goplugin.MuxBroker, client *rpc.Client) (any, error) {
	return &LifecycleClient{client: client, broker: broker}, nil
}

// InitArgs carries the host's side of Initialize to the subprocess.
type InitArgs struct {
	// PluginID identifies the plugin, for subprocess-side logging.
	PluginID string
	// HostBrokerID is the mux-broker stream where the host serves its
	// callback surface for this plugin.
	HostBrokerID uint32
	// Config is the plugin's configuration section, YAML-encoded.
	Config []byte
}

// LifecycleClient is the host-side proxy for a subprocess plugin. It
// implements sdk.Plugin, so the loader drives it exactly like an
// in-process instance.
type LifecycleClient struct {
	client *rpc.Client
	broker *goplugin.MuxBroker

	// PluginID is set by the process boundary before Initialize.
	PluginID string
}

var _ sdk.Plugin = (*LifecycleClient)(nil)

// Initialize serves the host callback surface on a fresh broker stream
// and hands its id to the subprocess along with the plugin's config.
func (c *LifecycleClient) Initialize(_ context.Context, pctx sdk.Context) error {
	cfg, err := yaml.Marshal(pctx.Config())
	if err != nil {
		return fmt.Errorf("wire: encode plugin config: %w", err)
	}

	hostID := c.broker.NextId()
	go c.broker.AcceptAndServe(hostID, NewHostServer(pctx, c.broker))

	args := &InitArgs{
		PluginID:     c.PluginID,
		HostBrokerID: hostID,
		Config:       cfg,
	}
	if err := c.client.Call("Plugin.Initialize", args, &Empty{}); err != nil {
		return fmt.Errorf("wire: initialize: %w", err)
	}
	return nil
}

func (c *LifecycleClient) Start(context.Context) error {
	if err := c.client.Call("Plugin.Start", &Empty{}, &Empty{}); err != nil {
		return fmt.Errorf("wire: start: %w", err)
	}
	return nil
}

func (c *LifecycleClient) Stop(context.Context) error {
	if err := c.client.Call("Plugin.Stop", &Empty{}, &Empty{}); err != nil {
		return fmt.Errorf("wire: stop: %w", err)
	}
	return nil
}

// lifecycleServer runs in the plugin process and drives the real
// sdk.Plugin implementation.
type lifecycleServer struct {
	impl   sdk.Plugin
	broker *goplugin.MuxBroker
	hctx   *hostContext
}

func (s *lifecycleServer) Initialize(args *InitArgs, _ *Empty) error {
	conn, err := s.broker.Dial(args.HostBrokerID)
	if err != nil {
		return fmt.Errorf("wire: dial host callback stream: %w", err)
	}

	var config map[string]any
	if len(args.Config) > 0 {
		if err := yaml.Unmarshal(args.Config, &config); err != nil {
			return fmt.Errorf("wire: decode plugin config: %w", err)
		}
	}

	s.hctx = newHostContext(args.PluginID, rpc.NewClient(conn), s.broker, config)
	return s.impl.Initialize(context.Background(), s.hctx)
}

func (s *lifecycleServer) Start(*Empty, *Empty) error {
	return s.impl.Start(context.Background())
}

func (s *lifecycleServer) Stop(*Empty, *Empty) error {
	return s.impl.Stop(context.Background())
}
