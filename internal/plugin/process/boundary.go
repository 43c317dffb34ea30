// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

// Package process runs plugins as child processes over the wire
// protocol. A crashing plugin takes down its own process, never the
// host; the cost is that only bridgeable contracts and events cross
// the boundary.
//
// The manifest entry-point symbol is ignored for this strategy; the
// binary itself is the entry point and must call wire.Serve from main.
package process

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/duskhall/duskhall/internal/plugin"
	"github.com/duskhall/duskhall/pkg/sdk"
	"github.com/duskhall/duskhall/pkg/sdk/wire"
)

// Client is the subset of the go-plugin client the boundary uses.
// Tests substitute fakes.
type Client interface {
	Dispense(name string) (any, error)
	Kill()
}

// ClientFactory creates a Client for a plugin binary.
type ClientFactory interface {
	New(manifest *plugin.Manifest, path string) Client
}

// ClientFactoryFunc adapts a function to ClientFactory.
type ClientFactoryFunc func(manifest *plugin.Manifest, path string) Client

func (f ClientFactoryFunc) New(manifest *plugin.Manifest, path string) Client {
	return f(manifest, path)
}

type realClient struct {
	client *goplugin.Client
}

func (c *realClient) Dispense(name string) (any, error) {
	proto, err := c.client.Client()
	if err != nil {
		return nil, err
	}
	return proto.Dispense(name)
}

func (c *realClient) Kill() { c.client.Kill() }

func defaultFactory(manifest *plugin.Manifest, path string) Client {
	return &realClient{client: goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig:  wire.Handshake,
		Plugins:          wire.PluginMap(nil),
		Cmd:              exec.Command(path),
		AllowedProtocols: []goplugin.Protocol{goplugin.ProtocolNetRPC},
		Logger: hclog.New(&hclog.LoggerOptions{
			Name:  "plugin." + manifest.ID,
			Level: hclog.Warn,
		}),
	})}
}

// Boundary runs one plugin in a child process.
type Boundary struct {
	factory ClientFactory
	log     *slog.Logger

	client Client
}

var _ plugin.Boundary = (*Boundary)(nil)

// Option configures a Boundary.
type Option func(*Boundary)

// WithClientFactory replaces the subprocess client factory, for tests.
func WithClientFactory(f ClientFactory) Option {
	return func(b *Boundary) { b.factory = f }
}

// WithLogger sets the boundary's logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *Boundary) { b.log = log }
}

// NewFactory returns a BoundaryFactory producing one Boundary per
// plugin.
func NewFactory(opts ...Option) plugin.BoundaryFactory {
	return plugin.BoundaryFactoryFunc(func(_ *plugin.Manifest) (plugin.Boundary, error) {
		return New(opts...), nil
	})
}

// New creates a process boundary.
func New(opts ...Option) *Boundary {
	b := &Boundary{
		factory: ClientFactoryFunc(defaultFactory),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Load starts the plugin binary and dispenses its lifecycle over the
// wire protocol. The handshake is retried with backoff; slow plugin
// startup is common on cold caches.
func (b *Boundary) Load(ctx context.Context, manifest *plugin.Manifest, dir string, entry plugin.EntryPoint) (sdk.Plugin, error) {
	errb := oops.In("process").With("plugin", manifest.ID)

	path := filepath.Join(dir, entry.Binary)
	info, err := os.Stat(path)
	if err != nil {
		return nil, errb.With("path", path).Wrapf(err, "plugin binary not found")
	}
	if info.Mode()&0o111 == 0 {
		return nil, errb.With("path", path).Errorf("plugin binary is not executable")
	}

	client := b.factory.New(manifest, path)

	var raw any
	backoff := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var derr error
		raw, derr = client.Dispense(wire.LifecyclePluginName)
		if derr != nil {
			return retry.RetryableError(derr)
		}
		return nil
	})
	if err != nil {
		client.Kill()
		return nil, errb.With("path", path).Wrapf(err, "handshake with plugin process")
	}

	lc, ok := raw.(*wire.LifecycleClient)
	if !ok {
		client.Kill()
		return nil, errb.Errorf("dispensed %T, want *wire.LifecycleClient", raw)
	}
	lc.PluginID = manifest.ID

	b.client = client
	b.log.Debug("started plugin process", "plugin", manifest.ID, "path", path)
	return lc, nil
}

// Teardown kills the plugin process. go-plugin reaps the child and
// closes the mux; outstanding RPC calls fail fast.
func (b *Boundary) Teardown(_ context.Context) error {
	if b.client != nil {
		b.client.Kill()
		b.client = nil
	}
	return nil
}
