// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

// Package main implements an echo plugin for Duskhall. It runs as a
// subprocess (load-strategy: process) and registers a CommandHandler
// that echoes its arguments back, plus a subscription that logs turn
// boundaries. It exists as a working reference for the wire protocol.
//
// Build:
//
//	go build -o echo ./plugins/echo
package main

import (
	"context"
	"strings"

	"github.com/duskhall/duskhall/pkg/contract"
	"github.com/duskhall/duskhall/pkg/sdk"
	"github.com/duskhall/duskhall/pkg/sdk/wire"
)

type echoPlugin struct {
	pctx   sdk.Context
	prefix string
	sub    sdk.Subscription
}

var _ sdk.Plugin = (*echoPlugin)(nil)
var _ contract.CommandHandler = (*echoPlugin)(nil)

func (p *echoPlugin) Initialize(_ context.Context, pctx sdk.Context) error {
	p.pctx = pctx

	p.prefix = "Echo: "
	if v, ok := pctx.Config()["prefix"].(string); ok {
		p.prefix = v
	}

	return sdk.Register[contract.CommandHandler](pctx.Registry(), p, sdk.ServiceMetadata{
		Name:    "echo",
		Version: "1.0.0",
	})
}

func (p *echoPlugin) Start(_ context.Context) error {
	p.sub = sdk.On(p.pctx.Events(), func(_ context.Context, event contract.TurnEnded) error {
		p.pctx.Logger().Debug("turn ended", "turn", event.Number)
		return nil
	})
	p.pctx.Logger().Info("echo plugin started")
	return nil
}

func (p *echoPlugin) Stop(_ context.Context) error {
	if p.sub != nil {
		p.sub.Unsubscribe()
	}
	sdk.Unregister[contract.CommandHandler](p.pctx.Registry(), p)
	return nil
}

func (p *echoPlugin) Execute(_ context.Context, cmd contract.Command) (contract.CommandResult, error) {
	return contract.CommandResult{
		Output: p.prefix + strings.Join(cmd.Args, " "),
	}, nil
}

func main() {
	wire.Serve(&echoPlugin{})
}
