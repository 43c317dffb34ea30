// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package script

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/duskhall/duskhall/pkg/contract"
	"github.com/duskhall/duskhall/pkg/sdk"
)

// scriptPlugin adapts one Lua script to the plugin lifecycle. The
// script defines optional globals on_init, on_start, on_stop, and
// on_event; the duskhall.* module is its host surface.
//
// A single Lua state lives for the plugin's whole lifetime. Lua states
// are not safe for concurrent use, so every entry into the state takes
// the mutex. The one exception is a delivery triggered by the script's
// own synchronous publish, which arrives on the goroutine already
// holding it; see reentryKey.
type scriptPlugin struct {
	id      string
	code    string
	factory *StateFactory

	mu    sync.Mutex
	state *lua.LState
	pctx  sdk.Context
	subs  []sdk.Subscription
}

var _ sdk.Plugin = (*scriptPlugin)(nil)

// reentryKey marks a publish context as originating inside a script's
// own execution. Delivery back into that script must not take p.mu
// again: the bus invokes handlers synchronously on the publisher's
// goroutine, which already holds the mutex.
type reentryKey struct{}

func (p *scriptPlugin) Initialize(ctx context.Context, pctx sdk.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	errb := oops.In("script").With("plugin", p.id)

	L, err := p.factory.NewState(ctx)
	if err != nil {
		return errb.With("operation", "initialize").Wrap(err)
	}

	p.state = L
	p.pctx = pctx
	p.registerHostModule(L)
	L.SetGlobal("config", goToLua(L, mapToAny(pctx.Config())))

	if err := L.DoString(p.code); err != nil {
		L.Close()
		p.state = nil
		return errb.With("operation", "initialize").Hint("script error").Wrap(err)
	}

	return p.callOptionalLocked("on_init")
}

func (p *scriptPlugin) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callOptionalLocked("on_start")
}

func (p *scriptPlugin) Stop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.callOptionalLocked("on_stop")
	for _, sub := range p.subs {
		sub.Unsubscribe()
	}
	p.subs = nil
	return err
}

// close releases the Lua state. Called by the boundary's Teardown.
func (p *scriptPlugin) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != nil {
		p.state.Close()
		p.state = nil
	}
}

// callOptionalLocked invokes a global function if the script defines
// it. Caller holds p.mu.
func (p *scriptPlugin) callOptionalLocked(name string, args ...lua.LValue) error {
	if p.state == nil {
		return oops.In("script").With("plugin", p.id).New("state is closed")
	}
	fn := p.state.GetGlobal(name)
	if fn.Type() == lua.LTNil {
		return nil
	}
	if err := p.state.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, args...); err != nil {
		return oops.In("script").With("plugin", p.id).With("operation", name).Wrap(err)
	}
	return nil
}

// registerHostModule installs the duskhall.* table. Capability checks
// happen in the context surfaces the loader handed us, not here.
func (p *scriptPlugin) registerHostModule(L *lua.LState) {
	mod := L.NewTable()
	L.SetField(mod, "log", L.NewFunction(p.logFn()))
	L.SetField(mod, "event_id", L.NewFunction(eventIDFn))
	L.SetField(mod, "publish", L.NewFunction(p.publishFn()))
	L.SetField(mod, "subscribe", L.NewFunction(p.subscribeFn()))
	L.SetField(mod, "restart", L.NewFunction(p.restartFn()))
	L.SetGlobal("duskhall", mod)
}

func (p *scriptPlugin) logFn() lua.LGFunction {
	return func(L *lua.LState) int {
		level := L.CheckString(1)
		message := L.CheckString(2)

		logger := p.pctx.Logger()
		switch level {
		case "debug":
			logger.Debug(message)
		case "info":
			logger.Info(message)
		case "warn":
			logger.Warn(message)
		case "error":
			logger.Error(message)
		default:
			logger.Info(message)
		}
		return 0
	}
}

func eventIDFn(L *lua.LState) int {
	L.Push(lua.LString(contract.NewEventID().String()))
	return 1
}

// publishFn publishes a bridgeable event built from a Lua table.
// Returns nil on success or an error string; delivery warnings are
// logged, not raised.
func (p *scriptPlugin) publishFn() lua.LGFunction {
	return func(L *lua.LState) int {
		name := L.CheckString(1)
		payload := L.CheckTable(2)

		data, err := json.Marshal(luaToGo(payload))
		if err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		event, err := contract.DecodeEvent(name, data)
		if err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}

		ctx := L.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		err = p.pctx.Events().Publish(context.WithValue(ctx, reentryKey{}, p), event)
		var warn *sdk.DeliveryWarning
		if errors.As(err, &warn) {
			p.pctx.Logger().Warn("event delivery warnings",
				"event", name, "failures", len(warn.Errs))
		} else if err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		L.Push(lua.LNil)
		return 1
	}
}

// subscribeFn subscribes the script's on_event handler to a bridgeable
// event. Deliveries run on publisher goroutines and serialize on the
// plugin mutex.
func (p *scriptPlugin) subscribeFn() lua.LGFunction {
	return func(L *lua.LState) int {
		name := L.CheckString(1)

		eventType, ok := contract.EventTypeByName(name)
		if !ok {
			L.Push(lua.LString("unknown event: " + name))
			return 1
		}

		sub := p.pctx.Events().Subscribe(eventType, func(ctx context.Context, event any) error {
			return p.deliver(ctx, name, event)
		})
		p.subs = append(p.subs, sub)
		L.Push(lua.LNil)
		return 1
	}
}

func (p *scriptPlugin) deliver(ctx context.Context, name string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	// A publish from this script's own code arrives on the goroutine
	// that already holds the mutex.
	if owner, ok := ctx.Value(reentryKey{}).(*scriptPlugin); ok && owner == p {
		return p.callOptionalLocked("on_event", lua.LString(name), goToLua(p.state, decoded))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == nil {
		return nil
	}
	return p.callOptionalLocked("on_event", lua.LString(name), goToLua(p.state, decoded))
}

func (p *scriptPlugin) restartFn() lua.LGFunction {
	return func(L *lua.LState) int {
		if err := p.pctx.Host().RestartPlugin(L.Context(), p.id); err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		L.Push(lua.LNil)
		return 1
	}
}

func mapToAny(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
