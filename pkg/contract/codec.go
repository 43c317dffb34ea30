// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package contract

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Events crossing a serialized boundary (subprocess or script plugins)
// travel as (name, JSON) pairs. Only types listed here are bridgeable;
// everything else is delivered in-process only.

type eventCodec struct {
	typ    reflect.Type
	decode func(data []byte) (any, error)
}

var (
	codecsByName = map[string]eventCodec{}
	namesByType  = map[reflect.Type]string{}
)

func registerEvent[E any](name string) {
	typ := reflect.TypeOf((*E)(nil)).Elem()
	codecsByName[name] = eventCodec{
		typ: typ,
		decode: func(data []byte) (any, error) {
			var e E
			if err := json.Unmarshal(data, &e); err != nil {
				return nil, fmt.Errorf("decode event %q: %w", name, err)
			}
			return e, nil
		},
	}
	namesByType[typ] = name
}

func init() {
	registerEvent[TurnEnded]("turn_ended")
	registerEvent[EntityMoved]("entity_moved")
	registerEvent[PluginStarted]("plugin_started")
	registerEvent[PluginStopped]("plugin_stopped")
}

// EventName returns the wire name for a bridgeable event.
func EventName(event any) (string, bool) {
	name, ok := namesByType[reflect.TypeOf(event)]
	return name, ok
}

// EventNameByType returns the wire name registered for an event type.
func EventNameByType(t reflect.Type) (string, bool) {
	name, ok := namesByType[t]
	return name, ok
}

// EventTypeByName returns the Go type registered under a wire name.
func EventTypeByName(name string) (reflect.Type, bool) {
	c, ok := codecsByName[name]
	if !ok {
		return nil, false
	}
	return c.typ, true
}

// EncodeEvent serializes a bridgeable event to its wire form.
func EncodeEvent(event any) (string, []byte, error) {
	name, ok := EventName(event)
	if !ok {
		return "", nil, fmt.Errorf("event type %T is not bridgeable", event)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return "", nil, fmt.Errorf("encode event %q: %w", name, err)
	}
	return name, data, nil
}

// DecodeEvent reconstructs a bridgeable event from its wire form.
func DecodeEvent(name string, data []byte) (any, error) {
	c, ok := codecsByName[name]
	if !ok {
		return nil, fmt.Errorf("unknown event %q", name)
	}
	return c.decode(data)
}

// BridgedEventNames returns the wire names of all bridgeable events,
// for diagnostics.
func BridgedEventNames() []string {
	names := make([]string, 0, len(codecsByName))
	for name := range codecsByName {
		names = append(names, name)
	}
	return names
}
