// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package script

import (
	lua "github.com/yuin/gopher-lua"
)

// goToLua converts a decoded JSON value into a Lua value. Unsupported
// types become nil.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []any:
		t := L.NewTable()
		for _, item := range val {
			t.Append(goToLua(L, item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, item := range val {
			L.SetField(t, k, goToLua(L, item))
		}
		return t
	default:
		return lua.LNil
	}
}

// luaToGo converts a Lua value into a JSON-encodable Go value. Tables
// with only positive integer keys become slices; everything else
// becomes a map keyed by the string form of the key.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LString:
		return string(val)
	case lua.LNumber:
		f := float64(val)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case *lua.LTable:
		return tableToGo(val)
	default:
		return nil
	}
}

func tableToGo(t *lua.LTable) any {
	isArray := true
	entries := 0
	t.ForEach(func(k, _ lua.LValue) {
		entries++
		num, ok := k.(lua.LNumber)
		if !ok || float64(num) != float64(int(num)) || int(num) < 1 {
			isArray = false
		}
	})

	if isArray && entries > 0 && entries == t.MaxN() {
		arr := make([]any, 0, entries)
		for i := 1; i <= entries; i++ {
			arr = append(arr, luaToGo(t.RawGetInt(i)))
		}
		return arr
	}

	m := make(map[string]any, entries)
	t.ForEach(func(k, v lua.LValue) {
		m[k.String()] = luaToGo(v)
	})
	return m
}
