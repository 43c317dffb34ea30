// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package contract

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewEventID generates a new ULID for an event.
func NewEventID() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// TurnEnded is published by the simulation when a game turn completes.
type TurnEnded struct {
	ID        ulid.ULID `json:"id"`
	Number    uint64    `json:"number"`
	Timestamp time.Time `json:"timestamp"`
}

// EntityMoved is published when an entity changes position.
type EntityMoved struct {
	ID        ulid.ULID `json:"id"`
	Entity    string    `json:"entity"`
	FromX     int       `json:"from_x"`
	FromY     int       `json:"from_y"`
	ToX       int       `json:"to_x"`
	ToY       int       `json:"to_y"`
	Timestamp time.Time `json:"timestamp"`
}

// PluginStarted is published by the loader after a plugin reaches the
// started state.
type PluginStarted struct {
	PluginID  string    `json:"plugin_id"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// PluginStopped is published by the loader after a plugin is unloaded.
type PluginStopped struct {
	PluginID  string    `json:"plugin_id"`
	Timestamp time.Time `json:"timestamp"`
}
