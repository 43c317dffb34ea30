// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package plugin

// State is a plugin's position in the load lifecycle.
type State int

const (
	// StateDiscovered means the manifest parsed but resolution has not
	// run.
	StateDiscovered State = iota
	// StateResolved means the plugin has a slot in the load order.
	StateResolved
	// StateLoading means the boundary is loading the plugin's code.
	StateLoading
	// StateInitialized means Initialize returned without error.
	StateInitialized
	// StateStarted means the plugin is running.
	StateStarted
	// StateStopping means Stop is in progress.
	StateStopping
	// StateUnloaded means the plugin was stopped and its boundary torn
	// down.
	StateUnloaded
	// StateFailed means a load-path step errored; the record holds the
	// error.
	StateFailed
)

var stateNames = map[State]string{
	StateDiscovered:  "discovered",
	StateResolved:    "resolved",
	StateLoading:     "loading",
	StateInitialized: "initialized",
	StateStarted:     "started",
	StateStopping:    "stopping",
	StateUnloaded:    "unloaded",
	StateFailed:      "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Status is a read-only snapshot of one plugin's record.
type Status struct {
	ID       string
	Version  string
	Strategy LoadStrategy
	State    State
	Err      error
}

// Report summarizes one DiscoverAndLoad batch. Planning failures abort
// the batch and surface as the returned error instead; per-plugin
// failures land here.
type Report struct {
	// Loaded lists plugins that reached the started state, in load
	// order.
	Loaded []string
	// Failed maps plugin ids to their load or lifecycle error.
	Failed map[string]error
	// Skipped maps plugin ids to the reason they were not attempted,
	// e.g. a failed dependency or an unsupported profile.
	Skipped map[string]string
}

func newReport() *Report {
	return &Report{
		Failed:  make(map[string]error),
		Skipped: make(map[string]string),
	}
}

// OK reports whether every discovered plugin loaded.
func (r *Report) OK() bool {
	return len(r.Failed) == 0 && len(r.Skipped) == 0
}
