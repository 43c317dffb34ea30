// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

// Package contract holds the host-declared contract types plugins
// implement against and the registry uses as lookup keys. The host loads
// this package exactly once; every isolation boundary resolves it to the
// host's copy, so contract type identity is shared across plugins.
package contract

import "context"

// Renderer is the front-end contract. The embedding application resolves
// exactly one implementation (highest priority) and drives it; rendering
// itself is outside the plugin runtime.
type Renderer interface {
	// Init prepares the rendering backend.
	Init(ctx context.Context) error

	// RenderFrame draws one complete frame.
	RenderFrame(ctx context.Context, frame Frame) error

	// Shutdown releases the backend.
	Shutdown(ctx context.Context) error
}

// Frame is one character-cell frame to render.
type Frame struct {
	Width  int
	Height int
	Cells  []Cell
}

// Cell is a single character cell with foreground/background colors in
// 0xRRGGBB form.
type Cell struct {
	Rune rune
	Fg   uint32
	Bg   uint32
}

// CommandHandler processes a named host command. Its request and
// response are plain data, so implementations in subprocess plugins can
// be bridged across the isolation boundary by the host.
type CommandHandler interface {
	Execute(ctx context.Context, cmd Command) (CommandResult, error)
}

// Command is a parsed host command.
type Command struct {
	Name string
	Args []string
}

// CommandResult is the textual outcome of a command.
type CommandResult struct {
	Output string
}

// MapOverlay annotates dungeon tiles for the active renderer, e.g. a
// threat heatmap or a pathfinding debug layer.
type MapOverlay interface {
	// Annotate returns overlay cells for the given dungeon depth.
	Annotate(ctx context.Context, depth int) ([]OverlayCell, error)
}

// OverlayCell is one annotated tile.
type OverlayCell struct {
	X     int
	Y     int
	Glyph rune
}
