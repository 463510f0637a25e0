// Package register implements the append-only per-conversation register log:
// one register per user or assistant message, with in-window flags, oversize
// offload references, and ingest-time stripping of context-usage chatter.
package register

import (
	"github.com/tokenwindow/twm/pkg/message"
)

// OffloadRef points at the on-disk copy of an offloaded register's content.
type OffloadRef struct {
	// Path is the offload file location.
	Path string `json:"path"`

	// OriginalTokenCount is the token count of the content before the
	// oversize stub replaced it.
	OriginalTokenCount int `json:"original_token_count"`
}

// Register is a single turn-sized unit tracked by the manager.
type Register struct {
	// Position is the 1-based index within the visible window, densely
	// renumbered after every rebuild.
	Position int `json:"position"`

	// Role is User or Assistant. System content lives outside the register
	// stream.
	Role message.Role `json:"role"`

	// Content is opaque text, possibly including tool-result framing.
	Content string `json:"content"`

	// InWindow reports whether the register is part of the visible window.
	// Registers dropped from the window are retained with false; their
	// positions are never reused within an unbroken sequence.
	InWindow bool `json:"in_window"`

	// Placeholder is true iff the register was synthesized by the window
	// reconstructor to repair role alternation.
	Placeholder bool `json:"placeholder,omitempty"`

	// Distilled marks the scrubbed assistant tail appended during a rebuild.
	Distilled bool `json:"distilled,omitempty"`

	// Offload is set when the content was replaced by an oversize stub.
	Offload *OffloadRef `json:"offload,omitempty"`

	// OriginPosition is the position a register held before the rebuild that
	// produced it, when it came from a recache selection. Zero means none.
	OriginPosition int `json:"origin_position,omitempty"`
}

// Message converts the register back to its wire form.
func (r Register) Message() message.Message {
	return message.Message{Role: r.Role, Content: r.Content}
}
