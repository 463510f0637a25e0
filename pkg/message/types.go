// Package message defines the data contract between chat clients and the
// token window manager: roles, messages, system blocks, and cache accounting.
package message

import (
	"errors"
	"fmt"
)

// Role identifies the sender of a message in a conversation.
type Role string

// Role constants. The manager rejects anything else.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrUnknownRole is returned when a client submits a message with a role
// outside {system, user, assistant}.
var ErrUnknownRole = errors.New("message: unknown role")

// Source describes where a conversation turn originated.
type Source string

// Source constants. The JIT injector selects its prompt file based on these.
const (
	SourceInternal Source = ""
	SourceAPI      Source = "api"
)

// Message is a single conversation entry as seen on the wire.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Source  Source `json:"source,omitempty"`
}

// Validate checks that every message carries a recognized role.
func Validate(msgs []Message) error {
	for i, m := range msgs {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("%w: %q at index %d", ErrUnknownRole, m.Role, i)
		}
	}
	return nil
}

// SystemBlock is one cache-tagged segment of the outbound system prompt.
// Providers that support prefix caching receive each block as a separate
// cacheable text part.
type SystemBlock struct {
	Text  string `json:"text"`
	Cache bool   `json:"cache,omitempty"`
}

// TurnRequest is the input to one manager turn.
type TurnRequest struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
	BotID          string    `json:"bot_id,omitempty"`
}

// TurnResult is the rewritten conversation returned by one manager turn.
type TurnResult struct {
	Messages []Message     `json:"messages"`
	System   []SystemBlock `json:"system"`
}

// SystemText joins the system blocks into a single prompt string.
func (r TurnResult) SystemText() string {
	var out string
	for i, b := range r.System {
		if i > 0 {
			out += "\n\n"
		}
		out += b.Text
	}
	return out
}

// CacheStats is the per-turn split of prompt tokens between the provider's
// prefix-cache write and read paths.
type CacheStats struct {
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}
