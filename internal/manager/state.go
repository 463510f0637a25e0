// Package manager orchestrates the per-turn pipeline: command detection,
// register updates, validation, window reconstruction, oversize offload, JIT
// injection, and cache accounting, keyed by conversation ID.
package manager

import (
	"sync"

	"github.com/tokenwindow/twm/internal/register"
	"github.com/tokenwindow/twm/pkg/message"
)

// conversationState is the mutable per-conversation record. It is mutated
// only while its mutex is held; one ProcessRequest runs per conversation at
// a time.
type conversationState struct {
	mu sync.Mutex

	store *register.Store

	// preservedUser is the original user text clobbered by a JIT injection,
	// awaiting restoration. hasPreserved distinguishes empty from unset.
	preservedUser string
	hasPreserved  bool

	// cacheBreakpoint is the 1-based position of the last user register as
	// of the end of the previous turn.
	cacheBreakpoint int

	lastCacheStats message.CacheStats

	// errorStreak counts consecutive failed tool invocations; errorStack
	// holds one preserved-user snapshot per errored turn.
	errorStreak int
	errorStack  []string

	// currentMCPError is prepended to the next JIT block.
	currentMCPError string

	// jitActive and jitInjectionIndex scope the cleaning of a previous
	// turn's JIT block.
	jitActive         bool
	jitInjectionIndex int

	// system2Content is an optional secondary cacheable system block.
	system2Content string

	// source is sticky: once any incoming message carries the API source,
	// the conversation keeps using the external prompt set.
	source message.Source
}

func newConversationState() *conversationState {
	return &conversationState{store: register.NewStore()}
}

// WindowState is the diagnostic snapshot returned by GetWindowState.
type WindowState struct {
	Registers         []register.Register `json:"registers"`
	CacheBreakpoint   int                 `json:"cache_breakpoint"`
	LastCacheStats    message.CacheStats  `json:"last_cache_stats"`
	ErrorStreak       int                 `json:"error_streak"`
	PreservedUserSet  bool                `json:"preserved_user_set"`
	JITActive         bool                `json:"jit_active"`
	JITInjectionIndex int                 `json:"jit_injection_index,omitempty"`
	Source            message.Source      `json:"source,omitempty"`
}
