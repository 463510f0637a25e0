// Package cachestat tracks the prefix-cache breakpoint per conversation and
// splits each turn's prompt tokens between cache creation and cache read.
package cachestat

import (
	"log/slog"

	"github.com/tokenwindow/twm/internal/register"
	"github.com/tokenwindow/twm/internal/token"
	"github.com/tokenwindow/twm/pkg/message"
)

// Accountant derives cache token deltas from rebuilt register sequences.
type Accountant struct {
	counter token.Counter
	logger  *slog.Logger
}

// NewAccountant creates an Accountant.
func NewAccountant(counter token.Counter, logger *slog.Logger) *Accountant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accountant{counter: counter, logger: logger}
}

// Compute returns the new breakpoint (1-based position of the last user
// register) and the turn's cache stats.
//
// oldBreakpoint is the breakpoint as of the previous turn's return (0 on the
// first turn). When a recache was applied this turn, recacheApplied is true
// and retainedPrefixEnd is the length R of the contiguous selected prefix
// 1..R (0 when position 1 was not retained) — the read span is then taken
// from the command itself, because a recache can move the breakpoint
// backward and the old breakpoint no longer maps onto the rebuilt sequence.
func (a *Accountant) Compute(regs []register.Register, oldBreakpoint int, recacheApplied bool, retainedPrefixEnd int) (int, message.CacheStats) {
	newBreakpoint := lastUserPosition(regs)
	if newBreakpoint == 0 {
		return 0, message.CacheStats{}
	}

	var stats message.CacheStats
	switch {
	case oldBreakpoint == 0:
		stats.CacheCreationInputTokens = a.spanTokens(regs, 1, newBreakpoint)

	case recacheApplied:
		r := retainedPrefixEnd
		stats.CacheReadInputTokens = a.spanTokens(regs, 1, r)
		stats.CacheCreationInputTokens = a.spanTokens(regs, r+1, newBreakpoint)

	default:
		stats.CacheReadInputTokens = a.spanTokens(regs, 1, oldBreakpoint)
		stats.CacheCreationInputTokens = a.spanTokens(regs, oldBreakpoint+1, newBreakpoint)
	}

	return newBreakpoint, stats
}

// lastUserPosition returns the 1-based position of the final user register,
// or 0 when there is none.
func lastUserPosition(regs []register.Register) int {
	for i := len(regs) - 1; i >= 0; i-- {
		if regs[i].Role == message.RoleUser {
			return regs[i].Position
		}
	}
	return 0
}

// spanTokens sums the tokens of registers with positions lo..hi inclusive.
// Inverted or out-of-range spans contribute zero and are logged, never
// raised.
func (a *Accountant) spanTokens(regs []register.Register, lo, hi int) int {
	if lo < 1 {
		lo = 1
	}
	if hi > len(regs) {
		a.logger.Warn("cachestat: span end beyond sequence", "hi", hi, "len", len(regs))
		hi = len(regs)
	}
	if hi < lo {
		if hi != lo-1 {
			// lo-1 == hi is the legitimate empty span; anything further
			// inverted indicates a breakpoint bug.
			a.logger.Warn("cachestat: inverted span", "lo", lo, "hi", hi)
		}
		return 0
	}
	total := 0
	for _, r := range regs {
		if r.Position >= lo && r.Position <= hi {
			total += a.counter.Count(r.Content)
		}
	}
	return total
}
