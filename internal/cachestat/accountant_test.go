package cachestat_test

import (
	"testing"

	"github.com/tokenwindow/twm/internal/cachestat"
	"github.com/tokenwindow/twm/internal/register"
	"github.com/tokenwindow/twm/internal/token"
	"github.com/tokenwindow/twm/pkg/message"
)

// fixedCounter counts 1 token per register regardless of content length,
// keeping the span arithmetic easy to follow.
type fixedCounter struct{}

func (fixedCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return 1
}

func seq(roles ...message.Role) []register.Register {
	regs := make([]register.Register, len(roles))
	for i, role := range roles {
		regs[i] = register.Register{Position: i + 1, Role: role, Content: "m", InWindow: true}
	}
	return regs
}

func TestCompute_FirstTurn(t *testing.T) {
	t.Parallel()

	a := cachestat.NewAccountant(fixedCounter{}, nil)
	regs := seq(message.RoleUser)

	bp, stats := a.Compute(regs, 0, false, 0)
	if bp != 1 {
		t.Errorf("breakpoint = %d, want 1", bp)
	}
	if stats.CacheCreationInputTokens != 1 || stats.CacheReadInputTokens != 0 {
		t.Errorf("stats = %+v, want creation 1, read 0", stats)
	}
}

func TestCompute_IncrementalTurn(t *testing.T) {
	t.Parallel()

	a := cachestat.NewAccountant(fixedCounter{}, nil)
	regs := seq(message.RoleUser, message.RoleAssistant, message.RoleUser)

	bp, stats := a.Compute(regs, 1, false, 0)
	if bp != 3 {
		t.Errorf("breakpoint = %d, want 3", bp)
	}
	if stats.CacheReadInputTokens != 1 {
		t.Errorf("read = %d, want tokens of register 1", stats.CacheReadInputTokens)
	}
	if stats.CacheCreationInputTokens != 2 {
		t.Errorf("creation = %d, want tokens of registers 2-3", stats.CacheCreationInputTokens)
	}
}

func TestCompute_RecacheRetainedPrefix(t *testing.T) {
	t.Parallel()

	a := cachestat.NewAccountant(fixedCounter{}, nil)
	regs := seq(message.RoleUser, message.RoleAssistant, message.RoleUser,
		message.RoleAssistant, message.RoleUser)

	// Recache retained prefix 1..2; old breakpoint (9) is meaningless now.
	bp, stats := a.Compute(regs, 9, true, 2)
	if bp != 5 {
		t.Errorf("breakpoint = %d, want 5", bp)
	}
	if stats.CacheReadInputTokens != 2 {
		t.Errorf("read = %d, want 2", stats.CacheReadInputTokens)
	}
	if stats.CacheCreationInputTokens != 3 {
		t.Errorf("creation = %d, want 3", stats.CacheCreationInputTokens)
	}
}

func TestCompute_RecacheEmptyRetainedPrefix(t *testing.T) {
	t.Parallel()

	a := cachestat.NewAccountant(fixedCounter{}, nil)
	regs := seq(message.RoleUser, message.RoleAssistant, message.RoleUser)

	bp, stats := a.Compute(regs, 7, true, 0)
	if bp != 3 {
		t.Errorf("breakpoint = %d, want 3", bp)
	}
	if stats.CacheReadInputTokens != 0 {
		t.Errorf("read = %d, want 0 with no retained prefix", stats.CacheReadInputTokens)
	}
	if stats.CacheCreationInputTokens != 3 {
		t.Errorf("creation = %d, want full span", stats.CacheCreationInputTokens)
	}
}

func TestCompute_EmptySequence(t *testing.T) {
	t.Parallel()

	a := cachestat.NewAccountant(fixedCounter{}, nil)
	bp, stats := a.Compute(nil, 0, false, 0)
	if bp != 0 || stats != (message.CacheStats{}) {
		t.Errorf("empty sequence: bp=%d stats=%+v", bp, stats)
	}
}

func TestCompute_OutOfOrderSpanContributesZero(t *testing.T) {
	t.Parallel()

	a := cachestat.NewAccountant(fixedCounter{}, nil)
	regs := seq(message.RoleUser)

	// Old breakpoint beyond the sequence: read span clamps, creation span is
	// empty — never negative, never panics.
	_, stats := a.Compute(regs, 10, false, 0)
	if stats.CacheCreationInputTokens < 0 || stats.CacheReadInputTokens < 0 {
		t.Errorf("negative stats: %+v", stats)
	}
}

func TestCompute_RealCounter(t *testing.T) {
	t.Parallel()

	// Scenario: "hi" then "hello"/"more" with a 1-per-4-chars counter.
	a := cachestat.NewAccountant(token.NewCharCounter(4), nil)
	first := []register.Register{
		{Position: 1, Role: message.RoleUser, Content: "hi", InWindow: true},
	}
	bp, stats := a.Compute(first, 0, false, 0)
	if bp != 1 || stats.CacheCreationInputTokens != 1 || stats.CacheReadInputTokens != 0 {
		t.Errorf("first turn: bp=%d stats=%+v", bp, stats)
	}

	second := []register.Register{
		{Position: 1, Role: message.RoleUser, Content: "hi", InWindow: true},
		{Position: 2, Role: message.RoleAssistant, Content: "hello", InWindow: true},
		{Position: 3, Role: message.RoleUser, Content: "more", InWindow: true},
	}
	bp, stats = a.Compute(second, 1, false, 0)
	wantCreation := token.NewCharCounter(4).Count("hello") + token.NewCharCounter(4).Count("more")
	if bp != 3 || stats.CacheCreationInputTokens != wantCreation || stats.CacheReadInputTokens != 1 {
		t.Errorf("second turn: bp=%d stats=%+v, want creation %d read 1", bp, stats, wantCreation)
	}
}
