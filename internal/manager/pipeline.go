package manager

import (
	"context"

	"github.com/tokenwindow/twm/internal/command"
	"github.com/tokenwindow/twm/internal/diag"
	"github.com/tokenwindow/twm/internal/jit"
	"github.com/tokenwindow/twm/internal/neuralyzer"
	"github.com/tokenwindow/twm/internal/register"
	"github.com/tokenwindow/twm/internal/window"
	"github.com/tokenwindow/twm/pkg/message"
)

// ProcessRequest runs one turn of the pipeline and returns the rewritten
// message list and system prompt. Cache stats for the turn are available via
// GetCacheStats afterwards.
func (m *Manager) ProcessRequest(ctx context.Context, req message.TurnRequest) (message.TurnResult, error) {
	_, span := m.span(ctx, req.ConversationID)
	defer span.End()

	if err := message.Validate(req.Messages); err != nil {
		return message.TurnResult{}, err
	}

	st := m.state(req.ConversationID)
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, msg := range req.Messages {
		if msg.Source == message.SourceAPI {
			st.source = message.SourceAPI
			break
		}
	}

	systemPrompt, err := m.loadSystemPrompt(st.source)
	if err != nil {
		return message.TurnResult{}, err
	}

	oldBreakpoint := st.cacheBreakpoint

	msgs := make([]message.Message, len(req.Messages))
	copy(msgs, req.Messages)

	m.swapToolResults(st, msgs)

	inv, cleanedTail := m.detectCommand(msgs)

	m.appendNew(st, msgs)

	if st.store.Len() == 0 {
		st.cacheBreakpoint = 0
		st.lastCacheStats = message.CacheStats{}
		return message.TurnResult{
			Messages: []message.Message{},
			System:   m.systemBlocks(st, systemPrompt, req.BotID),
		}, nil
	}

	recacheApplied := false
	retainedEnd := 0
	if inv != nil {
		if verr := command.Validate(inv, st.store.InWindow(), m.tmpl); verr != nil {
			m.failCommand(st, req.ConversationID, verr)
		} else {
			m.applyCommand(st, req.ConversationID, inv, cleanedTail)
			recacheApplied = true
			retainedEnd = inv.RetainedPrefixEnd()
		}
	}

	newBreakpoint, stats := m.accountant.Compute(st.store.InWindow(), oldBreakpoint, recacheApplied, retainedEnd)
	st.cacheBreakpoint = newBreakpoint
	st.lastCacheStats = stats

	m.runOversize(st, req.ConversationID)
	m.runJIT(st, req.ConversationID, systemPrompt)

	out := st.store.InWindow()
	result := message.TurnResult{
		Messages: make([]message.Message, len(out)),
		System:   m.systemBlocks(st, systemPrompt, req.BotID),
	}
	for i, r := range out {
		result.Messages[i] = r.Message()
	}

	m.hub.Publish(diag.KindTurn, req.ConversationID,
		"turn rewritten: %d messages, breakpoint %d, creation %d, read %d",
		len(result.Messages), newBreakpoint, stats.CacheCreationInputTokens, stats.CacheReadInputTokens)

	return result, nil
}

// swapToolResults replaces recache tool-result content in incoming user
// messages with the preserved user text. The swap path wins over recache
// restoration because it is the fresher evidence the JIT round-trip
// completed; it also resets the error bookkeeping.
func (m *Manager) swapToolResults(st *conversationState, msgs []message.Message) {
	if !st.hasPreserved {
		return
	}
	for i := range msgs {
		if msgs[i].Role != message.RoleUser || !jit.IsToolResult(msgs[i].Content) {
			continue
		}
		msgs[i].Content = st.preservedUser
		st.preservedUser = ""
		st.hasPreserved = false
		st.errorStreak = 0
		st.errorStack = nil
		return
	}
}

// detectCommand scans the latest assistant text for a recache invocation
// without validating it. When found, the invocation and its vocabulary are
// neuralyzed out of that text in place; the scrubbed text doubles as the
// cleaned assistant tail for reconstruction.
func (m *Manager) detectCommand(msgs []message.Message) (*command.Invocation, string) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != message.RoleAssistant {
			continue
		}
		inv := command.Detect(msgs[i].Content)
		if inv == nil {
			return nil, ""
		}
		cleaned := neuralyzer.Scrub(msgs[i].Content)
		msgs[i].Content = cleaned
		return inv, cleaned
	}
	return nil, ""
}

// appendNew appends the client messages the store has not seen yet. The
// client resends the full list every turn; everything beyond the current
// in-window count is new.
func (m *Manager) appendNew(st *conversationState, msgs []message.Message) {
	var nonSystem []message.Message
	for _, msg := range msgs {
		if msg.Role != message.RoleSystem {
			nonSystem = append(nonSystem, msg)
		}
	}
	if existing := st.store.Len(); len(nonSystem) > existing {
		st.store.AppendFromClient(nonSystem[existing:])
	}
}

// failCommand surfaces a validation error as a synthetic tool result in the
// latest user register and updates the error bookkeeping.
func (m *Manager) failCommand(st *conversationState, conversationID string, verr *command.ValidationError) {
	if pos := lastUserPosition(st.store.InWindow()); pos > 0 {
		r, _ := st.store.At(pos)
		r.Content = verr.ToolResult()
		st.store.Update(pos, r)
	}
	st.errorStreak++
	if st.hasPreserved {
		st.errorStack = append(st.errorStack, st.preservedUser)
	}
	st.currentMCPError = verr.Text

	m.hub.Publish(diag.KindCommand, conversationID, "recache rejected (%s): %s", verr.Kind, verr.Text)
	m.hub.Publish(diag.KindErrorStreak, conversationID, "error streak now %d", st.errorStreak)
}

// applyCommand rebuilds the register sequence from the validated selection.
func (m *Manager) applyCommand(st *conversationState, conversationID string, inv *command.Invocation, cleanedTail string) {
	selections := make([]window.Selection, 0, len(inv.Positions))
	for _, p := range inv.Positions {
		r, ok := st.store.At(p.Value)
		if !ok {
			continue
		}
		selections = append(selections, window.Selection{
			StorePosition: r.Position,
			Role:          r.Role,
			Content:       r.Content,
			Placeholder:   r.Placeholder || m.tmpl.Matches(r.Content),
		})
	}

	anchor := st.preservedUser
	usedPreserved := st.hasPreserved
	if !usedPreserved {
		if pos := lastUserPosition(st.store.InWindow()); pos > 0 {
			r, _ := st.store.At(pos)
			anchor = r.Content
		}
	}

	rebuilt := m.reconstructor.Rebuild(selections, cleanedTail, anchor)
	st.store.ReplaceAll(rebuilt)
	m.checkConsistency(conversationID, rebuilt)

	if usedPreserved {
		st.preservedUser = ""
		st.hasPreserved = false
	}
	st.currentMCPError = ""
	st.errorStreak = 0
	st.errorStack = nil

	m.hub.Publish(diag.KindCommand, conversationID,
		"recache applied: %d selections -> %d registers", len(selections), len(rebuilt))
}

// checkConsistency logs (never raises) violations of the sequence
// invariants: adjacent placeholders and non-odd length.
func (m *Manager) checkConsistency(conversationID string, regs []register.Register) {
	for i := 1; i < len(regs); i++ {
		if regs[i-1].Placeholder && regs[i].Placeholder {
			m.hub.Publish(diag.KindConsistency, conversationID,
				"FATAL: consecutive placeholders at positions %d,%d", regs[i-1].Position, regs[i].Position)
		}
	}
	if len(regs)%2 == 0 {
		m.hub.Publish(diag.KindConsistency, conversationID,
			"WARN: rebuilt sequence has even length %d", len(regs))
	}
}

// runOversize offloads oversized registers and persists the stubs.
func (m *Manager) runOversize(st *conversationState, conversationID string) {
	if m.offloader == nil {
		return
	}
	regs := st.store.InWindow()
	offloaded := m.offloader.Process(conversationID, regs)
	for _, pos := range offloaded {
		for _, r := range regs {
			if r.Position == pos {
				st.store.Update(pos, r)
				m.hub.Publish(diag.KindOffload, conversationID,
					"register %d offloaded to %s", pos, r.Offload.Path)
				break
			}
		}
	}
}

// runJIT cleans a prior injection, then either injects a fresh JIT block,
// truncates the latest user message, or refreshes the usage display.
func (m *Manager) runJIT(st *conversationState, conversationID, systemPrompt string) {
	regs := st.store.InWindow()
	if len(regs) == 0 {
		return
	}

	if st.jitActive {
		msgs := make([]message.Message, len(regs))
		for i, r := range regs {
			msgs[i] = r.Message()
		}
		m.injector.CleanPrior(msgs)
		for i := range regs {
			content := msgs[i].Content
			if regs[i].Position >= st.jitInjectionIndex {
				content = neuralyzer.Scrub(content)
			}
			if content != regs[i].Content {
				regs[i].Content = content
				st.store.Update(regs[i].Position, regs[i])
			}
		}
		st.jitActive = false
		st.jitInjectionIndex = 0
		m.hub.Publish(diag.KindJITClean, conversationID, "previous JIT block cleaned")
		regs = st.store.InWindow()
	}

	msgs := make([]message.Message, len(regs))
	for i, r := range regs {
		msgs[i] = r.Message()
	}
	total := m.injector.TotalTokens(systemPrompt, msgs)
	pct := m.injector.Percentage(total)

	lastUserPos := lastUserPosition(regs)
	if lastUserPos == 0 {
		return
	}
	lastUser, _ := st.store.At(lastUserPos)

	if m.injector.ShouldInject(pct) {
		block, err := m.injector.BuildInjection(st.source, st.currentMCPError, regs)
		if err != nil {
			m.logger.Error("jit: building injection failed", "error", err)
			return
		}
		st.preservedUser = lastUser.Content
		st.hasPreserved = true
		lastUser.Content = block
		st.store.Update(lastUserPos, lastUser)
		st.jitActive = true
		st.jitInjectionIndex = lastUserPos
		m.hub.Publish(diag.KindJITInject, conversationID,
			"JIT block injected at position %d (usage %d%%)", lastUserPos, pct)
		return
	}

	systemTokens := m.counter.Count(systemPrompt)
	otherTokens := total - systemTokens - m.counter.Count(lastUser.Content)
	budget := m.injector.MessageBudget(systemTokens, otherTokens)
	if truncated, ok := m.injector.TruncateUserMessage(lastUser.Content, budget); ok {
		lastUser.Content = truncated
		st.store.Update(lastUserPos, lastUser)
		return
	}

	if updated := m.injector.ApplyUsageDisplay(lastUser.Content, pct); updated != lastUser.Content {
		lastUser.Content = updated
		st.store.Update(lastUserPos, lastUser)
	}
}

// systemBlocks renders the outbound system prompt, substituting the bot role
// into the fixed #Role: line when a bot ID is supplied and appending the
// secondary cacheable block when set.
func (m *Manager) systemBlocks(st *conversationState, systemPrompt, botID string) []message.SystemBlock {
	if botID != "" {
		systemPrompt = roleLine.ReplaceAllString(systemPrompt, "#Role: "+botID)
	}
	blocks := []message.SystemBlock{{Text: systemPrompt, Cache: true}}
	if st.system2Content != "" {
		blocks = append(blocks, message.SystemBlock{Text: st.system2Content, Cache: true})
	}
	return blocks
}

// lastUserPosition returns the position of the final user register, or 0.
func lastUserPosition(regs []register.Register) int {
	for i := len(regs) - 1; i >= 0; i-- {
		if regs[i].Role == message.RoleUser {
			return regs[i].Position
		}
	}
	return 0
}
