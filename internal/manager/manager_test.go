package manager_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/tokenwindow/twm/internal/config"
	"github.com/tokenwindow/twm/internal/manager"
	"github.com/tokenwindow/twm/pkg/message"
)

const (
	externalPrompt = "EXTERNAL SYSTEM PROMPT\n#Role: assistant\n"
	internalPrompt = "JIT-RESHAPE-INSTRUCTIONS\n#Role: assistant\n"
)

// newManager builds a manager with the scenario constants from the design
// notes: 1 token per 4 characters, a 1000-token window, an 80% JIT
// threshold, and the default placeholder template.
func newManager(t *testing.T) *manager.Manager {
	t.Helper()
	dir := t.TempDir()

	external := filepath.Join(dir, "twp.txt")
	internal := filepath.Join(dir, "twp_bak.txt")
	if err := os.WriteFile(external, []byte(externalPrompt), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(internal, []byte(internalPrompt), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := (&config.Config{
		MaxWindowSize: 1000,
		// An unknown family selects the plain 4-chars-per-token counter.
		ModelFamily: "test",
		JITInstruction: config.JITConfig{
			Threshold:          80,
			PromptFile:         external,
			InternalPromptFile: internal,
			WindowUsagePattern: config.UsagePattern{
				DetectionText:   "tokens used",
				SearchRegex:     `\(\d+%\)`,
				ReplaceTemplate: "({percentage}%)",
			},
			AssistantCleaning: []config.CleaningRule{
				{Search: `(?s)JIT-RESHAPE-INSTRUCTIONS.*?Current message window:`, Replace: ""},
			},
		},
		OversizedMessageHandling: config.OversizeConfig{
			Enabled:          true,
			ThresholdPercent: 25,
			TruncateToTokens: 100,
			TempDirectory:    filepath.Join(dir, "temp"),
		},
		PlaceholderMessages: config.PlaceholderConfig{Enabled: true, Template: "Message {position}"},
	}).WithDefaults()

	m, err := manager.New(&cfg, manager.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func turn(t *testing.T, m *manager.Manager, id string, msgs ...message.Message) message.TurnResult {
	t.Helper()
	res, err := m.ProcessRequest(context.Background(), message.TurnRequest{
		ConversationID: id,
		Messages:       msgs,
	})
	if err != nil {
		t.Fatalf("ProcessRequest: %v", err)
	}
	return res
}

func user(content string) message.Message {
	return message.Message{Role: message.RoleUser, Content: content}
}

func assistant(content string) message.Message {
	return message.Message{Role: message.RoleAssistant, Content: content}
}

func recacheXML(list string) string {
	return `<use_mcp_tool><server_name>tokenwindow-local</server_name>` +
		`<tool_name>recache_message_array</tool_name>` +
		`<arguments>{"messages":"` + list + `"}</arguments></use_mcp_tool>`
}

func TestBasicAccumulation(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	id := "acc"

	res := turn(t, m, id, user("hi"))
	if len(res.Messages) != 1 || res.Messages[0].Content != "hi" {
		t.Fatalf("first turn messages = %+v", res.Messages)
	}
	stats := m.GetCacheStats(id)
	if stats.CacheCreationInputTokens != 1 || stats.CacheReadInputTokens != 0 {
		t.Errorf("first turn stats = %+v, want creation 1, read 0", stats)
	}
	if bp := m.GetWindowState(id).CacheBreakpoint; bp != 1 {
		t.Errorf("breakpoint = %d, want 1", bp)
	}

	res = turn(t, m, id, user("hi"), assistant("hello"), user("more"))
	if len(res.Messages) != 3 {
		t.Fatalf("second turn length = %d, want 3", len(res.Messages))
	}
	stats = m.GetCacheStats(id)
	// creation = tokens("hello") + tokens("more"), read = tokens("hi").
	if stats.CacheCreationInputTokens != 4 || stats.CacheReadInputTokens != 1 {
		t.Errorf("second turn stats = %+v", stats)
	}
	if bp := m.GetWindowState(id).CacheBreakpoint; bp != 3 {
		t.Errorf("breakpoint = %d, want 3", bp)
	}
}

func TestEmptyClientList(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	res := turn(t, m, "empty")
	if len(res.Messages) != 0 {
		t.Errorf("messages = %+v, want empty", res.Messages)
	}
	if stats := m.GetCacheStats("empty"); stats != (message.CacheStats{}) {
		t.Errorf("stats = %+v, want zero", stats)
	}
}

// seed drives alternating turns until the store holds 2n-1 registers.
func seed(t *testing.T, m *manager.Manager, id string, n int) []message.Message {
	t.Helper()
	msgs := []message.Message{user("question 1")}
	turn(t, m, id, msgs...)
	for i := 2; i <= n; i++ {
		msgs = append(msgs, assistant("answer"), user("question next"))
		turn(t, m, id, msgs...)
	}
	return msgs
}

func TestValidRecache(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	id := "recache"

	// Build a 9-register window: U A U A U A U A U.
	msgs := seed(t, m, id, 5)
	if got := len(m.GetWindowState(id).Registers); got != 9 {
		t.Fatalf("seeded registers = %d, want 9", got)
	}

	// The model answers with a recache plus prose; the client follows up.
	msgs = append(msgs,
		assistant("Reshaping now.\n"+recacheXML("1-2,7")+"\nkept the early part."),
		user("fresh question"))
	res := turn(t, m, id, msgs...)

	// Selections 1,2,7 (renumbered), scrubbed assistant tail, anchoring user.
	if len(res.Messages) != 5 {
		t.Fatalf("rebuilt length = %d, want 5: %+v", len(res.Messages), res.Messages)
	}
	if res.Messages[0].Content != "question 1" {
		t.Errorf("register 1 = %q, want original first question", res.Messages[0].Content)
	}
	if res.Messages[4].Content != "fresh question" {
		t.Errorf("anchor = %q, want the new user message", res.Messages[4].Content)
	}
	tail := res.Messages[3].Content
	if strings.Contains(tail, "recache_message_array") || strings.Contains(tail, "use_mcp_tool") {
		t.Errorf("invocation survived in tail: %q", tail)
	}
	if strings.Contains(tail, "1-2") || strings.Contains(tail, "7") {
		t.Errorf("numeric references survived in tail: %q", tail)
	}
	if !strings.Contains(tail, "Reshaping now") {
		t.Errorf("prose lost from tail: %q", tail)
	}

	ws := m.GetWindowState(id)
	if ws.CacheBreakpoint != 5 {
		t.Errorf("breakpoint = %d, want 5", ws.CacheBreakpoint)
	}
	if ws.ErrorStreak != 0 {
		t.Errorf("error streak = %d after success", ws.ErrorStreak)
	}
}

func TestInvalidPositions(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	id := "invalid"

	// Three seeded registers; the command turn appends two more → 5 total.
	msgs := seed(t, m, id, 2)
	msgs = append(msgs,
		assistant("Trying.\n"+recacheXML("1-4,25")),
		user("latest question"))
	res := turn(t, m, id, msgs...)

	last := res.Messages[len(res.Messages)-1]
	if last.Role != message.RoleUser {
		t.Fatalf("last message role = %s", last.Role)
	}
	if !strings.HasPrefix(last.Content, "[use_mcp_tool] Result: ERROR: INVALID MESSAGE NUMBERS: 25 do not exist") {
		t.Errorf("error content = %q", last.Content)
	}
	if !strings.Contains(last.Content, "Your current window has 5 messages (valid range: 1-5)") {
		t.Errorf("error content missing range: %q", last.Content)
	}

	if streak := m.GetWindowState(id).ErrorStreak; streak != 1 {
		t.Errorf("error streak = %d, want 1", streak)
	}
	// The window was not rebuilt.
	if got := len(m.GetWindowState(id).Registers); got != 5 {
		t.Errorf("registers = %d, want 5 (no rebuild)", got)
	}
}

func TestPlaceholderSelection(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	id := "placeholder"

	// Force a rebuild that inserts a placeholder: select two users in a row.
	msgs := seed(t, m, id, 3) // 5 registers
	msgs = append(msgs,
		assistant(recacheXML("1,3")),
		user("after reshape"))
	turn(t, m, id, msgs...)

	ws := m.GetWindowState(id)
	var placeholderPos int
	for _, r := range ws.Registers {
		if r.Placeholder {
			placeholderPos = r.Position
			break
		}
	}
	if placeholderPos == 0 {
		t.Fatalf("no placeholder in rebuilt window: %+v", ws.Registers)
	}

	// Selecting the placeholder individually is rejected with suggestions.
	count := len(ws.Registers)
	msgs2 := make([]message.Message, count)
	for i, r := range ws.Registers {
		msgs2[i] = message.Message{Role: r.Role, Content: r.Content}
	}
	msgs2 = append(msgs2,
		assistant(recacheXML(strconv.Itoa(placeholderPos))),
		user("again"))
	res := turn(t, m, id, msgs2...)

	last := res.Messages[len(res.Messages)-1]
	if !strings.Contains(last.Content, "PLACEHOLDER MESSAGES SELECTED") {
		t.Errorf("expected placeholder rejection, got %q", last.Content)
	}
	if m.GetWindowState(id).ErrorStreak != 1 {
		t.Errorf("error streak = %d, want 1", m.GetWindowState(id).ErrorStreak)
	}
}

func TestJITInjectionAndCleaning(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	id := "jit"

	// Four ~200-token messages: each under the 250-token oversize line, the
	// total over the 800-token JIT threshold.
	chunk := strings.Repeat("word ", 160) // 800 chars ≈ 201 tokens
	msgs := []message.Message{user(chunk)}
	turn(t, m, id, msgs...)
	msgs = append(msgs, assistant(chunk), user(chunk))
	turn(t, m, id, msgs...)
	msgs = append(msgs, assistant(chunk), user("the real question"))
	res := turn(t, m, id, msgs...)

	last := res.Messages[len(res.Messages)-1]
	if !strings.Contains(last.Content, "JIT-RESHAPE-INSTRUCTIONS") {
		t.Fatalf("JIT block not injected: %q", truncateForLog(last.Content))
	}
	if !strings.Contains(last.Content, "Current message window:") {
		t.Errorf("register map missing: %q", truncateForLog(last.Content))
	}

	ws := m.GetWindowState(id)
	if !ws.JITActive || !ws.PreservedUserSet {
		t.Errorf("state = jitActive %v, preserved %v", ws.JITActive, ws.PreservedUserSet)
	}

	// Next turn without a recache: the block is cleaned before any new
	// injection decision.
	msgs = append(msgs, assistant("plain reply"), user("tiny"))
	turn(t, m, id, msgs...)
	if m.GetWindowState(id).JITActive {
		// A re-injection may fire if usage is still over threshold; what
		// must not survive is the stale block in the middle of the window.
		for _, r := range m.GetWindowState(id).Registers[:len(m.GetWindowState(id).Registers)-1] {
			if strings.Contains(r.Content, "JIT-RESHAPE-INSTRUCTIONS") {
				t.Errorf("stale JIT block at position %d", r.Position)
			}
		}
	}
}

func TestToolResultSwapRestoresPreservedUser(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	id := "swap"

	chunk := strings.Repeat("word ", 160)
	msgs := []message.Message{user(chunk), assistant(chunk), user(chunk), assistant(chunk), user("my real question")}
	turn(t, m, id, msgs...)

	if !m.GetWindowState(id).PreservedUserSet {
		t.Fatal("JIT should have preserved the user message")
	}

	// The model reshapes and wraps its reply as a recache tool result; the
	// swap restores the original question ahead of the rebuild.
	msgs = append(msgs,
		assistant("ok "+recacheXML("1")),
		user("[use_mcp_tool for tokenwindow-local: recache_message_array] Result: reshaped"))
	res := turn(t, m, id, msgs...)

	found := false
	for _, msg := range res.Messages {
		if msg.Content == "my real question" {
			found = true
		}
	}
	if !found {
		t.Errorf("preserved user not restored: %+v", res.Messages)
	}
	ws := m.GetWindowState(id)
	if ws.PreservedUserSet {
		t.Error("preserved user should be cleared after swap")
	}
	if ws.ErrorStreak != 0 {
		t.Errorf("error streak = %d, want reset", ws.ErrorStreak)
	}
}

func TestOversizeOffload(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	id := "oversize"

	big := strings.Repeat("lorem ipsum ", 5000) // 60000 chars ≈ 15001 tokens
	res := turn(t, m, id, user(big))

	content := res.Messages[0].Content
	if !strings.Contains(content, "large_message_") {
		t.Errorf("stub missing offload path: %q", truncateForLog(content))
	}
	if !strings.Contains(content, "TRUNCATED - Full content saved to disk") {
		t.Errorf("stub text missing: %q", truncateForLog(content))
	}

	ws := m.GetWindowState(id)
	ref := ws.Registers[0].Offload
	if ref == nil {
		t.Fatal("offload ref not recorded")
	}
	raw, err := os.ReadFile(ref.Path)
	if err != nil {
		t.Fatalf("reading offload file: %v", err)
	}
	if string(raw) != big {
		t.Error("offload file does not hold the original bytes verbatim")
	}
}

func TestIdempotentTurns(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	id := "idem"

	msgs := []message.Message{user("hello"), assistant("world"), user("next")}
	first := turn(t, m, id, msgs...)
	second := turn(t, m, id, msgs...)

	if len(first.Messages) != len(second.Messages) {
		t.Fatalf("lengths differ: %d vs %d", len(first.Messages), len(second.Messages))
	}
	for i := range first.Messages {
		if first.Messages[i] != second.Messages[i] {
			t.Errorf("message %d differs: %+v vs %+v", i, first.Messages[i], second.Messages[i])
		}
	}
}

func TestResetRestoresFreshBehavior(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	id := "reset"

	fresh := turn(t, m, id, user("hi"))
	freshStats := m.GetCacheStats(id)

	turn(t, m, id, user("hi"), assistant("yo"), user("more"))
	m.Reset(id)

	again := turn(t, m, id, user("hi"))
	if len(again.Messages) != len(fresh.Messages) || again.Messages[0] != fresh.Messages[0] {
		t.Errorf("post-reset result differs: %+v vs %+v", again.Messages, fresh.Messages)
	}
	if got := m.GetCacheStats(id); got != freshStats {
		t.Errorf("post-reset stats = %+v, want %+v", got, freshStats)
	}
}

func TestFullWindowRecacheIsIdentityOnSelections(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	id := "identity"

	msgs := seed(t, m, id, 2) // U A U
	msgs = append(msgs, assistant("prose "+recacheXML("1-3")), user("tail user"))
	res := turn(t, m, id, msgs...)

	// Original three registers in order, then tail, then anchor.
	if len(res.Messages) != 5 {
		t.Fatalf("length = %d, want 5", len(res.Messages))
	}
	if res.Messages[0].Content != "question 1" {
		t.Errorf("first = %q", res.Messages[0].Content)
	}
	if res.Messages[1].Role != message.RoleAssistant || res.Messages[2].Role != message.RoleUser {
		t.Errorf("order not preserved: %+v", res.Messages[:3])
	}
}

func TestBotRoleSubstitution(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	res, err := m.ProcessRequest(context.Background(), message.TurnRequest{
		ConversationID: "bots",
		Messages:       []message.Message{user("hi")},
		BotID:          "navigator",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.SystemText(), "#Role: navigator") {
		t.Errorf("system prompt role not substituted: %q", res.SystemText())
	}
}

func TestSystem2EmitsTwoBlocks(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	m.SetSystem2Content("sys2", "secondary block")
	res := turn(t, m, "sys2", user("hi"))
	if len(res.System) != 2 || res.System[1].Text != "secondary block" {
		t.Errorf("system blocks = %+v", res.System)
	}
	for _, b := range res.System {
		if !b.Cache {
			t.Error("system blocks must be cache-tagged")
		}
	}
}

func TestRejectsUnknownRole(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	_, err := m.ProcessRequest(context.Background(), message.TurnRequest{
		ConversationID: "bad",
		Messages:       []message.Message{{Role: "tool", Content: "x"}},
	})
	if err == nil {
		t.Fatal("unknown role must be rejected")
	}
}

func truncateForLog(s string) string {
	if len(s) > 200 {
		return s[:200] + "…"
	}
	return s
}
