package manager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokenwindow/twm/internal/cachestat"
	"github.com/tokenwindow/twm/internal/config"
	"github.com/tokenwindow/twm/internal/diag"
	"github.com/tokenwindow/twm/internal/jit"
	"github.com/tokenwindow/twm/internal/oversize"
	"github.com/tokenwindow/twm/internal/register"
	"github.com/tokenwindow/twm/internal/token"
	"github.com/tokenwindow/twm/internal/window"
	"github.com/tokenwindow/twm/pkg/message"
)

// roleLine locates the fixed role line inside the system prompt for bot-role
// substitution in shared chats.
var roleLine = regexp.MustCompile(`(?m)^#Role:.*$`)

// Manager owns all conversation state and runs the per-turn pipeline.
// Cross-conversation calls are fully parallel; within a conversation, turns
// are serialized by a per-conversation mutex.
type Manager struct {
	cfg           *config.Config
	counter       token.Counter
	tmpl          register.PlaceholderTemplate
	reconstructor *window.Reconstructor
	offloader     *oversize.Offloader
	injector      *jit.Injector
	accountant    *cachestat.Accountant
	promptCache   *jit.PromptCache
	hub           *diag.Hub
	logger        *slog.Logger
	tracer        trace.Tracer

	mu            sync.RWMutex
	conversations map[string]*conversationState
}

// Options carries the optional collaborators.
type Options struct {
	// OffloadIndex records oversize offloads; nil disables auditing.
	OffloadIndex oversize.Index

	// Hub receives diagnostic events; nil creates a sinkless hub.
	Hub *diag.Hub

	Logger *slog.Logger
}

// New builds a Manager from validated configuration. The JIT prompt cache is
// owned by the returned manager; Close releases it.
func New(cfg *config.Config, opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := opts.Hub
	if hub == nil {
		hub = diag.NewHub()
	}

	counter := token.ForFamily(cfg.ModelFamily)
	tmpl := register.NewPlaceholderTemplate(cfg.PlaceholderMessages.Template)

	cache, err := jit.NewPromptCache(logger)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:           cfg,
		counter:       counter,
		tmpl:          tmpl,
		reconstructor: window.NewReconstructor(tmpl, logger),
		injector:      jit.NewInjector(counter, cfg.MaxWindowSize, cfg.JITInstruction, cfg.UserMessageTruncation, cache, logger),
		accountant:    cachestat.NewAccountant(counter, logger),
		promptCache:   cache,
		hub:           hub,
		logger:        logger,
		tracer:        otel.Tracer("twm/manager"),
		conversations: make(map[string]*conversationState),
	}
	if cfg.OversizedMessageHandling.Enabled {
		m.offloader = oversize.NewOffloader(counter, oversize.Config{
			Enabled:             true,
			MaxWindowSize:       cfg.MaxWindowSize,
			ThresholdPercent:    cfg.OversizedMessageHandling.ThresholdPercent,
			TruncateToTokens:    cfg.OversizedMessageHandling.TruncateToTokens,
			TempDirectory:       cfg.OversizedMessageHandling.TempDirectory,
			InstructionTemplate: cfg.OversizedMessageHandling.InstructionTemplate,
		}, opts.OffloadIndex, logger)
	}
	return m, nil
}

// Counter exposes the manager's token counter for collaborators that must
// agree with its accounting (the MCP server, the gateway status page).
func (m *Manager) Counter() token.Counter { return m.counter }

// state fetches or lazily creates the conversation state for id.
func (m *Manager) state(id string) *conversationState {
	m.mu.RLock()
	st, ok := m.conversations[id]
	m.mu.RUnlock()
	if ok {
		return st
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok = m.conversations[id]; ok {
		return st
	}
	st = newConversationState()
	m.conversations[id] = st
	return st
}

// GetCacheStats returns the stats computed for the conversation's most
// recent turn. Callers fetch these after ProcessRequest returns for the same
// logical turn.
func (m *Manager) GetCacheStats(conversationID string) message.CacheStats {
	m.mu.RLock()
	st, ok := m.conversations[conversationID]
	m.mu.RUnlock()
	if !ok {
		return message.CacheStats{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastCacheStats
}

// Reset drops all state for the conversation.
func (m *Manager) Reset(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, conversationID)
}

// GetWindowState returns a diagnostic snapshot of the conversation.
func (m *Manager) GetWindowState(conversationID string) WindowState {
	m.mu.RLock()
	st, ok := m.conversations[conversationID]
	m.mu.RUnlock()
	if !ok {
		return WindowState{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return WindowState{
		Registers:         st.store.All(),
		CacheBreakpoint:   st.cacheBreakpoint,
		LastCacheStats:    st.lastCacheStats,
		ErrorStreak:       st.errorStreak,
		PreservedUserSet:  st.hasPreserved,
		JITActive:         st.jitActive,
		JITInjectionIndex: st.jitInjectionIndex,
		Source:            st.source,
	}
}

// SetSystem2Content sets the secondary cacheable system block for a
// conversation. When set, the system prompt is emitted as two cache-tagged
// blocks.
func (m *Manager) SetSystem2Content(conversationID, content string) {
	st := m.state(conversationID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.system2Content = content
}

// Close releases the JIT prompt cache and diagnostic sink.
func (m *Manager) Close() error {
	err := m.promptCache.Close()
	if herr := m.hub.Close(); err == nil {
		err = herr
	}
	return err
}

// loadSystemPrompt reads the live system prompt for the conversation's
// originator. The files are user-editable; they are read fresh every turn.
func (m *Manager) loadSystemPrompt(source message.Source) (string, error) {
	path := m.cfg.JITInstruction.InternalPromptFile
	if source == message.SourceAPI {
		path = m.cfg.JITInstruction.PromptFile
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("manager: loading system prompt %s: %w", path, err)
	}
	return string(raw), nil
}

// span opens a turn span when a tracer provider is installed.
func (m *Manager) span(ctx context.Context, conversationID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "manager.process_request",
		trace.WithAttributes(attribute.String("twm.conversation_id", conversationID)))
}
