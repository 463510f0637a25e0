// Package diag publishes notable pipeline events (turn rewrites, JIT
// injections, offloads, command outcomes) to an append-only diagnostic file
// and to in-process subscribers such as the gateway's WebSocket stream.
package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Event kinds.
const (
	KindTurn        = "turn"
	KindJITInject   = "jit_inject"
	KindJITClean    = "jit_clean"
	KindOffload     = "offload"
	KindCommand     = "command"
	KindErrorStreak = "error_streak"
	KindConsistency = "consistency"
)

// Event is one notable pipeline occurrence.
type Event struct {
	Time           time.Time `json:"time"`
	Kind           string    `json:"kind"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Message        string    `json:"message"`
}

// Hub fans events out to subscribers and, when configured, to the diagnostic
// file. Publish never blocks: a subscriber that falls behind drops events.
type Hub struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextSub int
	file    *os.File
	now     func() time.Time
}

// NewHub creates a hub without a file sink.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[int]chan Event),
		now:  time.Now,
	}
}

// OpenFileSink attaches the append-only diagnostic file, creating parent
// directories as needed.
func (h *Hub) OpenFileSink(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("diag: create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("diag: open %s: %w", path, err)
	}
	h.mu.Lock()
	h.file = f
	h.mu.Unlock()
	return nil
}

// Close releases the file sink.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return nil
	}
	err := h.file.Close()
	h.file = nil
	return err
}

// Publish records an event. The conversation ID may be empty for
// process-level events.
func (h *Hub) Publish(kind, conversationID, format string, args ...any) {
	e := Event{
		Time:           h.now().UTC(),
		Kind:           kind,
		ConversationID: conversationID,
		Message:        fmt.Sprintf(format, args...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.file != nil {
		fmt.Fprint(h.file, formatEntry(e))
	}
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a subscriber. The returned cancel function must be
// called to release it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSub
	h.nextSub++
	ch := make(chan Event, 64)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// formatEntry renders one multi-line log entry.
func formatEntry(e Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s %s", e.Time.Format(time.RFC3339), e.Kind)
	if e.ConversationID != "" {
		fmt.Fprintf(&b, " [%s]", e.ConversationID)
	}
	b.WriteString("\n")
	b.WriteString(e.Message)
	if !strings.HasSuffix(e.Message, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}
