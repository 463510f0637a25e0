package diag_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tokenwindow/twm/internal/diag"
)

func TestHub_FileSink(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "twp.txt")
	h := diag.NewHub()
	if err := h.OpenFileSink(path); err != nil {
		t.Fatalf("OpenFileSink: %v", err)
	}
	defer h.Close()

	h.Publish(diag.KindTurn, "conv-1", "rewrote %d messages", 5)
	h.Publish(diag.KindOffload, "conv-1", "offloaded register 3")

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading sink: %v", err)
	}
	text := string(raw)
	for _, want := range []string{"turn [conv-1]", "rewrote 5 messages", "offload", "offloaded register 3"} {
		if !strings.Contains(text, want) {
			t.Errorf("log missing %q:\n%s", want, text)
		}
	}
}

func TestHub_SubscribeAndCancel(t *testing.T) {
	t.Parallel()

	h := diag.NewHub()
	ch, cancel := h.Subscribe()

	h.Publish(diag.KindCommand, "c", "applied")
	e := <-ch
	if e.Kind != diag.KindCommand || e.Message != "applied" {
		t.Errorf("event = %+v", e)
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	// Double cancel is safe.
	cancel()

	// Publishing after cancel must not panic.
	h.Publish(diag.KindCommand, "c", "after cancel")
}

func TestHub_SlowSubscriberDropsEvents(t *testing.T) {
	t.Parallel()

	h := diag.NewHub()
	_, cancel := h.Subscribe()
	defer cancel()

	// Far beyond the buffer; Publish must never block.
	for i := 0; i < 1000; i++ {
		h.Publish(diag.KindTurn, "c", "event")
	}
}
