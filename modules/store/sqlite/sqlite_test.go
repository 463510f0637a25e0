package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tokenwindow/twm/internal/oversize"
	"github.com/tokenwindow/twm/modules/store/sqlite"
)

func openIndex(t *testing.T) *sqlite.Index {
	t.Helper()
	ix, db, err := sqlite.Open(filepath.Join(t.TempDir(), "twm.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return ix
}

func entry(conv string, pos int, path string, created time.Time) oversize.IndexEntry {
	return oversize.IndexEntry{
		ConversationID:     conv,
		RegisterPosition:   pos,
		Path:               path,
		OriginalTokenCount: 5000,
		RetainedTokenCount: 120,
		CreatedAt:          created,
	}
}

func TestRecordAndQuery(t *testing.T) {
	t.Parallel()

	ix := openIndex(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := ix.Record(entry("conv-a", 3, "/tmp/a.txt", now.Add(-2*time.Hour))); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := ix.Record(entry("conv-a", 7, "/tmp/b.txt", now)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := ix.Record(entry("conv-b", 1, "/tmp/c.txt", now)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	old, err := ix.OlderThan(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("OlderThan: %v", err)
	}
	if len(old) != 1 || old[0] != "/tmp/a.txt" {
		t.Errorf("OlderThan = %v, want [/tmp/a.txt]", old)
	}

	entries, err := ix.ByConversation(ctx, "conv-a")
	if err != nil {
		t.Fatalf("ByConversation: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ByConversation count = %d, want 2", len(entries))
	}
	if entries[0].Path != "/tmp/b.txt" {
		t.Errorf("entries not newest-first: %+v", entries)
	}
	if entries[0].OriginalTokenCount != 5000 || entries[0].RetainedTokenCount != 120 {
		t.Errorf("token counts lost: %+v", entries[0])
	}
}

func TestForget(t *testing.T) {
	t.Parallel()

	ix := openIndex(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := ix.Record(entry("conv", 1, "/tmp/x.txt", now.Add(-time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := ix.Forget(ctx, "/tmp/x.txt"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	old, err := ix.OlderThan(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(old) != 0 {
		t.Errorf("entry survived Forget: %v", old)
	}
	// Forgetting an absent path is not an error.
	if err := ix.Forget(ctx, "/tmp/absent.txt"); err != nil {
		t.Errorf("Forget(absent) = %v", err)
	}
}

func TestDuplicatePathRejected(t *testing.T) {
	t.Parallel()

	ix := openIndex(t)
	now := time.Now().UTC()
	if err := ix.Record(entry("conv", 1, "/tmp/dup.txt", now)); err != nil {
		t.Fatal(err)
	}
	if err := ix.Record(entry("conv", 2, "/tmp/dup.txt", now)); err == nil {
		t.Error("duplicate path should violate the unique constraint")
	}
}
