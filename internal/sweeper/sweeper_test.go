package sweeper_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tokenwindow/twm/internal/core"
	"github.com/tokenwindow/twm/internal/sweeper"
)

// fakeIndex lists fixed paths and records forgets.
type fakeIndex struct {
	paths     []string
	forgotten []string
}

func (f *fakeIndex) OlderThan(context.Context, time.Time) ([]string, error) {
	return f.paths, nil
}

func (f *fakeIndex) Forget(_ context.Context, path string) error {
	f.forgotten = append(f.forgotten, path)
	return nil
}

func newModule(t *testing.T, cfg sweeper.Config, index *fakeIndex) *sweeper.Module {
	t.Helper()
	m := &sweeper.Module{}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	if err := m.Configure(doc.Content[0]); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	appCtx := core.NewAppContext(slog.Default(), t.TempDir())
	if index != nil {
		appCtx.RegisterService("offload.index", index)
	}
	if err := m.Provision(appCtx.ForModule("maintenance.sweeper")); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { m.Stop(context.Background()) })
	return m
}

func TestSweep_DeletesIndexedFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	old := filepath.Join(dir, "large_message_conv_1_old.txt")
	if err := os.WriteFile(old, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	index := &fakeIndex{paths: []string{old}}
	m := newModule(t, sweeper.Config{
		Schedule:      "0 * * * *",
		Retention:     "1h",
		TempDirectory: dir,
	}, index)

	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("indexed file not deleted")
	}
	if len(index.forgotten) != 1 || index.forgotten[0] != old {
		t.Errorf("forgotten = %v", index.forgotten)
	}
}

func TestSweep_DirectoryScanRespectsAgeAndPrefix(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	oldOffload := filepath.Join(dir, "large_message_conv_2_x.txt")
	fresh := filepath.Join(dir, "large_message_conv_3_y.txt")
	unrelated := filepath.Join(dir, "notes.txt")
	for _, p := range []string{oldOffload, fresh, unrelated} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	stale := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(oldOffload, stale, stale); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(unrelated, stale, stale); err != nil {
		t.Fatal(err)
	}

	m := newModule(t, sweeper.Config{
		Schedule:      "0 * * * *",
		Retention:     "1h",
		TempDirectory: dir,
	}, nil)

	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := os.Stat(oldOffload); !os.IsNotExist(err) {
		t.Error("stale offload survived")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh offload deleted")
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Error("unrelated file deleted")
	}
}

func TestValidate_BadSchedule(t *testing.T) {
	t.Parallel()

	m := &sweeper.Module{}
	appCtx := core.NewAppContext(slog.Default(), t.TempDir())

	raw := []byte(`{"schedule": "nonsense", "retention": "1h"}`)
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	if err := m.Configure(doc.Content[0]); err != nil {
		t.Fatal(err)
	}
	if err := m.Provision(appCtx.ForModule("maintenance.sweeper")); err != nil {
		t.Fatal(err)
	}
	if err := m.Validate(); err == nil {
		t.Error("Validate should reject a bad schedule")
	}
}
