// Package sweeper deletes oversize offload files past their retention
// window on a cron schedule. The offload audit index, when present, drives
// the sweep; a directory scan catches files written while the index was
// unavailable.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/tokenwindow/twm/internal/core"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Index is the slice of the offload audit index the sweeper needs.
type Index interface {
	OlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
	Forget(ctx context.Context, path string) error
}

// Config holds the module configuration.
type Config struct {
	// Schedule is a five-field cron expression.
	Schedule string `yaml:"schedule" json:"schedule"`

	// Retention is a Go duration; offload files older than this are
	// deleted.
	Retention string `yaml:"retention" json:"retention"`

	// TempDirectory is scanned for offload files missing from the index.
	TempDirectory string `yaml:"tempDirectory" json:"tempDirectory"`
}

// Module runs the retention sweep.
type Module struct {
	config    Config
	retention time.Duration
	logger    *slog.Logger
	appCtx    *core.AppContext
	cron      *cron.Cron
	index     Index

	// running prevents overlapping sweeps: a tick that fires while the
	// previous sweep is still deleting is skipped (TryLock is atomic).
	running sync.Mutex
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "maintenance.sweeper",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sweeper: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger
	m.appCtx = ctx

	var err error
	m.retention, err = time.ParseDuration(m.config.Retention)
	if err != nil {
		return fmt.Errorf("sweeper: invalid retention %q: %w", m.config.Retention, err)
	}
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.config.Schedule == "" {
		return errors.New("sweeper: schedule is required")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(m.config.Schedule); err != nil {
		return fmt.Errorf("sweeper: invalid schedule %q: %w", m.config.Schedule, err)
	}
	return nil
}

// Start implements core.Starter. The index is resolved lazily here so module
// load order does not matter.
func (m *Module) Start() error {
	if svc, ok := m.appCtx.Service("offload.index"); ok {
		if ix, ok := svc.(Index); ok {
			m.index = ix
		}
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	m.cron = cron.New(cron.WithParser(parser))

	_, err := m.cron.AddFunc(m.config.Schedule, func() {
		if !m.running.TryLock() {
			m.logger.Warn("sweeper: previous sweep still running, skipping tick")
			return
		}
		defer m.running.Unlock()

		if err := m.Sweep(context.Background()); err != nil {
			m.logger.Error("sweeper: sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("sweeper: scheduling: %w", err)
	}

	m.cron.Start()
	m.logger.Info("sweeper started", "schedule", m.config.Schedule, "retention", m.retention)
	return nil
}

// Stop implements core.Stopper, waiting for an in-flight sweep.
func (m *Module) Stop(context.Context) error {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	return nil
}

// Sweep deletes offload files older than the retention window. Index-listed
// files are removed first (and forgotten), then the temp directory is
// scanned for stragglers.
func (m *Module) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-m.retention)
	deleted := 0

	if m.index != nil {
		paths, err := m.index.OlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		for _, path := range paths {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				m.logger.Warn("sweeper: delete failed", "path", path, "error", err)
				continue
			}
			if err := m.index.Forget(ctx, path); err != nil {
				m.logger.Warn("sweeper: index forget failed", "path", path, "error", err)
			}
			deleted++
		}
	}

	n, err := m.sweepDirectory(cutoff)
	deleted += n
	if deleted > 0 {
		m.logger.Info("sweeper: sweep complete", "deleted", deleted)
	}
	return err
}

// sweepDirectory removes offload files in the temp directory older than
// cutoff that the index pass did not cover.
func (m *Module) sweepDirectory(cutoff time.Time) (int, error) {
	if m.config.TempDirectory == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(m.config.TempDirectory)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("sweeper: reading %s: %w", m.config.TempDirectory, err)
	}

	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "large_message_") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.config.TempDirectory, entry.Name())
		if err := os.Remove(path); err != nil {
			m.logger.Warn("sweeper: delete failed", "path", path, "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}
