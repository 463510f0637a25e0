// Package sqlite implements the offload audit index: a persistent record of
// every oversize offload (file path, conversation, token counts, timestamps)
// so operators and the retention sweeper can find and reap offload files.
// It uses modernc.org/sqlite (pure Go, no CGO) with WAL mode. Window state
// itself is never persisted here; losing the database loses only audit data.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tokenwindow/twm/internal/core"
	"github.com/tokenwindow/twm/internal/oversize"

	_ "modernc.org/sqlite" // SQLite driver registration
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ oversize.Index    = (*Index)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

const (
	defaultDBFile      = "twm.db"
	defaultBusyTimeout = 5000 // milliseconds
)

// Config holds the module configuration.
type Config struct {
	// Path to the database file. Defaults to <data dir>/twm.db.
	Path string `yaml:"path" json:"path"`
}

// Module wires the index into the application lifecycle.
type Module struct {
	config Config
	db     *sql.DB
	logger *slog.Logger
	index  *Index
}

// Index records and queries offload entries.
type Index struct {
	db *sql.DB
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "store.sqlite",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger

	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	index, db, err := Open(m.config.Path)
	if err != nil {
		return err
	}
	m.db = db
	m.index = index

	ctx.RegisterService("offload.index", m.index)
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(context.Context) error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// Open opens (creating if needed) the index database at path. The caller is
// responsible for closing the returned *sql.DB.
//
// The database uses WAL mode, a 5 s busy timeout, and a single connection
// (SQLite serialises writes). The schema is migrated automatically.
func Open(path string) (*Index, *sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return &Index{db: db}, db, nil
}

// migrate creates the schema.
func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS offloads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	register_position INTEGER NOT NULL,
	path TEXT NOT NULL UNIQUE,
	original_tokens INTEGER NOT NULL,
	retained_tokens INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_offloads_created ON offloads(created_at);
CREATE INDEX IF NOT EXISTS idx_offloads_conversation ON offloads(conversation_id);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Record implements oversize.Index.
func (ix *Index) Record(e oversize.IndexEntry) error {
	_, err := ix.db.Exec(
		`INSERT INTO offloads (conversation_id, register_position, path, original_tokens, retained_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ConversationID, e.RegisterPosition, e.Path,
		e.OriginalTokenCount, e.RetainedTokenCount, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: record offload: %w", err)
	}
	return nil
}

// OlderThan returns the paths of offloads created before cutoff.
func (ix *Index) OlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT path FROM offloads WHERE created_at < ? ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query offloads: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("sqlite: scan offload: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// Forget removes the index row for a path after its file has been deleted.
func (ix *Index) Forget(ctx context.Context, path string) error {
	if _, err := ix.db.ExecContext(ctx, `DELETE FROM offloads WHERE path = ?`, path); err != nil {
		return fmt.Errorf("sqlite: forget %s: %w", path, err)
	}
	return nil
}

// ByConversation returns the offload entries for one conversation, newest
// first.
func (ix *Index) ByConversation(ctx context.Context, conversationID string) ([]oversize.IndexEntry, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT conversation_id, register_position, path, original_tokens, retained_tokens, created_at
		 FROM offloads WHERE conversation_id = ? ORDER BY created_at DESC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query conversation offloads: %w", err)
	}
	defer rows.Close()

	var entries []oversize.IndexEntry
	for rows.Next() {
		var e oversize.IndexEntry
		if err := rows.Scan(&e.ConversationID, &e.RegisterPosition, &e.Path,
			&e.OriginalTokenCount, &e.RetainedTokenCount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan offload entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
