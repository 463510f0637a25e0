// Package jit injects the just-in-time window-management instruction block
// into the latest user message once usage crosses the configured threshold,
// cleans prior injections back out, and handles the tool-result swap that
// restores a preserved user message.
package jit

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// PromptCache caches JIT prompt files after first load, invalidating entries
// when the file changes on disk. Editors commonly tweak the prompt
// mid-session; changes must take effect on the next turn without re-reading
// on every turn.
type PromptCache struct {
	mu      sync.Mutex
	files   map[string]string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	done    chan struct{}
}

// NewPromptCache creates a cache with a running file watcher. Callers must
// Close it.
func NewPromptCache(logger *slog.Logger) (*PromptCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("jit: creating prompt watcher: %w", err)
	}
	c := &PromptCache{
		files:   make(map[string]string),
		watcher: watcher,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go c.watch()
	return c, nil
}

// Load returns the prompt file's contents, reading from disk only on the
// first load or after a change event.
func (c *PromptCache) Load(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("jit: resolving %s: %w", path, err)
	}

	c.mu.Lock()
	if text, ok := c.files[abs]; ok {
		c.mu.Unlock()
		return text, nil
	}
	c.mu.Unlock()

	raw, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("jit: reading prompt %s: %w", path, err)
	}
	text := string(raw)

	c.mu.Lock()
	c.files[abs] = text
	c.mu.Unlock()

	// Watch the containing directory: editors replace files by rename, and
	// watching the path directly loses the watch on replacement.
	if err := c.watcher.Add(filepath.Dir(abs)); err != nil {
		c.logger.Warn("jit: prompt watch failed, cache will go stale", "path", abs, "error", err)
	}
	return text, nil
}

// watch invalidates cache entries on file events.
func (c *PromptCache) watch() {
	for {
		select {
		case <-c.done:
			return
		case evt, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			abs, err := filepath.Abs(evt.Name)
			if err != nil {
				continue
			}
			c.mu.Lock()
			if _, cached := c.files[abs]; cached {
				delete(c.files, abs)
				c.logger.Info("jit: prompt cache invalidated", "path", abs, "op", evt.Op.String())
			}
			c.mu.Unlock()
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("jit: prompt watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (c *PromptCache) Close() error {
	close(c.done)
	return c.watcher.Close()
}
