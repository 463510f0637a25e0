// Package oversize detects registers whose content dominates the window,
// writes the full content to disk, and swaps in a preview stub that points
// the model at shell tools instead of re-reading the file whole.
package oversize

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tokenwindow/twm/internal/register"
	"github.com/tokenwindow/twm/internal/token"
)

// defaultStub is the instruction appended after the preview. The wording
// deliberately discourages re-reading the file through the tool that
// produced the bloat in the first place.
const defaultStub = "[TRUNCATED - Full content saved to disk. Use grep, tail, head, wc, sed, awk " +
	"or any other tool to access: %s without crushing your window. Do not use read_file on it " +
	"because I will only truncate it again. As a last resort read the large file in smaller chunks.]"

// IndexEntry describes one offload for the audit index.
type IndexEntry struct {
	ConversationID     string
	RegisterPosition   int
	Path               string
	OriginalTokenCount int
	RetainedTokenCount int
	CreatedAt          time.Time
}

// Index records offloads for later retention decisions. Implemented by the
// SQLite store module; a nil Index disables auditing.
type Index interface {
	Record(entry IndexEntry) error
}

// Offloader replaces oversized register content with on-disk stubs.
type Offloader struct {
	counter       token.Counter
	maxWindow     int
	thresholdPct  int
	previewTokens int
	tempDir       string
	template      string
	index         Index
	logger        *slog.Logger
	now           func() time.Time
}

// Config holds the offloader settings.
type Config struct {
	Enabled             bool
	MaxWindowSize       int
	ThresholdPercent    int
	TruncateToTokens    int
	TempDirectory       string
	InstructionTemplate string
}

// NewOffloader creates an Offloader. A nil index disables audit recording.
func NewOffloader(counter token.Counter, cfg Config, index Index, logger *slog.Logger) *Offloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Offloader{
		counter:       counter,
		maxWindow:     cfg.MaxWindowSize,
		thresholdPct:  cfg.ThresholdPercent,
		previewTokens: cfg.TruncateToTokens,
		tempDir:       cfg.TempDirectory,
		template:      cfg.InstructionTemplate,
		index:         index,
		logger:        logger,
		now:           time.Now,
	}
}

// threshold returns the token count above which (strictly) a register is
// offloaded. Exactly at the threshold is not offloaded.
func (o *Offloader) threshold() int {
	return o.maxWindow * o.thresholdPct / 100
}

// Process offloads every oversized register in regs, mutating contents in
// place. Returns the positions that were offloaded.
func (o *Offloader) Process(conversationID string, regs []register.Register) []int {
	var offloaded []int
	for i := range regs {
		if regs[i].Offload != nil {
			continue
		}
		tokens := o.counter.Count(regs[i].Content)
		if tokens <= o.threshold() {
			continue
		}
		if err := o.offload(conversationID, &regs[i], tokens); err != nil {
			o.logger.Error("oversize: offload failed", "position", regs[i].Position, "error", err)
			continue
		}
		offloaded = append(offloaded, regs[i].Position)
	}
	return offloaded
}

// offload writes the register's content to disk and installs the stub.
func (o *Offloader) offload(conversationID string, r *register.Register, tokens int) error {
	if err := os.MkdirAll(o.tempDir, 0o755); err != nil {
		return fmt.Errorf("oversize: create temp directory: %w", err)
	}

	stamp := o.now().UTC().Format("2006-01-02T15-04-05.000Z")
	name := fmt.Sprintf("large_message_%s_%d_%s.txt", sanitize(conversationID), r.Position, stamp)
	path := filepath.Join(o.tempDir, name)

	if err := os.WriteFile(path, []byte(r.Content), 0o644); err != nil {
		return fmt.Errorf("oversize: write %s: %w", path, err)
	}

	preview := truncateAtWord(r.Content, o.previewTokens*4)
	stub := o.template
	if stub == "" {
		stub = fmt.Sprintf(defaultStub, path)
	} else {
		stub = strings.ReplaceAll(stub, "{path}", path)
	}

	r.Content = preview + "...\n\n" + stub
	r.Offload = &register.OffloadRef{Path: path, OriginalTokenCount: tokens}

	o.logger.Info("oversize: register offloaded",
		"conversation", conversationID, "position", r.Position,
		"tokens", tokens, "path", path)

	if o.index != nil {
		entry := IndexEntry{
			ConversationID:     conversationID,
			RegisterPosition:   r.Position,
			Path:               path,
			OriginalTokenCount: tokens,
			RetainedTokenCount: o.counter.Count(r.Content),
			CreatedAt:          o.now().UTC(),
		}
		if err := o.index.Record(entry); err != nil {
			o.logger.Warn("oversize: index record failed", "path", path, "error", err)
		}
	}
	return nil
}

// truncateAtWord cuts s to at most limit bytes, backing up to the nearest
// word boundary.
func truncateAtWord(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := s[:limit]
	if i := strings.LastIndexAny(cut, " \t\n"); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " \t\n")
}

// sanitize keeps conversation IDs filesystem-safe.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, id)
}
