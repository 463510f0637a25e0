package command

import (
	"fmt"
	"strings"

	"github.com/tokenwindow/twm/internal/register"
)

// ToolResultErrorPrefix frames a validation error as ordinary tool feedback
// when it is written into the latest user message.
const ToolResultErrorPrefix = "[use_mcp_tool] Result: ERROR: "

// Kind classifies a surfaced validation failure. Parse errors (malformed
// JSON, no invocation) are silent and have no kind.
type Kind string

// Validation failure kinds.
const (
	KindEmptyArguments      Kind = "empty_arguments"
	KindNoValidPositions    Kind = "no_valid_positions"
	KindInvalidPositions    Kind = "invalid_positions"
	KindPlaceholderSelected Kind = "placeholder_selected"
)

// ValidationError is a surfaced command failure. Its Text is shown to the
// model as a synthetic tool result.
type ValidationError struct {
	Kind Kind

	// Text is the rendered error body, without the tool-result prefix.
	Text string

	// Invalid lists out-of-range positions for KindInvalidPositions.
	Invalid []int

	// Placeholders lists individually selected placeholder positions for
	// KindPlaceholderSelected.
	Placeholders []int
}

// Error implements error.
func (e *ValidationError) Error() string {
	return string(e.Kind) + ": " + e.Text
}

// ToolResult renders the error as the content of a synthetic tool result.
func (e *ValidationError) ToolResult() string {
	return ToolResultErrorPrefix + e.Text
}

func newEmptyArguments() *ValidationError {
	return &ValidationError{
		Kind: KindEmptyArguments,
		Text: `EMPTY MESSAGE LIST: the "messages" argument was blank. ` +
			`Provide a comma-separated list of positions, e.g. "1-4,25,30".`,
	}
}

func newNoValidPositions(list string) *ValidationError {
	return &ValidationError{
		Kind: KindNoValidPositions,
		Text: fmt.Sprintf(`NO VALID MESSAGE NUMBERS: could not read any position from %q. `+
			`Provide a comma-separated list of positions, e.g. "1-4,25,30".`, list),
	}
}

// previewLen caps the register preview inside error enumerations.
const previewLen = 30

// sampleLimit caps how many registers are enumerated.
const sampleLimit = 10

// enumerate renders the first registers as "[position] role: preview" lines.
func enumerate(regs []register.Register) string {
	var b strings.Builder
	for i, r := range regs {
		if i >= sampleLimit {
			break
		}
		preview := r.Content
		if len(preview) > previewLen {
			preview = preview[:previewLen]
		}
		fmt.Fprintf(&b, "[%d] %s: %s\n", r.Position, r.Role, preview)
	}
	return strings.TrimRight(b.String(), "\n")
}

func newInvalidPositions(invalid []int, regs []register.Register) *ValidationError {
	nums := joinInts(invalid)
	text := fmt.Sprintf(
		"INVALID MESSAGE NUMBERS: %s do not exist. Your current window has %d messages (valid range: 1-%d). Current messages:\n%s",
		nums, len(regs), len(regs), enumerate(regs),
	)
	return &ValidationError{Kind: KindInvalidPositions, Text: text, Invalid: invalid}
}

func newPlaceholderSelected(positions []int, contents []string, suggested []int) *ValidationError {
	text := fmt.Sprintf(
		"PLACEHOLDER MESSAGES SELECTED: positions %s are placeholders (%s) with no real content. Select positions with real content instead, e.g. %s.",
		joinInts(positions), strings.Join(contents, "; "), joinInts(suggested),
	)
	return &ValidationError{Kind: KindPlaceholderSelected, Text: text, Placeholders: positions}
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprintf("%d", x)
	}
	return strings.Join(parts, ", ")
}
