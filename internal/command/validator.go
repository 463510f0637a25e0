package command

import (
	"github.com/tokenwindow/twm/internal/register"
)

// Validate checks a parsed invocation against the current in-window
// registers. Runs after newly received client messages are appended, so the
// register count matches what the model sees. Returns nil when the command
// may be applied.
func Validate(inv *Invocation, regs []register.Register, tmpl register.PlaceholderTemplate) *ValidationError {
	if inv.Err != nil {
		return inv.Err
	}

	var invalid []int
	for _, p := range inv.Positions {
		if p.Value < 1 || p.Value > len(regs) {
			invalid = append(invalid, p.Value)
		}
	}
	if len(invalid) > 0 {
		return newInvalidPositions(invalid, regs)
	}

	// Individually selected placeholders are rejected; placeholders swept up
	// by a range are permitted.
	var placeholders []int
	var contents []string
	for _, p := range inv.Positions {
		if p.FromRange {
			continue
		}
		r := regs[p.Value-1]
		if r.Placeholder || tmpl.Matches(r.Content) {
			placeholders = append(placeholders, p.Value)
			contents = append(contents, r.Content)
		}
	}
	if len(placeholders) > 0 {
		return newPlaceholderSelected(placeholders, contents, realPositions(regs, tmpl))
	}

	return nil
}

// realPositions lists the positions of non-placeholder registers, for the
// suggestion inside a PlaceholderSelected error.
func realPositions(regs []register.Register, tmpl register.PlaceholderTemplate) []int {
	var out []int
	for _, r := range regs {
		if r.Placeholder || tmpl.Matches(r.Content) {
			continue
		}
		out = append(out, r.Position)
	}
	return out
}

// RetainedPrefixEnd returns the length R of the contiguous prefix 1..R
// covered by the invocation's positions, or 0 when position 1 was not
// selected. The cache accountant uses this to split creation and read spans
// after a recache.
func (inv *Invocation) RetainedPrefixEnd() int {
	end := 0
	for _, p := range inv.Positions {
		if p.Value == end+1 {
			end = p.Value
			continue
		}
		if p.Value > end+1 {
			break
		}
	}
	return end
}
