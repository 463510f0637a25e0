// Package window rebuilds the visible register sequence after a recache:
// strictly alternating roles, odd length, user-bounded, with minimal
// placeholder insertion and a hard ban on adjacent placeholders.
package window

import (
	"log/slog"

	"github.com/tokenwindow/twm/internal/register"
	"github.com/tokenwindow/twm/pkg/message"
)

// Selection is one register chosen by position for the rebuilt window.
type Selection struct {
	// StorePosition is the position the register held before the rebuild.
	StorePosition int

	Role        message.Role
	Content     string
	Placeholder bool
}

// Reconstructor builds fresh register sequences.
type Reconstructor struct {
	tmpl   register.PlaceholderTemplate
	logger *slog.Logger
}

// NewReconstructor creates a Reconstructor using the given placeholder
// template.
func NewReconstructor(tmpl register.PlaceholderTemplate, logger *slog.Logger) *Reconstructor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconstructor{tmpl: tmpl, logger: logger}
}

// Rebuild produces a fresh, densely numbered sequence from the selections,
// the scrubbed assistant tail, and the anchoring user message.
//
// Role mismatches are repaired by inserting a single placeholder, except when
// the previous register is already a placeholder: two placeholders in a row
// are never produced, and the role mismatch is accepted instead. If the final
// sequence would need a trailing placeholder to become odd but the last
// register already is one, the even length is accepted and logged.
func (rc *Reconstructor) Rebuild(selections []Selection, assistantTail, anchorUser string) []register.Register {
	var regs []register.Register

	for _, s := range selections {
		regs = rc.push(regs, register.Register{
			Role:           s.Role,
			Content:        s.Content,
			InWindow:       true,
			Placeholder:    s.Placeholder,
			OriginPosition: s.StorePosition,
		})
	}

	regs = rc.push(regs, register.Register{
		Role:      message.RoleAssistant,
		Content:   assistantTail,
		InWindow:  true,
		Distilled: true,
	})

	regs = rc.push(regs, register.Register{
		Role:     message.RoleUser,
		Content:  anchorUser,
		InWindow: true,
	})

	if len(regs)%2 == 0 {
		if regs[len(regs)-1].Placeholder {
			rc.logger.Warn("window: even-length sequence accepted, trailing register is a placeholder",
				"length", len(regs))
		} else {
			regs = append(regs, register.Register{
				Role:        message.RoleUser,
				InWindow:    true,
				Placeholder: true,
			})
		}
	}

	renumber(regs, rc.tmpl)
	rc.checkAdjacentPlaceholders(regs)
	return regs
}

// push appends r, inserting at most one placeholder when r's role does not
// match the expected slot parity. Rule: never two placeholders in a row.
func (rc *Reconstructor) push(regs []register.Register, r register.Register) []register.Register {
	expected := expectedRole(len(regs))
	if r.Role == expected {
		return append(regs, r)
	}
	if len(regs) > 0 && regs[len(regs)-1].Placeholder {
		// A placeholder already precedes; accept the role mismatch rather
		// than synthesize a second filler.
		return append(regs, r)
	}
	regs = append(regs, register.Register{
		Role:        expected,
		InWindow:    true,
		Placeholder: true,
	})
	return append(regs, r)
}

// expectedRole returns the role slot i must hold: even slots are user, odd
// slots assistant.
func expectedRole(i int) message.Role {
	if i%2 == 0 {
		return message.RoleUser
	}
	return message.RoleAssistant
}

// renumber assigns dense 1..N positions and renders placeholder content at
// its final position.
func renumber(regs []register.Register, tmpl register.PlaceholderTemplate) {
	for i := range regs {
		regs[i].Position = i + 1
		if regs[i].Placeholder && regs[i].Content == "" {
			regs[i].Content = tmpl.Content(i + 1)
		}
	}
}

// checkAdjacentPlaceholders logs (never corrects) any consecutive
// placeholder pair as a fatal diagnostic.
func (rc *Reconstructor) checkAdjacentPlaceholders(regs []register.Register) {
	for i := 1; i < len(regs); i++ {
		if regs[i-1].Placeholder && regs[i].Placeholder {
			rc.logger.Error("window: FATAL consecutive placeholders in rebuilt sequence",
				"first", regs[i-1].Position, "second", regs[i].Position)
		}
	}
}
