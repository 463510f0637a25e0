package register

import (
	"github.com/tokenwindow/twm/pkg/message"
)

// Store is the pure in-memory register log for one conversation. It performs
// no deduplication; callers append only messages the store has not seen and
// install rebuilt sequences with ReplaceAll.
type Store struct {
	registers []Register
	// nextPosition is the next unused position for freshly appended
	// registers. Never reused within an unbroken sequence; reset only by
	// ReplaceAll (which discards the previous sequence) and Reset.
	nextPosition int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{nextPosition: 1}
}

// AppendFromClient appends messages to the log. System-role entries are
// dropped and context-usage chatter is stripped from each remaining message.
// Returns the number of registers appended.
func (s *Store) AppendFromClient(msgs []message.Message) int {
	appended := 0
	for _, m := range msgs {
		if m.Role == message.RoleSystem {
			continue
		}
		s.registers = append(s.registers, Register{
			Position: s.nextPosition,
			Role:     m.Role,
			Content:  StripUsage(m.Content),
			InWindow: true,
		})
		s.nextPosition++
		appended++
	}
	return appended
}

// InWindow returns the registers currently part of the visible window, in
// position order. The returned slice is a copy.
func (s *Store) InWindow() []Register {
	out := make([]Register, 0, len(s.registers))
	for _, r := range s.registers {
		if r.InWindow {
			out = append(out, r)
		}
	}
	return out
}

// All returns every register, including those flagged out of window.
func (s *Store) All() []Register {
	out := make([]Register, len(s.registers))
	copy(out, s.registers)
	return out
}

// At returns the in-window register with the given 1-based position.
func (s *Store) At(position int) (Register, bool) {
	for _, r := range s.registers {
		if r.InWindow && r.Position == position {
			return r, true
		}
	}
	return Register{}, false
}

// Len returns the number of in-window registers.
func (s *Store) Len() int {
	n := 0
	for _, r := range s.registers {
		if r.InWindow {
			n++
		}
	}
	return n
}

// ReplaceAll installs a rebuilt, densely renumbered sequence. The previous
// sequence is discarded in full; the position counter restarts after the new
// sequence's tail.
func (s *Store) ReplaceAll(regs []Register) {
	s.registers = make([]Register, len(regs))
	copy(s.registers, regs)
	s.nextPosition = len(regs) + 1
}

// Update overwrites the in-window register at the given position.
func (s *Store) Update(position int, r Register) bool {
	for i := range s.registers {
		if s.registers[i].InWindow && s.registers[i].Position == position {
			r.Position = position
			s.registers[i] = r
			return true
		}
	}
	return false
}

// Reset drops all state.
func (s *Store) Reset() {
	s.registers = nil
	s.nextPosition = 1
}
