package window_test

import (
	"testing"

	"github.com/tokenwindow/twm/internal/register"
	"github.com/tokenwindow/twm/internal/window"
	"github.com/tokenwindow/twm/pkg/message"
)

func newReconstructor() *window.Reconstructor {
	return window.NewReconstructor(register.NewPlaceholderTemplate(""), nil)
}

// checkInvariants verifies the postconditions every rebuilt sequence must
// satisfy.
func checkInvariants(t *testing.T, regs []register.Register) {
	t.Helper()
	if len(regs) == 0 {
		t.Fatal("empty sequence")
	}
	if regs[0].Role != message.RoleUser {
		t.Errorf("first register role = %s, want user", regs[0].Role)
	}
	if regs[len(regs)-1].Role != message.RoleUser {
		t.Errorf("last register role = %s, want user", regs[len(regs)-1].Role)
	}
	for i := 1; i < len(regs); i++ {
		if regs[i-1].Placeholder && regs[i].Placeholder {
			t.Errorf("adjacent placeholders at %d,%d", i, i+1)
		}
	}
	for i, r := range regs {
		if r.Position != i+1 {
			t.Errorf("register %d has position %d, want dense numbering", i, r.Position)
		}
		if !r.InWindow {
			t.Errorf("register %d not in window", i+1)
		}
	}
}

func sel(pos int, role message.Role, content string) window.Selection {
	return window.Selection{StorePosition: pos, Role: role, Content: content}
}

func TestRebuild_AlignedSelections(t *testing.T) {
	t.Parallel()

	regs := newReconstructor().Rebuild([]window.Selection{
		sel(1, message.RoleUser, "q1"),
		sel(2, message.RoleAssistant, "a1"),
		sel(7, message.RoleUser, "q4"),
	}, "tail", "anchor")

	checkInvariants(t, regs)
	if len(regs) != 5 {
		t.Fatalf("length = %d, want 5", len(regs))
	}
	for i, want := range []string{"q1", "a1", "q4", "tail", "anchor"} {
		if regs[i].Content != want {
			t.Errorf("register %d content = %q, want %q", i+1, regs[i].Content, want)
		}
	}
	if !regs[3].Distilled {
		t.Error("assistant tail should be marked distilled")
	}
	if regs[0].OriginPosition != 1 || regs[2].OriginPosition != 7 {
		t.Errorf("origin positions = %d, %d", regs[0].OriginPosition, regs[2].OriginPosition)
	}
}

func TestRebuild_RoleMismatchInsertsPlaceholder(t *testing.T) {
	t.Parallel()

	// Two users in a row: an assistant placeholder must fill the gap.
	regs := newReconstructor().Rebuild([]window.Selection{
		sel(1, message.RoleUser, "q1"),
		sel(3, message.RoleUser, "q2"),
	}, "tail", "anchor")

	checkInvariants(t, regs)
	if !regs[1].Placeholder || regs[1].Role != message.RoleAssistant {
		t.Fatalf("register 2 = %+v, want assistant placeholder", regs[1])
	}
	if regs[1].Content != "Message 2" {
		t.Errorf("placeholder content = %q, want rendered at final position", regs[1].Content)
	}
}

func TestRebuild_LeadingAssistantGetsUserPlaceholder(t *testing.T) {
	t.Parallel()

	regs := newReconstructor().Rebuild([]window.Selection{
		sel(2, message.RoleAssistant, "a1"),
	}, "tail", "anchor")

	checkInvariants(t, regs)
	if !regs[0].Placeholder || regs[0].Role != message.RoleUser {
		t.Fatalf("register 1 = %+v, want user placeholder", regs[0])
	}
}

func TestRebuild_NoDoublePlaceholderAfterSelectedPlaceholder(t *testing.T) {
	t.Parallel()

	// A selected placeholder followed by a role mismatch: the mismatch is
	// accepted instead of inserting a second placeholder.
	regs := newReconstructor().Rebuild([]window.Selection{
		sel(1, message.RoleUser, "q1"),
		{StorePosition: 2, Role: message.RoleAssistant, Content: "Message 2", Placeholder: true},
		sel(4, message.RoleAssistant, "a2"),
	}, "tail", "anchor")

	checkInvariants(t, regs)
	// Slot 3 expected a user; the assistant selection sits there anyway.
	if regs[2].Role != message.RoleAssistant || regs[2].Placeholder {
		t.Fatalf("register 3 = %+v, want real assistant despite mismatch", regs[2])
	}
}

func TestRebuild_EmptySelections(t *testing.T) {
	t.Parallel()

	regs := newReconstructor().Rebuild(nil, "tail", "anchor")
	checkInvariants(t, regs)
	// Placeholder user, assistant tail, anchor user.
	if len(regs) != 3 {
		t.Fatalf("length = %d, want 3", len(regs))
	}
	if !regs[0].Placeholder {
		t.Error("leading register should be a user placeholder")
	}
	if regs[1].Content != "tail" || regs[2].Content != "anchor" {
		t.Errorf("contents = %q, %q", regs[1].Content, regs[2].Content)
	}
}

func TestRebuild_OddLengthMaintained(t *testing.T) {
	t.Parallel()

	// Four aligned selections end on an assistant; tail then collides.
	regs := newReconstructor().Rebuild([]window.Selection{
		sel(1, message.RoleUser, "q1"),
		sel(2, message.RoleAssistant, "a1"),
		sel(3, message.RoleUser, "q2"),
		sel(4, message.RoleAssistant, "a2"),
	}, "tail", "anchor")

	checkInvariants(t, regs)
	if len(regs)%2 != 1 {
		t.Errorf("length = %d, want odd", len(regs))
	}
}
