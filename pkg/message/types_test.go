package message_test

import (
	"errors"
	"testing"

	"github.com/tokenwindow/twm/pkg/message"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		msgs    []message.Message
		wantErr bool
	}{
		{"empty list", nil, false},
		{"known roles", []message.Message{
			{Role: message.RoleSystem, Content: "s"},
			{Role: message.RoleUser, Content: "u"},
			{Role: message.RoleAssistant, Content: "a"},
		}, false},
		{"tool role rejected", []message.Message{
			{Role: "tool", Content: "x"},
		}, true},
		{"empty role rejected", []message.Message{
			{Role: "", Content: "x"},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := message.Validate(tt.msgs)
			if tt.wantErr {
				if !errors.Is(err, message.ErrUnknownRole) {
					t.Fatalf("Validate() = %v, want ErrUnknownRole", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestTurnResult_SystemText(t *testing.T) {
	t.Parallel()

	res := message.TurnResult{System: []message.SystemBlock{
		{Text: "first", Cache: true},
		{Text: "second", Cache: true},
	}}
	if got, want := res.SystemText(), "first\n\nsecond"; got != want {
		t.Errorf("SystemText() = %q, want %q", got, want)
	}

	empty := message.TurnResult{}
	if got := empty.SystemText(); got != "" {
		t.Errorf("SystemText() on empty result = %q, want empty", got)
	}
}
