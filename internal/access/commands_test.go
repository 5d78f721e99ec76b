package access_test

import (
	"testing"

	"zalobridge/internal/access"
)

func TestTrimLeadingMention(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"@Bot /reset", "/reset"},
		{"@Bot  !undo zm-abc", "!undo zm-abc"},
		{"/reset", "/reset"},
		{"plain text", "plain text"},
		{"@Bot", ""},
		{"email@host.com hi", "email@host.com hi"},
	}
	for _, tt := range tests {
		if got := access.TrimLeadingMention(tt.in); got != tt.want {
			t.Errorf("TrimLeadingMention(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsControlCommand_MentionPrefixed(t *testing.T) {
	t.Parallel()

	if access.IsControlCommand("@Bot /reset") {
		t.Errorf("raw mention-prefixed body should not read as a command without trimming")
	}
	if !access.IsControlCommand(access.TrimLeadingMention("@Bot /reset")) {
		t.Errorf("trimmed mention-prefixed body should read as a command")
	}
}
