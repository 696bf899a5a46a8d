package digest

import (
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses runs", "a  b\t\tc", "a b c"},
		{"trims", "  hola  ", "hola"},
		{"newlines", "line1\nline2\n\nline3", "line1 line2 line3"},
		{"empty", "", ""},
		{"only whitespace", " \n\t ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestConversationDeterminism(t *testing.T) {
	text := "2024-05-01 10:00 user: hola\n2024-05-01 10:01 bot: buenos dias"
	if Conversation(text) != Conversation(text) {
		t.Error("same input produced different digests")
	}
}

func TestConversationWhitespaceInsensitive(t *testing.T) {
	if Conversation(" a  b ") != Conversation("a b") {
		t.Error("whitespace-only differences should not change the digest")
	}
}

func TestConversationDistinguishesContent(t *testing.T) {
	a := Conversation("user: hola")
	b := Conversation("user: adios")
	if a == b {
		t.Errorf("different content produced identical digest %s", a)
	}
}

func TestConversationEmptyInput(t *testing.T) {
	got := Conversation("")
	if len(got) != 64 {
		t.Errorf("empty conversation digest should be a full sha256 hex, got %q", got)
	}
}
