package auth

import "testing"

func TestNormalizeLoginName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`DOMAIN\bob`, "bob"},
		{"DOMAIN/bob", "bob"},
		{"bob", "bob"},
		{"  bob  ", "bob"},
		{`\`, `\`},
		{` CORP\ `, `CORP\`},
		{`a\b/c`, "c"},
		{`CORP\ alice `, "alice"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeLoginName(tt.in); got != tt.want {
			t.Errorf("NormalizeLoginName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMatchesLoginName(t *testing.T) {
	tests := []struct {
		actual, configured string
		want               bool
	}{
		{"Bob", "bob", true},
		{"bob@EXAMPLE.com", "bob", true},
		{"BOB@corp", "Bob", true},
		{"alice", "", false},
		{"", "", false},
		{"bob@x", "bobx", false},
		{"@bob", "bob", false},
		{"bobby", "bob", false},
	}
	for _, tt := range tests {
		if got := MatchesLoginName(tt.actual, tt.configured); got != tt.want {
			t.Errorf("MatchesLoginName(%q, %q) = %v, want %v", tt.actual, tt.configured, got, tt.want)
		}
	}
}
