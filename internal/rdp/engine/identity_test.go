package engine

import "testing"

func TestIdentityCredentials(t *testing.T) {
	tests := []struct {
		name     string
		id       *Identity
		wantUser string
		wantPass string
	}{
		{"nil", nil, "", ""},
		{"empty", &Identity{}, "", ""},
		{"user only", &Identity{User: EncodeUTF16("bob"), Password: EncodeUTF16("pw")}, "bob", "pw"},
		{"with domain", &Identity{User: EncodeUTF16("bob"), Domain: EncodeUTF16("CORP"), Password: EncodeUTF16("pw")}, `CORP\bob`, "pw"},
		{"non-ascii", &Identity{User: EncodeUTF16("jürgen"), Password: EncodeUTF16("пароль")}, "jürgen", "пароль"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, pass := tt.id.Credentials()
			if user != tt.wantUser || pass != tt.wantPass {
				t.Fatalf("Credentials() = (%q, %q), want (%q, %q)", user, pass, tt.wantUser, tt.wantPass)
			}
		})
	}
}

func TestDecodeUTF16LittleEndian(t *testing.T) {
	if got := DecodeUTF16([]byte{'h', 0, 'i', 0}); got != "hi" {
		t.Fatalf("DecodeUTF16 = %q, want hi", got)
	}
	if got := DecodeUTF16(nil); got != "" {
		t.Fatalf("DecodeUTF16(nil) = %q", got)
	}
}

func TestRegistry(t *testing.T) {
	type nopDriver struct{ Driver }
	Register("registry-test", nopDriver{})
	if _, err := Open("registry-test"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := Open("missing"); err == nil {
		t.Fatal("expected ErrUnknownDriver")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate Register should panic")
		}
	}()
	Register("registry-test", nopDriver{})
}
