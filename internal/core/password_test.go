package core

import "testing"

func TestGeneratePasswordShapeAndAlphabet(t *testing.T) {
	p := GeneratePassword()
	if len(p) != passwordLength {
		t.Fatalf("len(password) = %d, want %d", len(p), passwordLength)
	}
	for _, r := range p {
		if !((r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			t.Fatalf("password %q contains non-alphanumeric character %q", p, r)
		}
	}
}

func TestGeneratePasswordVaries(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		seen[GeneratePassword()] = true
	}
	if len(seen) < 2 {
		t.Fatal("expected GeneratePassword to produce varying output across calls")
	}
}
