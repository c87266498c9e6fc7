package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := HashPassword("s3cret", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.HasPrefix(hash, "$2a$") || !IsModernHash(hash) {
		t.Fatalf("unexpected hash format %q", hash)
	}
	if err := VerifyPassword(hash, "s3cret"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatalf("expected mismatch")
	}
	if _, err := HashPassword("", bcrypt.MinCost); err == nil {
		t.Fatalf("expected error for empty password")
	}
}

func TestCheckPasswordLegacy(t *testing.T) {
	cases := []struct {
		name        string
		stored      string
		password    string
		wantOK      bool
		wantUpgrade bool
	}{
		{"legacy match", "hunter2", "hunter2", true, true},
		{"legacy mismatch", "hunter2", "hunter3", false, false},
		{"empty stored", "", "", false, false},
		{"looks like prefix only", "$2a$", "$2a$", true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, upgrade := checkPassword(tc.stored, tc.password)
			if ok != tc.wantOK || upgrade != tc.wantUpgrade {
				t.Fatalf("checkPassword = (%v, %v), want (%v, %v)", ok, upgrade, tc.wantOK, tc.wantUpgrade)
			}
		})
	}
}

func TestCheckPasswordModernRejectsHashAsPassword(t *testing.T) {
	hash, err := HashPassword("hunter2", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if ok, _ := checkPassword(hash, hash); ok {
		t.Fatalf("stored hash must not be accepted as a password")
	}
	if ok, upgrade := checkPassword(hash, "hunter2"); !ok || upgrade {
		t.Fatalf("expected modern match without upgrade")
	}
}
