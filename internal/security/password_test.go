package security_test

import (
	"testing"

	"github.com/geocoder89/bloghub/internal/security"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := security.HashPassword("secret1")

	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	if hash == "secret1" {
		t.Fatal("hash must not equal the plaintext")
	}

	if err := security.CheckPassword(hash, "secret1"); err != nil {
		t.Fatalf("correct password rejected: %v", err)
	}

	if err := security.CheckPassword(hash, "wrong"); err == nil {
		t.Fatal("wrong password accepted")
	}
}

func TestRandomPassword(t *testing.T) {
	a, err := security.RandomPassword()

	if err != nil {
		t.Fatalf("random password failed: %v", err)
	}

	b, err := security.RandomPassword()

	if err != nil {
		t.Fatalf("random password failed: %v", err)
	}

	if a == b {
		t.Fatal("two random passwords must differ")
	}

	if len(a) != 32 {
		t.Fatalf("got length %d, want 32 hex chars", len(a))
	}
}
