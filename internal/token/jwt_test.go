package token_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/geocoder89/bloghub/internal/token"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	m := token.NewManager("test-secret-key", 7*24*time.Hour)

	raw, err := m.Generate("user-123", true)

	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	claims, err := m.Verify(raw)

	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	if claims.UserID != "user-123" {
		t.Fatalf("got subject %q, want %q", claims.UserID, "user-123")
	}

	if !claims.IsAdmin {
		t.Fatal("admin claim was not carried through")
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	m := token.NewManager("test-secret-key", -1*time.Minute)

	raw, err := m.Generate("user-123", false)

	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	_, err = m.Verify(raw)

	if !errors.Is(err, token.ErrInvalidToken) {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	m := token.NewManager("test-secret-key", time.Hour)

	raw, err := m.Generate("user-123", false)

	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"flipped signature byte", raw[:len(raw)-2] + "xx"},
		{"truncated", raw[:len(raw)/2]},
		{"garbage", "not.a.token"},
		{"empty", ""},
		{"swapped payload", swapPayload(t, raw)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := m.Verify(tc.token); !errors.Is(err, token.ErrInvalidToken) {
				t.Fatalf("got %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	issuer := token.NewManager("secret-a", time.Hour)
	verifier := token.NewManager("secret-b", time.Hour)

	raw, err := issuer.Generate("user-123", false)

	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := verifier.Verify(raw); !errors.Is(err, token.ErrInvalidToken) {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

// swapPayload keeps a valid header and signature but replaces the claims
// segment, which must break the signature check.
func swapPayload(t *testing.T, raw string) string {
	t.Helper()

	parts := strings.Split(raw, ".")

	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %q", raw)
	}

	other := token.NewManager("test-secret-key", time.Hour)
	otherRaw, err := other.Generate("someone-else", true)

	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	otherParts := strings.Split(otherRaw, ".")

	return parts[0] + "." + otherParts[1] + "." + parts[2]
}
