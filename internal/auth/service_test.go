package auth

import (
	"strings"
	"testing"
	"time"
)

func TestIssueAndVerifyToken(t *testing.T) {
	svc := NewService("test-secret", time.Hour)
	token, err := svc.IssueToken()
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if !strings.Contains(token, ".") {
		t.Fatalf("expected payload.signature format, got %q", token)
	}
	if !svc.VerifyToken(token) {
		t.Fatalf("freshly issued token should verify")
	}
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	svc := NewService("test-secret", -time.Minute)
	token, err := svc.IssueToken()
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if svc.VerifyToken(token) {
		t.Fatalf("expired token should not verify")
	}
}

func TestVerifyTokenRejectsTampering(t *testing.T) {
	svc := NewService("test-secret", time.Hour)
	token, err := svc.IssueToken()
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	parts := strings.SplitN(token, ".", 2)
	tampered := parts[0] + "x." + parts[1]
	if svc.VerifyToken(tampered) {
		t.Fatalf("tampered payload should not verify")
	}
	if svc.VerifyToken(parts[0]) {
		t.Fatalf("token without signature should not verify")
	}

	other := NewService("different-secret", time.Hour)
	if other.VerifyToken(token) {
		t.Fatalf("token signed with another secret should not verify")
	}
}

func TestHashPasswordIsStable(t *testing.T) {
	a := HashPassword("admin123")
	b := HashPassword("admin123")
	if a != b {
		t.Fatalf("hash must be deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256 digest, got %d chars", len(a))
	}
	if a == HashPassword("admin124") {
		t.Fatalf("different inputs must not collide")
	}
}
