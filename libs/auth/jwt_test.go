package auth

import (
	"errors"
	"testing"
	"time"
)

func TestHS256RoundTrip(t *testing.T) {
	now := time.Now()
	claims := Claims{
		Sub:            "user-1",
		ProfessionalID: "8a0b2c44-2f1e-4a55-9d1e-1f6b1c1e2a10",
		Role:           "professional",
		Iat:            now.Unix(),
		Exp:            now.Add(1 * time.Hour).Unix(),
	}
	secret := "test-secret"

	token, err := SignHS256(claims, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	parsed, err := ParseAndVerifyHS256(token, secret, now)
	if err != nil {
		t.Fatalf("ParseAndVerifyHS256 failed: %v", err)
	}
	if parsed.Professional() != claims.ProfessionalID || parsed.Role != claims.Role {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}
	if _, err := ParseAndVerifyHS256(token, "wrong-secret", now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken with wrong secret, got %v", err)
	}
	if _, err := ParseAndVerifyHS256(token, secret, now.Add(2*time.Hour)); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestProfessionalFallsBackToSubject(t *testing.T) {
	if got := (Claims{Sub: "p-1"}).Professional(); got != "p-1" {
		t.Fatalf("expected subject fallback, got %q", got)
	}
}

func TestBearerToken(t *testing.T) {
	if tok, ok := BearerToken("Bearer abc.def.ghi"); !ok || tok != "abc.def.ghi" {
		t.Fatalf("unexpected parse: %q %v", tok, ok)
	}
	if _, ok := BearerToken("Basic Zm9vOmJhcg=="); ok {
		t.Fatal("basic auth must not parse as bearer")
	}
	if _, ok := BearerToken("bearer "); ok {
		t.Fatal("empty bearer must not parse")
	}
}
