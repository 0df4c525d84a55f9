package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestLocalVerifier_ValidToken(t *testing.T) {
	v := NewLocalVerifier("secret")

	tokenString := signHS256(t, "secret", jwt.MapClaims{
		"sub":   "user_1",
		"name":  "Alice",
		"email": "alice@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	ident, err := v.VerifyToken(context.Background(), tokenString)
	if err != nil {
		t.Fatalf("VerifyToken error: %v", err)
	}
	if ident.Subject != "user_1" || ident.Name != "Alice" || ident.Email != "alice@example.com" {
		t.Fatalf("unexpected identity: %+v", ident)
	}
}

func TestLocalVerifier_MissingOptionalClaims(t *testing.T) {
	v := NewLocalVerifier("secret")

	tokenString := signHS256(t, "secret", jwt.MapClaims{
		"sub": "user_1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	ident, err := v.VerifyToken(context.Background(), tokenString)
	if err != nil {
		t.Fatalf("VerifyToken error: %v", err)
	}
	if ident.Subject != "user_1" {
		t.Fatalf("subject = %q, want user_1", ident.Subject)
	}
	if ident.Name != "" || ident.Email != "" {
		t.Fatalf("optional claims must default to empty, got %+v", ident)
	}
}

func TestLocalVerifier_RejectsExpiredToken(t *testing.T) {
	v := NewLocalVerifier("secret")

	tokenString := signHS256(t, "secret", jwt.MapClaims{
		"sub": "user_1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	if _, err := v.VerifyToken(context.Background(), tokenString); err == nil {
		t.Fatalf("expected error for expired token")
	}
}

func TestLocalVerifier_RejectsTokenWithoutSubject(t *testing.T) {
	v := NewLocalVerifier("secret")

	tokenString := signHS256(t, "secret", jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := v.VerifyToken(context.Background(), tokenString); err == nil {
		t.Fatalf("expected error for token without sub claim")
	}
}

func TestLocalVerifier_RejectsGarbage(t *testing.T) {
	v := NewLocalVerifier("secret")

	if _, err := v.VerifyToken(context.Background(), "not-a-jwt"); err == nil {
		t.Fatalf("expected error for malformed token")
	}
}
