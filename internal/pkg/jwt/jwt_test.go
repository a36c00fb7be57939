package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := NewService("secret", time.Minute)
	userID := uuid.New()

	token, err := svc.GenerateAccessToken(userID, "alice", "admin", false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := svc.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != userID || claims.Username != "alice" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	svc := NewService("secret", -time.Minute)
	token, err := svc.GenerateAccessToken(uuid.New(), "bob", "user", false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := svc.ValidateAccessToken(token); err != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestValidateRejectsForeignSecret(t *testing.T) {
	token, err := NewService("one", time.Minute).GenerateAccessToken(uuid.New(), "bob", "user", false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := NewService("two", time.Minute).ValidateAccessToken(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
