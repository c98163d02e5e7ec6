package auth

import (
	"errors"
	"testing"
	"time"
)

const (
	testSecret   = "unit-test-secret"
	testIssuer   = "kbmd-auth"
	testAudience = "kbmd-api"
)

func newTestManager(clock func() time.Time) *TokenManager {
	return NewTokenManager(TokenManagerConfig{
		SigningSecret: []byte(testSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
		TokenTTL:      time.Hour,
		Clock:         clock,
	})
}

func TestIssueAndValidateRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	manager := newTestManager(func() time.Time { return now })

	token, expiresIn, err := manager.Issue("user-1", "user@example.com", "Test User")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if expiresIn != 3600 {
		t.Fatalf("expected 3600 seconds validity, got %d", expiresIn)
	}

	claims, err := manager.Validate(token)
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.UserEmail != "user@example.com" || claims.UserName != "Test User" {
		t.Fatalf("unexpected identity claims: %+v", claims)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Unix(1700000000, 0).UTC()
	current := issuedAt
	manager := newTestManager(func() time.Time { return current })

	token, _, err := manager.Issue("user-1", "user@example.com", "Test User")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	current = issuedAt.Add(2 * time.Hour)
	if _, err := manager.Validate(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	issuer := newTestManager(func() time.Time { return now })
	validator := NewTokenManager(TokenManagerConfig{
		SigningSecret: []byte("different-secret"),
		Issuer:        testIssuer,
		Audience:      testAudience,
		Clock:         func() time.Time { return now },
	})

	token, _, err := issuer.Issue("user-1", "user@example.com", "Test User")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	if _, err := validator.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	manager := newTestManager(nil)
	if _, err := manager.Validate("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestIssueRequiresSubject(t *testing.T) {
	manager := newTestManager(nil)
	if _, _, err := manager.Issue("   ", "user@example.com", "Test User"); err == nil {
		t.Fatalf("expected error for blank subject")
	}
}
