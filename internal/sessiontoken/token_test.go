package sessiontoken

import (
	"errors"
	"testing"
	"time"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	m, err := NewManager("test-secret", time.Minute)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, err := m.NewAccessToken("user-1")
	if err != nil {
		t.Fatalf("new access token: %v", err)
	}
	userID, err := m.VerifyUserID(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("unexpected subject %q", userID)
	}
}

func TestAccessTokenRejectsWrongSecret(t *testing.T) {
	a, _ := NewManager("secret-a", time.Minute)
	b, _ := NewManager("secret-b", time.Minute)
	token, err := a.NewAccessToken("user-1")
	if err != nil {
		t.Fatalf("new access token: %v", err)
	}
	if _, err := b.VerifyUserID(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := a.VerifyUserID("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestOAuthStatePurposeIsEnforced(t *testing.T) {
	m, err := NewManager("test-secret", time.Minute)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	state, err := m.NewOAuthState("user-7")
	if err != nil {
		t.Fatalf("new oauth state: %v", err)
	}
	userID, err := m.VerifyOAuthState(state)
	if err != nil {
		t.Fatalf("verify state: %v", err)
	}
	if userID != "user-7" {
		t.Fatalf("unexpected subject %q", userID)
	}

	// An access token must not pass as an OAuth state.
	access, err := m.NewAccessToken("user-7")
	if err != nil {
		t.Fatalf("new access token: %v", err)
	}
	if _, err := m.VerifyOAuthState(access); !errors.Is(err, ErrWrongPurpose) {
		t.Fatalf("expected ErrWrongPurpose, got %v", err)
	}

	// And a state token must not pass as a session.
	if _, err := m.VerifyUserID(state); !errors.Is(err, ErrWrongPurpose) {
		t.Fatalf("expected ErrWrongPurpose for state-as-session, got %v", err)
	}
}

func TestManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager("  ", time.Minute); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
