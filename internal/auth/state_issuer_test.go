package auth

import (
	"errors"
	"testing"
	"time"
)

func TestStateIssuerRoundTrip(t *testing.T) {
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	issuer, err := NewStateIssuer(StateIssuerConfig{
		SigningSecret: []byte("state-secret"),
		Clock: func() time.Time {
			return now
		},
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	state, err := issuer.IssueState("practitioner-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	practitionerID, err := issuer.ValidateState(state)
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if practitionerID != "practitioner-1" {
		t.Fatalf("unexpected practitioner id %q", practitionerID)
	}
}

func TestStateIssuerRejectsExpiredState(t *testing.T) {
	issuedAt := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	current := issuedAt
	issuer, err := NewStateIssuer(StateIssuerConfig{
		SigningSecret: []byte("state-secret"),
		TTL:           time.Minute,
		Clock: func() time.Time {
			return current
		},
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	state, err := issuer.IssueState("practitioner-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	current = issuedAt.Add(2 * time.Minute)
	if _, err := issuer.ValidateState(state); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state error, got %v", err)
	}
}

func TestStateIssuerRejectsForeignSecret(t *testing.T) {
	first, err := NewStateIssuer(StateIssuerConfig{SigningSecret: []byte("first")})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	second, err := NewStateIssuer(StateIssuerConfig{SigningSecret: []byte("second")})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	state, err := first.IssueState("practitioner-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if _, err := second.ValidateState(state); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state error, got %v", err)
	}
}

func TestStateIssuerRequiresSubject(t *testing.T) {
	issuer, err := NewStateIssuer(StateIssuerConfig{SigningSecret: []byte("secret")})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, err := issuer.IssueState("  "); !errors.Is(err, ErrMissingStateSubject) {
		t.Fatalf("expected missing subject error, got %v", err)
	}
}
