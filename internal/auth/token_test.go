package auth

import (
	"testing"
	"time"

	"counselhub/api/internal/roles"
)

var secret = []byte("test-secret")

func TestIssueAndParseActorToken(t *testing.T) {
	token, err := IssueActorToken(secret, "Dr. Sarah Johnson", roles.RoleCounselor, time.Hour)
	if err != nil {
		t.Fatalf("IssueActorToken failed: %v", err)
	}

	actor, err := ParseActorToken(secret, token)
	if err != nil {
		t.Fatalf("ParseActorToken failed: %v", err)
	}
	if actor.Name != "Dr. Sarah Johnson" {
		t.Errorf("actor name = %q", actor.Name)
	}
	if actor.Role != roles.RoleCounselor {
		t.Errorf("actor role = %q", actor.Role)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := IssueActorToken(secret, "Student X", roles.RoleStudent, time.Hour)
	if err != nil {
		t.Fatalf("IssueActorToken failed: %v", err)
	}

	if _, err := ParseActorToken([]byte("other-secret"), token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	token, err := IssueActorToken(secret, "Student X", roles.RoleStudent, -time.Minute)
	if err != nil {
		t.Fatalf("IssueActorToken failed: %v", err)
	}

	if _, err := ParseActorToken(secret, token); err != ErrExpiredToken {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseRejectsUnknownRole(t *testing.T) {
	token, err := IssueActorToken(secret, "Student X", "janitor", time.Hour)
	if err != nil {
		t.Fatalf("IssueActorToken failed: %v", err)
	}

	if _, err := ParseActorToken(secret, token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := ParseActorToken(secret, "not-a-token"); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}
