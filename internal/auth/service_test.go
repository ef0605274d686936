package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/vovakirdan/relaychat-server/internal/store/sqlite"
)

func newTestAuthService(t *testing.T) *Service {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return NewService(st)
}

func TestRegister_RejectsInvalidEmail(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	for _, email := range []string{"", "ab", "no-at-sign.example.com"} {
		if _, err := svc.Register(ctx, email, "", "password123"); !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("email %q: expected ErrInvalidEmail, got %v", email, err)
		}
	}
}

func TestRegister_RejectsShortPassword(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice@example.com", "", "12345"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
}

func TestRegister_NormalizesEmailAndDefaultsDisplayName(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, " Alice@Example.COM ", "", "password123")
	if err != nil {
		t.Fatalf("expected registration success, got %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("expected lowercased trimmed email, got %q", user.Email)
	}
	if user.DisplayName != "alice" {
		t.Fatalf("expected display name from local part, got %q", user.DisplayName)
	}

	// Should collide because the stored email is normalized.
	if _, err := svc.Register(ctx, "alice@example.com", "Alice", "password123"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	created, err := svc.Register(ctx, "bob@example.com", "Bob", "password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	user, err := svc.Authenticate(ctx, "BOB@example.com", "password123")
	if err != nil {
		t.Fatalf("expected authentication success, got %v", err)
	}
	if user.ID != created.ID {
		t.Fatalf("expected user %d, got %d", created.ID, user.ID)
	}

	if _, err := svc.Authenticate(ctx, "bob@example.com", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for bad password, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@example.com", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}
