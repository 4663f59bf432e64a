package identity

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/acervoteatro/acervo/internal/db"
	"github.com/acervoteatro/acervo/internal/model"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	return &Provider{DB: db.NewTestDB(t), Secret: "test-secret", Cost: bcrypt.MinCost}
}

func TestRegisterAndLogin(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	account, err := p.Register(ctx, "  Ana@Example.org ", "password1", "Ana")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if account.Email != "ana@example.org" {
		t.Errorf("expected normalized email, got %q", account.Email)
	}

	token, got, err := p.Login(ctx, "ANA@example.org", "password1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.UserID != account.UserID {
		t.Errorf("expected user %s, got %s", account.UserID, got.UserID)
	}

	s, err := p.Authenticate(ctx, token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if s.UserID != account.UserID || s.DisplayName != "Ana" {
		t.Errorf("unexpected session: %+v", s)
	}
}

func TestRegisterValidation(t *testing.T) {
	p := newTestProvider(t)

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"bad email", "not-an-email", "password1"},
		{"short password", "a@b.org", "short"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Register(context.Background(), tt.email, tt.password, "X")
			var verr *model.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	p.Register(ctx, "a@b.org", "password1", "A")
	_, err := p.Register(ctx, "A@B.org", "password2", "B")
	if !errors.Is(err, model.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	p.Register(ctx, "a@b.org", "password1", "A")

	if _, _, err := p.Login(ctx, "a@b.org", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := p.Login(ctx, "nobody@b.org", "password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	p.Register(ctx, "a@b.org", "password1", "A")
	token, _, _ := p.Login(ctx, "a@b.org", "password1")

	s, err := p.Authenticate(ctx, token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := p.Logout(ctx, s); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := p.Authenticate(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken after logout, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	account, _ := p.Register(ctx, "a@b.org", "password1", "A")

	if err := p.ChangePassword(ctx, account.UserID, "wrong", "password2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := p.ChangePassword(ctx, account.UserID, "password1", "password2"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, _, err := p.Login(ctx, "a@b.org", "password2"); err != nil {
		t.Errorf("expected login with new password, got %v", err)
	}
}
