// Package identity is the account provider: email and password sign-up,
// login into a signed session token, and logout by revoking the token.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/acervoteatro/acervo/internal/auth"
	"github.com/acervoteatro/acervo/internal/db"
	"github.com/acervoteatro/acervo/internal/model"
	"github.com/acervoteatro/acervo/internal/store"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

var (
	// ErrInvalidCredentials is returned by Login for an unknown email or a
	// wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is returned by Authenticate for a malformed, expired or
	// revoked token.
	ErrInvalidToken = errors.New("invalid token")
)

// Session is an authenticated identity.
type Session struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	TokenID     string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Provider issues and checks session tokens for stored accounts.
type Provider struct {
	DB     *db.DB
	Secret string
	// Cost is the bcrypt cost; zero means bcrypt.DefaultCost.
	Cost int
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account. It fails with ErrConflict when the email is
// already registered.
func (p *Provider) Register(ctx context.Context, email, password, displayName string) (*model.Account, error) {
	email = NormalizeEmail(email)
	displayName = strings.TrimSpace(displayName)

	var invalid []string
	if _, err := mail.ParseAddress(email); err != nil {
		invalid = append(invalid, "email")
	}
	if len(password) < MinPasswordLength {
		invalid = append(invalid, "password")
	}
	if len(invalid) > 0 {
		return nil, &model.ValidationError{Fields: invalid}
	}

	existing, err := store.GetAccountByEmail(ctx, p.DB, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("registering %s: %w", email, model.ErrConflict)
	}

	hash, err := p.hash(password)
	if err != nil {
		return nil, err
	}

	account, err := store.CreateAccount(ctx, p.DB, email, hash, displayName)
	if err != nil {
		// Lost a race with a concurrent registration of the same email.
		if again, _ := store.GetAccountByEmail(ctx, p.DB, email); again != nil {
			return nil, fmt.Errorf("registering %s: %w", email, model.ErrConflict)
		}
		return nil, err
	}

	slog.Info("account registered", "user_id", account.UserID, "email", email)
	return account, nil
}

// Login checks credentials and returns a signed session token.
func (p *Provider) Login(ctx context.Context, email, password string) (string, *model.Account, error) {
	email = NormalizeEmail(email)
	account, err := store.GetAccountByEmail(ctx, p.DB, email)
	if err != nil {
		return "", nil, err
	}
	if account == nil {
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		slog.Warn("login failed", "email", email)
		return "", nil, ErrInvalidCredentials
	}

	token, err := auth.GenerateToken(p.Secret, account.UserID, account.Email, account.DisplayName)
	if err != nil {
		return "", nil, err
	}
	slog.Info("user logged in", "user_id", account.UserID)
	return token, account, nil
}

// Authenticate validates a session token and checks it has not been revoked.
func (p *Provider) Authenticate(ctx context.Context, token string) (*Session, error) {
	claims, err := auth.ValidateToken(p.Secret, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.ID != "" {
		revoked, err := store.IsTokenRevoked(ctx, p.DB, claims.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, fmt.Errorf("%w: revoked", ErrInvalidToken)
		}
	}

	s := &Session{
		UserID:      claims.UserID,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		TokenID:     claims.ID,
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// Logout revokes the session's token until it would have expired anyway.
func (p *Provider) Logout(ctx context.Context, s *Session) error {
	if s == nil || s.TokenID == "" {
		return nil
	}
	expires := s.ExpiresAt
	if expires.IsZero() {
		expires = time.Now().Add(auth.TokenExpiry)
	}
	if err := store.RevokeToken(ctx, p.DB, s.TokenID, expires); err != nil {
		return err
	}
	slog.Info("user logged out", "user_id", s.UserID)
	return nil
}

// ChangePassword replaces the password after checking the current one.
func (p *Provider) ChangePassword(ctx context.Context, userID, current, next string) error {
	account, err := store.GetAccount(ctx, p.DB, userID)
	if err != nil {
		return err
	}
	if account == nil {
		return model.ErrNotFound
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}
	if len(next) < MinPasswordLength {
		return &model.ValidationError{Fields: []string{"new_password"}}
	}

	hash, err := p.hash(next)
	if err != nil {
		return err
	}
	if err := store.UpdateAccountPassword(ctx, p.DB, userID, hash); err != nil {
		return err
	}
	slog.Info("user changed own password", "user_id", userID)
	return nil
}

func (p *Provider) hash(password string) (string, error) {
	cost := p.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}
