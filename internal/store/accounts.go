package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/acervoteatro/acervo/internal/db"
	"github.com/acervoteatro/acervo/internal/model"
)

// CreateAccount creates an identity account. Email must already be normalized.
func CreateAccount(ctx context.Context, db *db.DB, email, passwordHash, displayName string) (*model.Account, error) {
	a := &model.Account{
		UserID:       uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		DisplayName:  displayName,
		CreatedAt:    dbNow(),
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, email, password_hash, display_name, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		a.UserID, a.Email, a.PasswordHash, a.DisplayName, a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}
	return a, nil
}

// GetAccountByEmail returns an account by normalized email.
func GetAccountByEmail(ctx context.Context, db *db.DB, email string) (*model.Account, error) {
	a := &model.Account{}
	err := db.QueryRowContext(ctx,
		`SELECT user_id, email, password_hash, display_name, created_at
		 FROM accounts WHERE email = ?`, email,
	).Scan(&a.UserID, &a.Email, &a.PasswordHash, &a.DisplayName, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting account by email: %w", err)
	}
	return a, nil
}

// GetAccount returns an account by user ID.
func GetAccount(ctx context.Context, db *db.DB, userID string) (*model.Account, error) {
	a := &model.Account{}
	err := db.QueryRowContext(ctx,
		`SELECT user_id, email, password_hash, display_name, created_at
		 FROM accounts WHERE user_id = ?`, userID,
	).Scan(&a.UserID, &a.Email, &a.PasswordHash, &a.DisplayName, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting account: %w", err)
	}
	return a, nil
}

// UpdateAccountPassword replaces an account's password hash.
func UpdateAccountPassword(ctx context.Context, db *db.DB, userID, passwordHash string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ? WHERE user_id = ?`,
		passwordHash, userID,
	)
	if err != nil {
		return fmt.Errorf("updating account password: %w", err)
	}
	return nil
}

// UpdateAccountDisplayName replaces an account's display name.
func UpdateAccountDisplayName(ctx context.Context, db *db.DB, userID, displayName string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE accounts SET display_name = ? WHERE user_id = ?`,
		displayName, userID,
	)
	if err != nil {
		return fmt.Errorf("updating account display name: %w", err)
	}
	return nil
}
