package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/acervoteatro/acervo/internal/db"
	"github.com/acervoteatro/acervo/internal/model"
)

const profileColumns = `user_id, display_name, role, can_edit_items, created_at, updated_at`

// InsertProfileIfAbsent creates a profile unless one already exists for the
// user, then returns the stored row. Concurrent callers for the same user all
// observe the single winning row.
func InsertProfileIfAbsent(ctx context.Context, db *db.DB, userID, displayName string, grant model.Grant) (*model.Profile, error) {
	now := dbNow()
	_, err := db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, display_name, role, can_edit_items, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, displayName, grant.Role, grant.CanEditItems, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting profile: %w", err)
	}

	p, err := GetProfile(ctx, db, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("inserting profile: row for %s not found after insert", userID)
	}
	return p, nil
}

// GetProfile returns a profile by user ID.
func GetProfile(ctx context.Context, db *db.DB, userID string) (*model.Profile, error) {
	p := &model.Profile{}
	err := db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.DisplayName, &p.Role, &p.CanEditItems, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting profile: %w", err)
	}
	return p, nil
}

// ListProfiles returns all profiles ordered by display name.
func ListProfiles(ctx context.Context, db *db.DB) ([]model.Profile, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles ORDER BY display_name, user_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	defer rows.Close()

	var profiles []model.Profile
	for rows.Next() {
		var p model.Profile
		if err := rows.Scan(&p.UserID, &p.DisplayName, &p.Role, &p.CanEditItems, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// CountAdmins returns the number of admin profiles.
func CountAdmins(ctx context.Context, db *db.DB) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM profiles WHERE role = ?`, model.RoleAdmin,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting admins: %w", err)
	}
	return n, nil
}
