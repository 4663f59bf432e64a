package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acervoteatro/acervo/internal/db"
	"github.com/acervoteatro/acervo/internal/model"
)

const inviteColumns = `id, code, created_by, role, can_edit_items, max_uses, uses, expires_at, created_at`

// CreateInvite inserts a new unused invite. Code must already be normalized.
func CreateInvite(ctx context.Context, db *db.DB, in model.Invite) (*model.Invite, error) {
	inv := in
	inv.ID = uuid.NewString()
	inv.Uses = 0
	inv.CreatedAt = dbNow()
	if inv.ExpiresAt != nil {
		t := dbTimestamp(*inv.ExpiresAt)
		inv.ExpiresAt = &t
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO invites (id, code, created_by, role, can_edit_items, max_uses, uses, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Code, inv.CreatedBy, inv.Role, inv.CanEditItems, inv.MaxUses, inv.Uses,
		inv.ExpiresAt, inv.CreatedAt,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("invite code %s already exists: %w", inv.Code, model.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("creating invite: %w", err)
	}
	return &inv, nil
}

// GetInviteByCode returns an invite by its normalized code.
func GetInviteByCode(ctx context.Context, db *db.DB, code string) (*model.Invite, error) {
	row := db.QueryRowContext(ctx, `SELECT `+inviteColumns+` FROM invites WHERE code = ?`, code)
	inv, err := scanInvite(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting invite: %w", err)
	}
	return inv, nil
}

// ListInvites returns all invites, newest first.
func ListInvites(ctx context.Context, db *db.DB) ([]model.Invite, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+inviteColumns+` FROM invites ORDER BY created_at DESC, code`)
	if err != nil {
		return nil, fmt.Errorf("listing invites: %w", err)
	}
	defer rows.Close()

	var invites []model.Invite
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning invite: %w", err)
		}
		invites = append(invites, *inv)
	}
	return invites, rows.Err()
}

// DeleteInvite removes an invite. It reports whether a row was deleted.
func DeleteInvite(ctx context.Context, db *db.DB, id string) (bool, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM invites WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting invite: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting invite: %w", err)
	}
	return n == 1, nil
}

// ConsumeInviteUse atomically increments uses if the invite still has a free
// slot and has not expired at now. It reports whether a use was consumed.
func ConsumeInviteUse(ctx context.Context, db *db.DB, code string, now time.Time) (bool, error) {
	return ConditionalUpdate(ctx, db, Invites, code,
		And(
			LessThanColumn("uses", "max_uses"),
			NullOrAfter("expires_at", dbTimestamp(now)),
		),
		Increment("uses"),
	)
}

// RecordRedemption stores the grant a user received from an invite.
func RecordRedemption(ctx context.Context, db *db.DB, userID string, grant model.Grant) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO invite_redemptions (id, invite_id, user_id, role, can_edit_items, redeemed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), grant.InviteID, userID, grant.Role, grant.CanEditItems, dbTimestamp(grant.RedeemedAt),
	)
	if err != nil {
		return fmt.Errorf("recording redemption: %w", err)
	}
	return nil
}

// LatestGrant returns the most recent redemption grant for a user.
func LatestGrant(ctx context.Context, db *db.DB, userID string) (*model.Grant, error) {
	g := &model.Grant{}
	err := db.QueryRowContext(ctx,
		`SELECT invite_id, role, can_edit_items, redeemed_at FROM invite_redemptions
		 WHERE user_id = ? ORDER BY redeemed_at DESC, id DESC LIMIT 1`, userID,
	).Scan(&g.InviteID, &g.Role, &g.CanEditItems, &g.RedeemedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest grant: %w", err)
	}
	return g, nil
}

func scanInvite(row rowScanner) (*model.Invite, error) {
	inv := &model.Invite{}
	err := row.Scan(&inv.ID, &inv.Code, &inv.CreatedBy, &inv.Role, &inv.CanEditItems,
		&inv.MaxUses, &inv.Uses, &inv.ExpiresAt, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return inv, nil
}
