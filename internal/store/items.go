package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/acervoteatro/acervo/internal/db"
	"github.com/acervoteatro/acervo/internal/model"
)

const itemColumns = `id, name, category_id, code, quantity, condition, location,
	image_url, observations, status, status_changed_at, created_at, updated_at`

// ItemFilter narrows ListItems. Zero values match everything.
type ItemFilter struct {
	Search     string
	CategoryID string
	Status     model.ItemStatus
}

// CreateItem inserts a new available item.
func CreateItem(ctx context.Context, db *db.DB, in model.Item) (*model.Item, error) {
	now := dbNow()
	item := in
	item.ID = uuid.NewString()
	item.Status = model.ItemStatusAvailable
	item.StatusChangedAt = now
	item.CreatedAt = now
	item.UpdatedAt = now

	_, err := db.ExecContext(ctx,
		`INSERT INTO items (id, name, category_id, code, quantity, condition, location,
		                    image_url, observations, status, status_changed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Name, item.CategoryID, item.Code, item.Quantity, item.Condition, item.Location,
		nullString(item.ImageURL), nullString(item.Observations), item.Status, now, now, now,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("item code %s already in use: %w", item.Code, model.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}
	return &item, nil
}

// GetItem returns an item by ID.
func GetItem(ctx context.Context, db *db.DB, id string) (*model.Item, error) {
	row := db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// GetItemByCode returns an item by its unique code.
func GetItemByCode(ctx context.Context, db *db.DB, code string) (*model.Item, error) {
	row := db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE code = ?`, code)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item by code: %w", err)
	}
	return item, nil
}

// ListItems returns items ordered by name.
func ListItems(ctx context.Context, db *db.DB, f ItemFilter) ([]model.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE 1=1`
	var args []any

	if s := strings.TrimSpace(f.Search); s != "" {
		pattern := "%" + escapeLike(strings.ToLower(s)) + "%"
		query += ` AND (LOWER(name) LIKE ? ESCAPE '\' OR LOWER(code) LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern)
	}
	if f.CategoryID != "" {
		query += ` AND category_id = ?`
		args = append(args, f.CategoryID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY name, code`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// DeleteAvailableItem hard-deletes an item only while it is available.
// It reports whether a row was deleted.
func DeleteAvailableItem(ctx context.Context, db *db.DB, id string) (bool, error) {
	result, err := db.ExecContext(ctx,
		`DELETE FROM items WHERE id = ? AND status = ?`, id, model.ItemStatusAvailable,
	)
	if err != nil {
		return false, fmt.Errorf("deleting item: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting item: %w", err)
	}
	return n == 1, nil
}

// NoActiveLoan is true for an items row with no active loan referencing it.
var NoActiveLoan = NotExists(
	`SELECT 1 FROM loans WHERE loans.item_id = items.id AND loans.status = ?`,
	model.LoanStatusActive,
)

// ListOrphanedLoanedItems returns items marked loaned with no active loan.
func ListOrphanedLoanedItems(ctx context.Context, db *db.DB) ([]model.Item, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE status = ? AND `+NoActiveLoan.sql+`
		 ORDER BY status_changed_at`,
		append([]any{model.ItemStatusLoaned}, NoActiveLoan.args...)...,
	)
	if err != nil {
		return nil, fmt.Errorf("listing orphaned items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ReleaseOrphanedItem sets a loaned item back to available if it still has no
// active loan and its status has not changed since changedAt.
func ReleaseOrphanedItem(ctx context.Context, db *db.DB, id string, changedAt time.Time) (bool, error) {
	return ConditionalUpdate(ctx, db, Items, id,
		And(
			Eq("status", model.ItemStatusLoaned),
			Eq("status_changed_at", dbTimestamp(changedAt)),
			NoActiveLoan,
		),
		Set("status", model.ItemStatusAvailable),
		Set("status_changed_at", dbNow()),
		Set("updated_at", dbNow()),
	)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*model.Item, error) {
	item := &model.Item{}
	var imageURL, observations sql.NullString
	err := row.Scan(&item.ID, &item.Name, &item.CategoryID, &item.Code, &item.Quantity,
		&item.Condition, &item.Location, &imageURL, &observations, &item.Status,
		&item.StatusChangedAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.ImageURL = imageURL.String
	item.Observations = observations.String
	return item, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func dbNow() time.Time { return db.Now() }

func dbTimestamp(t time.Time) time.Time { return db.Timestamp(t) }

func isUniqueViolation(err error) bool { return db.IsUniqueViolation(err) }
