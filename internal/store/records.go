package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/acervoteatro/acervo/internal/db"
	"github.com/acervoteatro/acervo/internal/model"
)

// Table describes a record table addressable by ConditionalUpdate.
type Table struct {
	Name    string
	Key     string
	columns map[string]bool
}

func newTable(name, key string, columns ...string) Table {
	cols := make(map[string]bool, len(columns))
	for _, c := range columns {
		cols[c] = true
	}
	return Table{Name: name, Key: key, columns: cols}
}

// Tables addressable by ConditionalUpdate.
var (
	Items = newTable("items", "id",
		"name", "category_id", "code", "quantity", "condition", "location",
		"image_url", "observations", "status", "status_changed_at", "updated_at")
	Loans = newTable("loans", "id",
		"status", "return_date", "return_condition")
	Invites = newTable("invites", "code",
		"uses", "max_uses", "expires_at", "role", "can_edit_items")
	Profiles = newTable("profiles", "user_id",
		"display_name", "role", "can_edit_items", "updated_at")
	Categories = newTable("categories", "id", "name")
)

// Predicate is a boolean condition evaluated against the current row inside
// the same statement that applies the patch.
type Predicate struct {
	sql  string
	args []any
}

// Eq matches rows where column equals value.
func Eq(column string, value any) Predicate {
	return Predicate{sql: column + " = ?", args: []any{value}}
}

// LessThanColumn matches rows where column < other (both columns of the row).
func LessThanColumn(column, other string) Predicate {
	return Predicate{sql: column + " < " + other}
}

// NullOrAfter matches rows where column is NULL or strictly after value.
func NullOrAfter(column string, value any) Predicate {
	return Predicate{sql: "(" + column + " IS NULL OR " + column + " > ?)", args: []any{value}}
}

// NotExists matches rows for which the subquery returns no rows. The subquery
// may reference the updated table by name.
func NotExists(subquery string, args ...any) Predicate {
	return Predicate{sql: "NOT EXISTS (" + subquery + ")", args: args}
}

// And combines predicates.
func And(preds ...Predicate) Predicate {
	var parts []string
	var args []any
	for _, p := range preds {
		if p.sql == "" {
			continue
		}
		parts = append(parts, p.sql)
		args = append(args, p.args...)
	}
	return Predicate{sql: strings.Join(parts, " AND "), args: args}
}

// Assignment sets one column.
type Assignment struct {
	column string
	expr   string
	value  any
}

// Set assigns a value to a column.
func Set(column string, value any) Assignment {
	return Assignment{column: column, expr: "?", value: value}
}

// Increment adds one to an integer column.
func Increment(column string) Assignment {
	return Assignment{column: column, expr: column + " + 1"}
}

// ConditionalUpdate applies patch to the row of table identified by key only
// if expected holds, as a single statement. It reports whether the row was
// updated; a predicate mismatch (or a missing row) is not an error. A patch
// that collides with a unique column fails with model.ErrConflict.
func ConditionalUpdate(ctx context.Context, db *db.DB, table Table, key string, expected Predicate, patch ...Assignment) (bool, error) {
	if len(patch) == 0 {
		return false, fmt.Errorf("conditional update of %s: empty patch", table.Name)
	}

	sets := make([]string, 0, len(patch))
	var args []any
	for _, a := range patch {
		if !table.columns[a.column] {
			return false, fmt.Errorf("conditional update of %s: column %q not updatable", table.Name, a.column)
		}
		sets = append(sets, a.column+" = "+a.expr)
		if a.expr == "?" {
			args = append(args, a.value)
		}
	}

	query := "UPDATE " + table.Name + " SET " + strings.Join(sets, ", ") +
		" WHERE " + table.Key + " = ?"
	args = append(args, key)
	if expected.sql != "" {
		query += " AND " + expected.sql
		args = append(args, expected.args...)
	}

	result, err := db.ExecContext(ctx, query, args...)
	if isUniqueViolation(err) {
		return false, fmt.Errorf("conditional update of %s: %w", table.Name, model.ErrConflict)
	}
	if err != nil {
		return false, fmt.Errorf("conditional update of %s: %w", table.Name, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("conditional update of %s: %w", table.Name, err)
	}
	return n == 1, nil
}

// Update applies patch unconditionally (last writer wins). It reports whether
// the row exists.
func Update(ctx context.Context, db *db.DB, table Table, key string, patch ...Assignment) (bool, error) {
	return ConditionalUpdate(ctx, db, table, key, Predicate{}, patch...)
}
