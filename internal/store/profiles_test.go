package store

import (
	"context"
	"sync"
	"testing"

	"github.com/acervoteatro/acervo/internal/db"
	"github.com/acervoteatro/acervo/internal/model"
)

func TestInsertProfileIfAbsent(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	p, err := InsertProfileIfAbsent(ctx, database, "user-1", "Joana",
		model.Grant{Role: model.RoleUser, CanEditItems: true})
	if err != nil {
		t.Fatalf("InsertProfileIfAbsent: %v", err)
	}
	if p.Role != model.RoleUser || !p.CanEditItems || p.DisplayName != "Joana" {
		t.Errorf("unexpected profile: %+v", p)
	}

	// Second insert keeps the first row.
	p, err = InsertProfileIfAbsent(ctx, database, "user-1", "Other", model.Grant{Role: model.RoleAdmin})
	if err != nil {
		t.Fatalf("InsertProfileIfAbsent: %v", err)
	}
	if p.Role != model.RoleUser || p.DisplayName != "Joana" {
		t.Errorf("expected existing profile to be kept, got %+v", p)
	}
}

func TestInsertProfileIfAbsentConcurrent(t *testing.T) {
	database := db.NewTestFileDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := InsertProfileIfAbsent(ctx, database, "user-1", "Joana", model.DefaultGrant()); err != nil {
				t.Errorf("InsertProfileIfAbsent: %v", err)
			}
		}()
	}
	wg.Wait()

	profiles, err := ListProfiles(ctx, database)
	if err != nil {
		t.Fatalf("ListProfiles: %v", err)
	}
	if len(profiles) != 1 {
		t.Errorf("expected 1 profile, got %d", len(profiles))
	}
}

func TestCountAdmins(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	InsertProfileIfAbsent(ctx, database, "a", "A", model.Grant{Role: model.RoleAdmin})
	InsertProfileIfAbsent(ctx, database, "b", "B", model.DefaultGrant())

	n, err := CountAdmins(ctx, database)
	if err != nil {
		t.Fatalf("CountAdmins: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 admin, got %d", n)
	}
}
