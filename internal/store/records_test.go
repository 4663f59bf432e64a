package store

import (
	"context"
	"sync"
	"testing"

	"github.com/acervoteatro/acervo/internal/db"
	"github.com/acervoteatro/acervo/internal/model"
)

func TestConditionalUpdate(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	item := createTestItem(t, database, "Véu", "REF-VEU001")

	ok, err := ConditionalUpdate(ctx, database, Items, item.ID,
		Eq("status", model.ItemStatusLoaned),
		Set("status", model.ItemStatusAvailable))
	if err != nil {
		t.Fatalf("ConditionalUpdate: %v", err)
	}
	if ok {
		t.Error("expected predicate mismatch to report false")
	}

	ok, err = ConditionalUpdate(ctx, database, Items, item.ID,
		Eq("status", model.ItemStatusAvailable),
		Set("status", model.ItemStatusLoaned))
	if err != nil {
		t.Fatalf("ConditionalUpdate: %v", err)
	}
	if !ok {
		t.Error("expected matching predicate to report true")
	}

	ok, _ = ConditionalUpdate(ctx, database, Items, "missing",
		Eq("status", model.ItemStatusAvailable),
		Set("status", model.ItemStatusLoaned))
	if ok {
		t.Error("expected missing row to report false")
	}
}

func TestConditionalUpdateRejectsUnknownColumn(t *testing.T) {
	database := db.NewTestDB(t)

	_, err := ConditionalUpdate(context.Background(), database, Items, "x",
		Predicate{}, Set("created_at", db.Now()))
	if err == nil {
		t.Error("expected error for non-updatable column")
	}

	_, err = ConditionalUpdate(context.Background(), database, Items, "x", Predicate{})
	if err == nil {
		t.Error("expected error for empty patch")
	}
}

func TestConditionalUpdateRace(t *testing.T) {
	database := db.NewTestFileDB(t)
	ctx := context.Background()
	item := createTestItem(t, database, "Sandália", "REF-SAN001")

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ConditionalUpdate(ctx, database, Items, item.ID,
				Eq("status", model.ItemStatusAvailable),
				Set("status", model.ItemStatusLoaned))
			if err != nil {
				t.Errorf("ConditionalUpdate: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly 1 winner, got %d", wins)
	}
}

func TestIncrement(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	inv, err := CreateInvite(ctx, database, model.Invite{
		Code: "ABC", CreatedBy: "admin", Role: model.RoleUser, MaxUses: 3,
	})
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if _, err := Update(ctx, database, Invites, inv.Code, Increment("uses")); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := GetInviteByCode(ctx, database, "ABC")
	if got.Uses != 1 {
		t.Errorf("expected uses 1, got %d", got.Uses)
	}
}
