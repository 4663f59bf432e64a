// Package ledger owns items and categories. Item status is never written
// here; it only changes through lending.
package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/acervoteatro/acervo/internal/cache"
	"github.com/acervoteatro/acervo/internal/db"
	"github.com/acervoteatro/acervo/internal/media"
	"github.com/acervoteatro/acervo/internal/model"
	"github.com/acervoteatro/acervo/internal/store"
)

// Uploader stores an image and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, folder string) (string, error)
}

// Service implements the inventory operations.
type Service struct {
	DB       *db.DB
	Uploader Uploader
	Cache    *cache.Cache
}

// ItemInput is the body of CreateItem.
type ItemInput struct {
	Name         string `json:"name"`
	CategoryID   string `json:"category_id"`
	Code         string `json:"code"`
	Quantity     *int   `json:"quantity"`
	Condition    string `json:"condition"`
	Location     string `json:"location"`
	Observations string `json:"observations"`
}

// ItemPatch lists the fields to change; nil fields are left untouched.
// Status is accepted only to be rejected.
type ItemPatch struct {
	Name         *string `json:"name"`
	CategoryID   *string `json:"category_id"`
	Code         *string `json:"code"`
	Quantity     *int    `json:"quantity"`
	Condition    *string `json:"condition"`
	Location     *string `json:"location"`
	Observations *string `json:"observations"`
	Status       *string `json:"status"`
}

func requireEditor(actor *model.Profile) error {
	if !model.CapabilitiesOf(actor).CanEditItems {
		return model.ErrPermissionDenied
	}
	return nil
}

// CreateItem adds an available item. A missing code is generated.
func (s *Service) CreateItem(ctx context.Context, actor *model.Profile, in ItemInput) (*model.Item, error) {
	if err := requireEditor(actor); err != nil {
		return nil, err
	}

	item := model.Item{
		Name:         strings.TrimSpace(in.Name),
		CategoryID:   in.CategoryID,
		Code:         strings.ToUpper(strings.TrimSpace(in.Code)),
		Quantity:     1,
		Condition:    model.ConditionGood,
		Location:     strings.TrimSpace(in.Location),
		Observations: strings.TrimSpace(in.Observations),
	}

	var invalid []string
	if item.Name == "" {
		invalid = append(invalid, "name")
	}
	if in.Quantity != nil {
		if *in.Quantity < 0 {
			invalid = append(invalid, "quantity")
		}
		item.Quantity = *in.Quantity
	}
	if in.Condition != "" {
		c, ok := model.ParseCondition(in.Condition)
		if !ok {
			invalid = append(invalid, "condition")
		}
		item.Condition = c
	}
	if len(invalid) > 0 {
		return nil, &model.ValidationError{Fields: invalid}
	}

	if item.Code == "" {
		code, err := s.uniqueCode(ctx)
		if err != nil {
			return nil, err
		}
		item.Code = code
	} else if existing, err := store.GetItemByCode(ctx, s.DB, item.Code); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("code %s already in use: %w", item.Code, model.ErrConflict)
	}

	created, err := store.CreateItem(ctx, s.DB, item)
	if err != nil {
		return nil, err
	}
	s.Cache.Invalidate(ctx, cache.Items)
	slog.Info("item created", "item_id", created.ID, "code", created.Code, "by", actor.UserID)
	return created, nil
}

// UpdateItem changes descriptive fields with last-writer-wins semantics.
func (s *Service) UpdateItem(ctx context.Context, actor *model.Profile, id string, patch ItemPatch) (*model.Item, error) {
	if err := requireEditor(actor); err != nil {
		return nil, err
	}
	if patch.Status != nil {
		return nil, fmt.Errorf("status is set by borrow and return: %w", model.ErrInvalidState)
	}

	var sets []store.Assignment
	var invalid []string
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			invalid = append(invalid, "name")
		}
		sets = append(sets, store.Set("name", name))
	}
	if patch.CategoryID != nil {
		sets = append(sets, store.Set("category_id", *patch.CategoryID))
	}
	if patch.Code != nil {
		code := strings.ToUpper(strings.TrimSpace(*patch.Code))
		if code == "" {
			invalid = append(invalid, "code")
		}
		sets = append(sets, store.Set("code", code))
	}
	if patch.Quantity != nil {
		if *patch.Quantity < 0 {
			invalid = append(invalid, "quantity")
		}
		sets = append(sets, store.Set("quantity", *patch.Quantity))
	}
	if patch.Condition != nil {
		c, ok := model.ParseCondition(*patch.Condition)
		if !ok {
			invalid = append(invalid, "condition")
		}
		sets = append(sets, store.Set("condition", c))
	}
	if patch.Location != nil {
		sets = append(sets, store.Set("location", strings.TrimSpace(*patch.Location)))
	}
	if patch.Observations != nil {
		sets = append(sets, store.Set("observations", nullIfEmpty(strings.TrimSpace(*patch.Observations))))
	}
	if len(invalid) > 0 {
		return nil, &model.ValidationError{Fields: invalid}
	}

	if len(sets) > 0 {
		sets = append(sets, store.Set("updated_at", db.Now()))
		ok, err := store.Update(ctx, s.DB, store.Items, id, sets...)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, model.ErrNotFound
		}
		s.Cache.Invalidate(ctx, cache.Items)
	}

	item, err := store.GetItem(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, model.ErrNotFound
	}
	slog.Info("item updated", "item_id", id, "by", actor.UserID)
	return item, nil
}

// DeleteItem removes an available item. A loaned item is never deleted.
func (s *Service) DeleteItem(ctx context.Context, actor *model.Profile, id string) error {
	if err := requireEditor(actor); err != nil {
		return err
	}

	deleted, err := store.DeleteAvailableItem(ctx, s.DB, id)
	if err != nil {
		return err
	}
	if !deleted {
		item, err := store.GetItem(ctx, s.DB, id)
		if err != nil {
			return err
		}
		if item == nil {
			return model.ErrNotFound
		}
		return model.ErrItemOnLoan
	}

	s.Cache.Invalidate(ctx, cache.Items)
	slog.Info("item deleted", "item_id", id, "by", actor.UserID)
	return nil
}

// SetItemImage uploads an image for the item and stores its URL.
func (s *Service) SetItemImage(ctx context.Context, actor *model.Profile, id string, data []byte) (*model.Item, error) {
	if err := requireEditor(actor); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &model.ValidationError{Fields: []string{"image"}}
	}
	item, err := store.GetItem(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, model.ErrNotFound
	}

	url, err := s.Uploader.Upload(ctx, data, media.FolderItems)
	if err != nil {
		return nil, &model.UploadError{Err: err}
	}

	ok, err := store.Update(ctx, s.DB, store.Items, id,
		store.Set("image_url", url), store.Set("updated_at", db.Now()))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.ErrNotFound
	}
	s.Cache.Invalidate(ctx, cache.Items)

	item.ImageURL = url
	return item, nil
}

// GetItem returns an item or ErrNotFound.
func (s *Service) GetItem(ctx context.Context, id string) (*model.Item, error) {
	item, err := store.GetItem(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, model.ErrNotFound
	}
	return item, nil
}

// ListItems returns the items matching f.
func (s *Service) ListItems(ctx context.Context, f store.ItemFilter) ([]model.Item, error) {
	key := fmt.Sprintf("%s|%s|%s", strings.ToLower(strings.TrimSpace(f.Search)), f.CategoryID, f.Status)
	return cache.Fetch(ctx, s.Cache, cache.Items, key, func() ([]model.Item, error) {
		return store.ListItems(ctx, s.DB, f)
	})
}

// CreateCategory adds a category.
func (s *Service) CreateCategory(ctx context.Context, actor *model.Profile, name string) (*model.Category, error) {
	if err := requireEditor(actor); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &model.ValidationError{Fields: []string{"name"}}
	}
	c, err := store.CreateCategory(ctx, s.DB, name)
	if err != nil {
		return nil, err
	}
	s.Cache.Invalidate(ctx, cache.Categories)
	return c, nil
}

// DeleteCategory removes a category unconditionally. Items keep their now
// dangling category reference and are shown as uncategorized.
func (s *Service) DeleteCategory(ctx context.Context, actor *model.Profile, id string) error {
	if err := requireEditor(actor); err != nil {
		return err
	}
	if err := store.DeleteCategory(ctx, s.DB, id); err != nil {
		return err
	}
	s.Cache.Invalidate(ctx, cache.Categories)
	slog.Info("category deleted", "category_id", id, "by", actor.UserID)
	return nil
}

// ListCategories returns all categories.
func (s *Service) ListCategories(ctx context.Context) ([]model.Category, error) {
	return cache.Fetch(ctx, s.Cache, cache.Categories, "all", func() ([]model.Category, error) {
		return store.ListCategories(ctx, s.DB)
	})
}

// codeAlphabet holds the characters of generated item codes.
const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateCode returns a random item code of the form REF-XXXXXX.
func GenerateCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return "REF-" + string(buf), nil
}

// SuggestCode returns a generated code not yet used by any item.
func (s *Service) SuggestCode(ctx context.Context) (string, error) {
	return s.uniqueCode(ctx)
}

var errNoFreeCode = errors.New("could not generate an unused item code")

func (s *Service) uniqueCode(ctx context.Context) (string, error) {
	for range 5 {
		code, err := GenerateCode()
		if err != nil {
			return "", err
		}
		existing, err := store.GetItemByCode(ctx, s.DB, code)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return code, nil
		}
	}
	return "", errNoFreeCode
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
