// Package access manages invites, profiles and permissions. Invite uses are
// consumed by a single conditional increment and profiles are created by an
// insert that yields to an existing row, so neither needs a lock.
package access

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/acervoteatro/acervo/internal/db"
	"github.com/acervoteatro/acervo/internal/metrics"
	"github.com/acervoteatro/acervo/internal/model"
	"github.com/acervoteatro/acervo/internal/store"
)

// Controller implements the invite and profile operations.
type Controller struct {
	DB      *db.DB
	Metrics *metrics.Metrics
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// InviteInput is the body of CreateInvite.
type InviteInput struct {
	Code         string     `json:"code"`
	Role         string     `json:"role"`
	CanEditItems bool       `json:"can_edit_items"`
	MaxUses      int        `json:"max_uses"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

// Reasons reported by ValidateInvite.
const (
	ReasonNotFound  = "not_found"
	ReasonExhausted = "exhausted"
	ReasonExpired   = "expired"
)

// InviteCheck is the advisory result of ValidateInvite.
type InviteCheck struct {
	Valid        bool       `json:"valid"`
	Reason       string     `json:"reason,omitempty"`
	Role         model.Role `json:"role,omitempty"`
	CanEditItems bool       `json:"can_edit_items,omitempty"`
}

// PermissionPatch changes a profile's role and edit permission.
type PermissionPatch struct {
	Role         *string `json:"role"`
	CanEditItems *bool   `json:"can_edit_items"`
}

func requireAdmin(actor *model.Profile) error {
	if !model.CapabilitiesOf(actor).CanAdminister {
		return model.ErrPermissionDenied
	}
	return nil
}

// CreateInvite issues an invite. An empty code is generated.
func (c *Controller) CreateInvite(ctx context.Context, actor *model.Profile, in InviteInput) (*model.Invite, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	inv := model.Invite{
		Code:         model.NormalizeInviteCode(in.Code),
		CreatedBy:    actor.UserID,
		Role:         model.RoleUser,
		CanEditItems: in.CanEditItems,
		MaxUses:      in.MaxUses,
		ExpiresAt:    in.ExpiresAt,
	}
	if inv.MaxUses == 0 {
		inv.MaxUses = 1
	}

	var invalid []string
	if in.Role != "" {
		inv.Role = model.Role(strings.ToLower(strings.TrimSpace(in.Role)))
		if !inv.Role.Valid() {
			invalid = append(invalid, "role")
		}
	}
	if inv.MaxUses < 1 {
		invalid = append(invalid, "max_uses")
	}
	if inv.ExpiresAt != nil && !inv.ExpiresAt.After(c.now()) {
		invalid = append(invalid, "expires_at")
	}
	if strings.ContainsAny(inv.Code, " \t\n") {
		invalid = append(invalid, "code")
	}
	if len(invalid) > 0 {
		return nil, &model.ValidationError{Fields: invalid}
	}

	if inv.Code == "" {
		code, err := GenerateInviteCode()
		if err != nil {
			return nil, err
		}
		inv.Code = code
	}
	if existing, err := store.GetInviteByCode(ctx, c.DB, inv.Code); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("invite code %s already exists: %w", inv.Code, model.ErrConflict)
	}

	created, err := store.CreateInvite(ctx, c.DB, inv)
	if err != nil {
		return nil, err
	}
	slog.Info("invite created", "code", created.Code, "role", created.Role, "max_uses", created.MaxUses, "by", actor.UserID)
	return created, nil
}

// ListInvites returns all invites.
func (c *Controller) ListInvites(ctx context.Context, actor *model.Profile) ([]model.Invite, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return store.ListInvites(ctx, c.DB)
}

// RevokeInvite deletes an invite. Grants already redeemed are kept.
func (c *Controller) RevokeInvite(ctx context.Context, actor *model.Profile, id string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	deleted, err := store.DeleteInvite(ctx, c.DB, id)
	if err != nil {
		return err
	}
	if !deleted {
		return model.ErrNotFound
	}
	slog.Info("invite revoked", "invite_id", id, "by", actor.UserID)
	return nil
}

// ValidateInvite reports whether code could be redeemed now. It reserves
// nothing; only RedeemInvite is authoritative.
func (c *Controller) ValidateInvite(ctx context.Context, code string) (InviteCheck, error) {
	inv, err := store.GetInviteByCode(ctx, c.DB, model.NormalizeInviteCode(code))
	if err != nil {
		return InviteCheck{}, err
	}
	switch {
	case inv == nil:
		return InviteCheck{Reason: ReasonNotFound}, nil
	case inv.Exhausted():
		return InviteCheck{Reason: ReasonExhausted}, nil
	case inv.Expired(c.now()):
		return InviteCheck{Reason: ReasonExpired}, nil
	}
	return InviteCheck{Valid: true, Role: inv.Role, CanEditItems: inv.CanEditItems}, nil
}

// RedeemInvite consumes one use of code for userID and records the grant
// for the user's profile bootstrap. Unknown, expired and exhausted codes all
// fail with ErrInviteExhausted.
func (c *Controller) RedeemInvite(ctx context.Context, code, userID string) (*model.Grant, error) {
	code = model.NormalizeInviteCode(code)
	if code == "" {
		return nil, &model.ValidationError{Fields: []string{"code"}}
	}
	if userID == "" {
		return nil, &model.ValidationError{Fields: []string{"user_id"}}
	}

	now := c.now()
	ok, err := store.ConsumeInviteUse(ctx, c.DB, code, now)
	if err != nil {
		c.Metrics.Redeemed("error")
		return nil, err
	}
	if !ok {
		c.Metrics.Redeemed("exhausted")
		slog.Warn("invite redemption refused", "code", code, "user_id", userID)
		return nil, fmt.Errorf("invite %s: %w", code, model.ErrInviteExhausted)
	}

	// The use is consumed; from here on the grant must be recorded.
	ctx = context.WithoutCancel(ctx)

	inv, err := store.GetInviteByCode(ctx, c.DB, code)
	if err != nil {
		return nil, err
	}
	grant := model.DefaultGrant()
	if inv != nil {
		grant = model.Grant{InviteID: inv.ID, Role: inv.Role, CanEditItems: inv.CanEditItems}
	} else {
		slog.Warn("invite revoked during redemption, using defaults", "code", code, "user_id", userID)
	}
	grant.RedeemedAt = db.Timestamp(now)

	if err := store.RecordRedemption(ctx, c.DB, userID, grant); err != nil {
		return nil, err
	}
	c.Metrics.Redeemed("ok")
	slog.Info("invite redeemed", "code", code, "user_id", userID, "role", grant.Role)
	return &grant, nil
}

// BootstrapProfile returns the user's profile, creating it on first call
// from the latest redeemed grant or the defaults. It is safe to call
// repeatedly and concurrently; the only change made to an existing profile
// is transcribing a new display name.
func (c *Controller) BootstrapProfile(ctx context.Context, userID, displayName string) (*model.Profile, error) {
	if userID == "" {
		return nil, &model.ValidationError{Fields: []string{"user_id"}}
	}
	displayName = strings.TrimSpace(displayName)

	p, err := store.GetProfile(ctx, c.DB, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		grant := model.DefaultGrant()
		latest, err := store.LatestGrant(ctx, c.DB, userID)
		if err != nil {
			return nil, err
		}
		if latest != nil {
			grant = *latest
		}
		p, err = store.InsertProfileIfAbsent(ctx, c.DB, userID, displayName, grant)
		if err != nil {
			return nil, err
		}
		slog.Info("profile bootstrapped", "user_id", userID, "role", p.Role, "can_edit_items", p.CanEditItems)
	}

	if displayName != "" && p.DisplayName != displayName {
		now := db.Now()
		if _, err := store.Update(ctx, c.DB, store.Profiles, userID,
			store.Set("display_name", displayName), store.Set("updated_at", now)); err != nil {
			return nil, err
		}
		p.DisplayName = displayName
		p.UpdatedAt = now
	}
	return p, nil
}

// UpdatePermissions lets an admin change another user's role or edit
// permission. Admins cannot target themselves.
func (c *Controller) UpdatePermissions(ctx context.Context, adminID, targetUserID string, patch PermissionPatch) (*model.Profile, error) {
	caller, err := store.GetProfile(ctx, c.DB, adminID)
	if err != nil {
		return nil, err
	}
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if targetUserID == adminID {
		return nil, model.ErrInvalidTarget
	}

	var sets []store.Assignment
	if patch.Role != nil {
		role := model.Role(strings.ToLower(strings.TrimSpace(*patch.Role)))
		if !role.Valid() {
			return nil, &model.ValidationError{Fields: []string{"role"}}
		}
		sets = append(sets, store.Set("role", role))
	}
	if patch.CanEditItems != nil {
		sets = append(sets, store.Set("can_edit_items", *patch.CanEditItems))
	}

	if len(sets) > 0 {
		sets = append(sets, store.Set("updated_at", db.Now()))
		ok, err := store.Update(ctx, c.DB, store.Profiles, targetUserID, sets...)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, model.ErrNotFound
		}
	}

	p, err := store.GetProfile(ctx, c.DB, targetUserID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, model.ErrNotFound
	}
	slog.Info("permissions updated", "user_id", targetUserID, "role", p.Role, "can_edit_items", p.CanEditItems, "by", adminID)
	return p, nil
}

// GetProfile returns a profile or ErrNotFound.
func (c *Controller) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := store.GetProfile(ctx, c.DB, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, model.ErrNotFound
	}
	return p, nil
}

// ListProfiles returns all profiles.
func (c *Controller) ListProfiles(ctx context.Context, actor *model.Profile) ([]model.Profile, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return store.ListProfiles(ctx, c.DB)
}

// inviteAlphabet omits characters that are easy to misread (0/O, 1/I).
const inviteAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateInviteCode returns a random 8-character invite code.
func GenerateInviteCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating invite code: %w", err)
	}
	for i, b := range buf {
		buf[i] = inviteAlphabet[int(b)%len(inviteAlphabet)]
	}
	return string(buf), nil
}
