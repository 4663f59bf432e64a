package model

import (
	"strings"
	"time"
)

// Invite grants a role and edit permission to whoever redeems its code.
type Invite struct {
	ID           string     `json:"id"`
	Code         string     `json:"code"`
	CreatedBy    string     `json:"created_by"`
	Role         Role       `json:"role"`
	CanEditItems bool       `json:"can_edit_items"`
	MaxUses      int        `json:"max_uses"`
	Uses         int        `json:"uses"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NormalizeInviteCode trims whitespace and upper-cases a code.
func NormalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Expired reports whether the invite has expired at now.
func (i *Invite) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}

// Exhausted reports whether all uses have been consumed.
func (i *Invite) Exhausted() bool {
	return i.Uses >= i.MaxUses
}

// Usable reports whether the invite could be redeemed at now.
// This is advisory: redemption re-checks atomically.
func (i *Invite) Usable(now time.Time) bool {
	return !i.Exhausted() && !i.Expired(now)
}

// Grant is the role and permission a redeemed invite confers.
type Grant struct {
	InviteID     string    `json:"invite_id"`
	Role         Role      `json:"role"`
	CanEditItems bool      `json:"can_edit_items"`
	RedeemedAt   time.Time `json:"redeemed_at"`
}

// DefaultGrant is applied when no invite was redeemed.
func DefaultGrant() Grant {
	return Grant{Role: RoleUser}
}
