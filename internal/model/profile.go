package model

import "time"

// Role is a profile's access level.
type Role string

// Roles.
const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// Profile is the application-side record of an identity-provider user.
type Profile struct {
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	Role         Role      `json:"role"`
	CanEditItems bool      `json:"can_edit_items"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Capabilities is the effective permission set derived from a profile.
type Capabilities struct {
	CanBorrow     bool `json:"can_borrow"`
	CanEditItems  bool `json:"can_edit_items"`
	CanAdminister bool `json:"can_administer"`
}

// CapabilitiesOf derives the capabilities of p. A nil profile
// (unauthenticated caller) has none.
func CapabilitiesOf(p *Profile) Capabilities {
	if p == nil {
		return Capabilities{}
	}
	admin := p.Role == RoleAdmin
	return Capabilities{
		CanBorrow:     true,
		CanEditItems:  p.CanEditItems || admin,
		CanAdminister: admin,
	}
}
