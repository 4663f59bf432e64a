package model

import (
	"strings"
	"time"
)

// ItemStatus is derived from the loan lifecycle; clients never set it directly.
type ItemStatus string

// Item statuses.
const (
	ItemStatusAvailable ItemStatus = "available"
	ItemStatusLoaned    ItemStatus = "loaned"
)

// Valid reports whether s is a known item status.
func (s ItemStatus) Valid() bool {
	return s == ItemStatusAvailable || s == ItemStatusLoaned
}

// Condition describes the physical state of an item.
type Condition string

// Item conditions.
const (
	ConditionNew     Condition = "new"
	ConditionGood    Condition = "good"
	ConditionDamaged Condition = "damaged"
)

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	switch c {
	case ConditionNew, ConditionGood, ConditionDamaged:
		return true
	}
	return false
}

// conditionAliases maps the labels used by the front-end to conditions.
var conditionAliases = map[string]Condition{
	"new":            ConditionNew,
	"novo":           ConditionNew,
	"good":           ConditionGood,
	"bom":            ConditionGood,
	"boas condições": ConditionGood,
	"damaged":        ConditionDamaged,
	"danificado":     ConditionDamaged,
	"avariado":       ConditionDamaged,
}

// ParseCondition accepts a canonical condition or one of its labels.
func ParseCondition(s string) (Condition, bool) {
	c, ok := conditionAliases[strings.ToLower(strings.TrimSpace(s))]
	return c, ok
}

// Item is a physical inventory entry (costume, prop, set piece).
type Item struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	CategoryID      string     `json:"category_id"`
	Code            string     `json:"code"`
	Quantity        int        `json:"quantity"`
	Condition       Condition  `json:"condition"`
	Location        string     `json:"location"`
	ImageURL        string     `json:"image_url,omitempty"`
	Observations    string     `json:"observations,omitempty"`
	Status          ItemStatus `json:"status"`
	StatusChangedAt time.Time  `json:"status_changed_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Category groups items. Deleting one leaves items with a dangling CategoryID.
type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
