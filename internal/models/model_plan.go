package models

import (
	"time"

	"github.com/courseloom/entitlements/pkg/types"
	"gorm.io/datatypes"
)

// Plan describes a purchasable product: either full-platform access or a
// fixed set of courses. ExternalPriceID maps the provider's price
// identifier back to this plan when webhook metadata carries no plan id.
type Plan struct {
	ID              string                          `gorm:"column:id;type:varchar(64);primary_key" json:"id"`
	Name            string                          `gorm:"column:name;type:varchar(255);not null" json:"name"`
	PriceCents      int64                           `gorm:"column:price_cents;type:bigint;not null" json:"price_cents"`
	Currency        string                          `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	DurationDays    int                             `gorm:"column:duration_days;not null;default:0" json:"duration_days"`
	AccessScope     types.AccessScope               `gorm:"column:access_scope;type:varchar(16);not null" json:"access_scope"`
	CourseIDs       datatypes.JSONSlice[string]     `gorm:"column:course_ids;type:jsonb;default:'[]'" json:"course_ids"`
	ExternalPriceID *string                         `gorm:"column:external_price_id;type:varchar(128);uniqueIndex" json:"external_price_id"`
	CreatedAt       time.Time                       `json:"created_at"`
	UpdatedAt       time.Time                       `json:"updated_at"`
}

func (Plan) TableName() string { return "plan" }

func (p *Plan) IsFullAccess() bool {
	return p != nil && p.AccessScope == types.AccessScopeFull
}
