package store

import (
	"context"
	"errors"
	"time"

	"github.com/courseloom/entitlements/internal/models"
	"github.com/courseloom/entitlements/pkg/types"
)

var ErrNotFound = errors.New("store: not found")

// EntitlementFields is the writable slice of a user's entitlement state.
// Nil pointer members are left untouched by SaveEntitlement.
type EntitlementFields struct {
	PlanID                *string
	ValidUntil            *time.Time
	ClearValidUntil       bool
	AutoRenew             *types.AutoRenew
	Status                *types.EntitlementStatus
	HasFullAccess         *bool
	HasPurchased          *bool
	LifetimeAccess        *bool
	ExternalCustomerID    *string
	CanceledImmediatelyAt *time.Time
	ClearCanceledMarker   bool
}

// UserStore is the user-side collaborator the reconciliation core consumes.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	FindUserByExternalCustomerID(ctx context.Context, customerID string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	SaveEntitlement(ctx context.Context, userID string, fields EntitlementFields) error
	// GrantCourses unions courseIDs into the user's granted set. Duplicate
	// deliveries insert nothing.
	GrantCourses(ctx context.Context, userID string, courseIDs []string) error
	SavePasswordSetupToken(ctx context.Context, t *models.PasswordSetupToken) error
}

type PlanStore interface {
	FindPlanByID(ctx context.Context, id string) (*models.Plan, error)
	FindPlanByPriceID(ctx context.Context, externalPriceID string) (*models.Plan, error)
}

// BillingRecordFields carries the upsert payload for one ledger write.
type BillingRecordFields struct {
	UserID   string
	PlanID   *string
	CourseID *string
	Status   types.BillingStatus
	Amount   float64
	Currency string
	Gateway  string
	PaidAt   *time.Time
}

type ScanBillingRecordsRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ScanBillingRecordsResponse struct {
	Items []*models.BillingRecord `json:"items"`
	Total int64                   `json:"total"`
}

// LedgerStore keeps one row per external transaction, keyed by the
// provider's natural id. Status transitions are forward-only.
type LedgerStore interface {
	UpsertBillingRecord(ctx context.Context, billingID string, fields BillingRecordFields) (*models.BillingRecord, error)
	GetBillingRecord(ctx context.Context, billingID string) (*models.BillingRecord, error)
	ScanBillingRecords(ctx context.Context, req *ScanBillingRecordsRequest) (*ScanBillingRecordsResponse, error)
}

type SettingsStore interface {
	// GetWebhookSecrets returns persisted secrets, newest first.
	GetWebhookSecrets(ctx context.Context) ([]string, error)
}
