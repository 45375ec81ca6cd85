package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	appstore "github.com/courseloom/entitlements/internal/app/store"
	"github.com/courseloom/entitlements/internal/models"
	"github.com/courseloom/entitlements/pkg/tool"
	"github.com/courseloom/entitlements/pkg/types"
)

// GormStore implements the collaborator store interfaces over Postgres.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{db: db} }

func (s *GormStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appstore.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *GormStore) FindUserByExternalCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("external_customer_id = ?", customerID).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appstore.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *GormStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("lower(email) = lower(?)", email).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appstore.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *GormStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = tool.GenerateUUIDV7()
	}
	return s.db.WithContext(ctx).Create(u).Error
}

func (s *GormStore) SaveEntitlement(ctx context.Context, userID string, f appstore.EntitlementFields) error {
	updates := map[string]any{}
	if f.PlanID != nil {
		updates["subscription_plan_id"] = *f.PlanID
	}
	if f.ValidUntil != nil {
		updates["subscription_valid_until"] = *f.ValidUntil
	}
	if f.ClearValidUntil {
		updates["subscription_valid_until"] = nil
	}
	if f.AutoRenew != nil {
		updates["subscription_auto_renew"] = *f.AutoRenew
	}
	if f.Status != nil {
		updates["subscription_status"] = *f.Status
	}
	if f.HasFullAccess != nil {
		updates["has_full_access"] = *f.HasFullAccess
	}
	if f.HasPurchased != nil {
		updates["has_purchased"] = *f.HasPurchased
	}
	if f.LifetimeAccess != nil {
		updates["lifetime_access"] = *f.LifetimeAccess
	}
	if f.ExternalCustomerID != nil {
		updates["external_customer_id"] = *f.ExternalCustomerID
	}
	if f.CanceledImmediatelyAt != nil {
		updates["canceled_immediately_at"] = *f.CanceledImmediatelyAt
	}
	if f.ClearCanceledMarker {
		updates["canceled_immediately_at"] = nil
	}
	if len(updates) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return appstore.ErrNotFound
	}
	return nil
}

func (s *GormStore) GrantCourses(ctx context.Context, userID string, courseIDs []string) error {
	if len(courseIDs) == 0 {
		return nil
	}
	grants := make([]*models.CourseGrant, 0, len(courseIDs))
	for _, id := range courseIDs {
		grants = append(grants, &models.CourseGrant{UserID: userID, CourseID: id})
	}
	// DoNothing on the (user_id, course_id) unique index: replays are no-ops.
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(grants).Error
}

func (s *GormStore) SavePasswordSetupToken(ctx context.Context, t *models.PasswordSetupToken) error {
	if t.ID == "" {
		t.ID = tool.GenerateUUIDV7()
	}
	return s.db.WithContext(ctx).Create(t).Error
}

func (s *GormStore) FindPlanByID(ctx context.Context, id string) (*models.Plan, error) {
	var p models.Plan
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appstore.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *GormStore) FindPlanByPriceID(ctx context.Context, externalPriceID string) (*models.Plan, error) {
	var p models.Plan
	if err := s.db.WithContext(ctx).Where("external_price_id = ?", externalPriceID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appstore.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *GormStore) UpsertBillingRecord(ctx context.Context, billingID string, f appstore.BillingRecordFields) (*models.BillingRecord, error) {
	var rec models.BillingRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("billing_id = ?", billingID).First(&rec).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load billing record: %w", err)
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			rec = models.BillingRecord{ID: tool.GenerateUUIDV7(), BillingID: billingID}
		}
		if rec.Status != "" && !rec.Status.CanTransitionTo(f.Status) {
			// Never downgrade a paid record on a late or replayed delivery.
			return nil
		}
		rec.UserID = f.UserID
		rec.PlanID = f.PlanID
		rec.CourseID = f.CourseID
		rec.Status = f.Status
		rec.Amount = f.Amount
		rec.Currency = f.Currency
		rec.Gateway = f.Gateway
		if f.PaidAt != nil {
			rec.PaidAt = f.PaidAt
		}
		return tx.Save(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) GetBillingRecord(ctx context.Context, billingID string) (*models.BillingRecord, error) {
	var rec models.BillingRecord
	if err := s.db.WithContext(ctx).Where("billing_id = ?", billingID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appstore.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// filtersAnd combines CommonFilter expressions into one AND clause.
type filtersAnd struct{ filters []*types.CommonFilter }

func (w filtersAnd) Build(builder clause.Builder) {
	if len(w.filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	exprs := make([]clause.Expression, 0, len(w.filters))
	for _, f := range w.filters {
		exprs = append(exprs, f)
	}
	clause.And(exprs...).Build(builder)
}

func (s *GormStore) ScanBillingRecords(ctx context.Context, req *appstore.ScanBillingRecordsRequest) (*appstore.ScanBillingRecordsResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if req.Size <= 0 {
		req.Size = 10
	}
	if req.From < 0 {
		req.From = 0
	}

	tx := s.db.WithContext(ctx).Model(&models.BillingRecord{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{filtersAnd{filters: req.Filters}}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count billing records: %w", err)
	}

	q := tx.Limit(req.Size)
	if req.From > 0 {
		q = q.Offset(req.From)
	}
	if req.SortBy != "" {
		q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: req.SortBy}, Desc: req.SortOrder != "asc"}}})
	}

	var rows []*models.BillingRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list billing records: %w", err)
	}
	return &appstore.ScanBillingRecordsResponse{Items: rows, Total: total}, nil
}

func (s *GormStore) GetWebhookSecrets(ctx context.Context) ([]string, error) {
	var setting models.Setting
	err := s.db.WithContext(ctx).Where("key = ?", models.SettingKeyWebhookSecrets).First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var secrets []string
	for _, part := range strings.Split(setting.Value, ",") {
		if v := strings.TrimSpace(part); v != "" {
			secrets = append(secrets, v)
		}
	}
	return secrets, nil
}

var _ appstore.UserStore = (*GormStore)(nil)
var _ appstore.PlanStore = (*GormStore)(nil)
var _ appstore.LedgerStore = (*GormStore)(nil)
var _ appstore.SettingsStore = (*GormStore)(nil)
