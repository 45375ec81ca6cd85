// Package storetest provides in-memory store implementations for
// service-level tests, mirroring the semantics of the GORM-backed stores.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/courseloom/entitlements/internal/app/store"
	"github.com/courseloom/entitlements/internal/models"
	"github.com/courseloom/entitlements/pkg/tool"
)

type Store struct {
	mu sync.Mutex

	Users   map[string]*models.User
	Plans   map[string]*models.Plan
	Records map[string]*models.BillingRecord // keyed by billing_id
	Grants  map[string]map[string]bool      // user id -> course id set
	Tokens  []*models.PasswordSetupToken
	Secrets []string
}

func New() *Store {
	return &Store{
		Users:   map[string]*models.User{},
		Plans:   map[string]*models.Plan{},
		Records: map[string]*models.BillingRecord{},
		Grants:  map[string]map[string]bool{},
	}
}

func (s *Store) AddUser(u *models.User) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = tool.GenerateUUIDV7()
	}
	s.Users[u.ID] = u
	return u
}

func (s *Store) AddPlan(p *models.Plan) *models.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Plans[p.ID] = p
	return p
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (s *Store) FindUserByExternalCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.Users {
		if u.ExternalCustomerID != nil && *u.ExternalCustomerID == customerID {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.Users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = tool.GenerateUUIDV7()
	}
	u.CreatedAt = time.Now()
	s.Users[u.ID] = u
	return nil
}

func (s *Store) SaveEntitlement(ctx context.Context, userID string, f store.EntitlementFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[userID]
	if !ok {
		return store.ErrNotFound
	}
	if f.PlanID != nil {
		u.SubscriptionPlanID = f.PlanID
	}
	if f.ValidUntil != nil {
		u.SubscriptionValidUntil = f.ValidUntil
	}
	if f.ClearValidUntil {
		u.SubscriptionValidUntil = nil
	}
	if f.AutoRenew != nil {
		u.SubscriptionAutoRenew = *f.AutoRenew
	}
	if f.Status != nil {
		u.SubscriptionStatus = *f.Status
	}
	if f.HasFullAccess != nil {
		u.HasFullAccess = *f.HasFullAccess
	}
	if f.HasPurchased != nil {
		u.HasPurchased = *f.HasPurchased
	}
	if f.LifetimeAccess != nil {
		u.LifetimeAccess = *f.LifetimeAccess
	}
	if f.ExternalCustomerID != nil {
		u.ExternalCustomerID = f.ExternalCustomerID
	}
	if f.CanceledImmediatelyAt != nil {
		u.CanceledImmediatelyAt = f.CanceledImmediatelyAt
	}
	if f.ClearCanceledMarker {
		u.CanceledImmediatelyAt = nil
	}
	u.UpdatedAt = time.Now()
	return nil
}

func (s *Store) GrantCourses(ctx context.Context, userID string, courseIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.Grants[userID]
	if !ok {
		set = map[string]bool{}
		s.Grants[userID] = set
	}
	for _, id := range courseIDs {
		set[id] = true
	}
	return nil
}

// GrantedCourses returns the user's course set, sorted, for assertions.
func (s *Store) GrantedCourses(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.Grants[userID]))
	for id := range s.Grants[userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Store) SavePasswordSetupToken(ctx context.Context, t *models.PasswordSetupToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = tool.GenerateUUIDV7()
	}
	s.Tokens = append(s.Tokens, t)
	return nil
}

func (s *Store) FindPlanByID(ctx context.Context, id string) (*models.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Plans[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) FindPlanByPriceID(ctx context.Context, externalPriceID string) (*models.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.Plans {
		if p.ExternalPriceID != nil && *p.ExternalPriceID == externalPriceID {
			return p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpsertBillingRecord(ctx context.Context, billingID string, f store.BillingRecordFields) (*models.BillingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.Records[billingID]
	if !ok {
		rec = &models.BillingRecord{
			ID:        tool.GenerateUUIDV7(),
			BillingID: billingID,
			CreatedAt: time.Now(),
		}
		s.Records[billingID] = rec
	}
	if !rec.Status.CanTransitionTo(f.Status) {
		return rec, nil
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
	rec.UpdatedAt = time.Now()
	return rec, nil
}

func (s *Store) GetBillingRecord(ctx context.Context, billingID string) (*models.BillingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.Records[billingID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec, nil
}

func (s *Store) ScanBillingRecords(ctx context.Context, req *store.ScanBillingRecordsRequest) (*store.ScanBillingRecordsResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]*models.BillingRecord, 0, len(s.Records))
	for _, rec := range s.Records {
		items = append(items, rec)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return &store.ScanBillingRecordsResponse{Items: items, Total: int64(len(items))}, nil
}

func (s *Store) GetWebhookSecrets(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Secrets...), nil
}
