package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/courseloom/entitlements/internal/app/store/storetest"
	"github.com/courseloom/entitlements/internal/models"
	"github.com/courseloom/entitlements/pkg/config"
	"github.com/courseloom/entitlements/pkg/types"
)

type fakeNotifier struct {
	kinds    []types.NotificationKind
	payloads []map[string]any
}

func (f *fakeNotifier) Enqueue(kind types.NotificationKind, recipient string, payload map[string]any) bool {
	f.kinds = append(f.kinds, kind)
	f.payloads = append(f.payloads, payload)
	return true
}

func newTestResolver(mem *storetest.Store) (*Resolver, *fakeNotifier) {
	notifier := &fakeNotifier{}
	cfg := &config.Config{
		Auth: config.AuthConfig{
			TokenSecret:      "test-secret",
			PasswordSetupURL: "https://app.example.com/setup",
		},
	}
	return NewResolver(mem, notifier, cfg, zap.NewNop().Sugar()), notifier
}

func TestResolvePrefersExplicitUserID(t *testing.T) {
	mem := storetest.New()
	byID := mem.AddUser(&models.User{Email: "a@example.com", PasswordHash: "x"})
	mem.AddUser(&models.User{Email: "b@example.com", PasswordHash: "x", ExternalCustomerID: lo.ToPtr("cus_1")})
	r, _ := newTestResolver(mem)

	u, err := r.Resolve(context.Background(), ResolveInput{
		UserID:     byID.ID,
		CustomerID: "cus_1",
		Email:      "b@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, byID.ID, u.ID)
}

func TestResolveFallsBackToCustomerID(t *testing.T) {
	mem := storetest.New()
	owner := mem.AddUser(&models.User{Email: "owner@example.com", PasswordHash: "x", ExternalCustomerID: lo.ToPtr("cus_7")})
	r, _ := newTestResolver(mem)

	u, err := r.Resolve(context.Background(), ResolveInput{
		UserID:     "ghost-id",
		CustomerID: "cus_7",
	})
	require.NoError(t, err)
	assert.Equal(t, owner.ID, u.ID)
}

func TestResolveByEmailRecordsCustomerID(t *testing.T) {
	mem := storetest.New()
	owner := mem.AddUser(&models.User{Email: "owner@example.com", PasswordHash: "x"})
	r, _ := newTestResolver(mem)

	u, err := r.Resolve(context.Background(), ResolveInput{
		CustomerID: "cus_9",
		Email:      "Owner@Example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, owner.ID, u.ID)
	require.NotNil(t, u.ExternalCustomerID)
	assert.Equal(t, "cus_9", *u.ExternalCustomerID)
}

func TestResolveProvisionsShadowUser(t *testing.T) {
	mem := storetest.New()
	r, notifier := newTestResolver(mem)

	plan := &models.Plan{ID: "plan_1", Name: "Pro", AccessScope: types.AccessScopeFull}
	u, err := r.Resolve(context.Background(), ResolveInput{
		CustomerID: "cus_new",
		Email:      "stranger@example.com",
		Plan:       plan,
	})
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "stranger@example.com", u.Email)
	assert.Equal(t, "stranger", u.DisplayName)
	assert.True(t, u.IsShadow())
	require.NotNil(t, u.ExternalCustomerID)
	assert.Equal(t, "cus_new", *u.ExternalCustomerID)

	// Token persisted with a seven-day expiry and valid signature.
	require.Len(t, mem.Tokens, 1)
	tok := mem.Tokens[0]
	assert.Equal(t, u.ID, tok.UserID)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), tok.ExpiresAt, time.Minute)

	parsed, err := jwt.ParseWithClaims(tok.Token, &jwt.StandardClaims{}, func(*jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)
	claims := parsed.Claims.(*jwt.StandardClaims)
	assert.Equal(t, u.ID, claims.Subject)

	// Setup mail queued with the tokenized link.
	require.Len(t, notifier.kinds, 1)
	assert.Equal(t, types.NotificationKindPasswordSetup, notifier.kinds[0])
	setupURL, _ := notifier.payloads[0]["setup_url"].(string)
	assert.Contains(t, setupURL, "https://app.example.com/setup?token=")
	assert.Contains(t, setupURL, tok.Token)
}

func TestResolveNoShadowWithoutPlan(t *testing.T) {
	mem := storetest.New()
	r, notifier := newTestResolver(mem)

	_, err := r.Resolve(context.Background(), ResolveInput{Email: "stranger@example.com"})
	assert.ErrorIs(t, err, ErrUnresolvable)
	assert.Empty(t, mem.Users)
	assert.Empty(t, notifier.kinds)
}

func TestResolveNoIdentifiers(t *testing.T) {
	mem := storetest.New()
	r, _ := newTestResolver(mem)

	_, err := r.Resolve(context.Background(), ResolveInput{})
	assert.ErrorIs(t, err, ErrUnresolvable)
}
