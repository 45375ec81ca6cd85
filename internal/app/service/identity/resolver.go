package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/courseloom/entitlements/internal/app/store"
	"github.com/courseloom/entitlements/internal/models"
	"github.com/courseloom/entitlements/pkg/config"
	"github.com/courseloom/entitlements/pkg/tool"
	"github.com/courseloom/entitlements/pkg/types"
)

// ErrUnresolvable means the event carries no identifier that maps to a
// user and not enough data to provision one. Callers treat it as an
// ignorable delivery, not a failure.
var ErrUnresolvable = errors.New("identity: no resolvable user")

const setupTokenTTL = 7 * 24 * time.Hour

// Notifier matches the dispatcher's enqueue surface.
type Notifier interface {
	Enqueue(kind types.NotificationKind, recipient string, payload map[string]any) bool
}

// ResolveInput carries every identifier an event may expose, in
// decreasing order of trust.
type ResolveInput struct {
	// UserID is the platform user id from checkout metadata or the
	// session's client reference.
	UserID     string
	CustomerID string
	Email      string
	// Plan must be known before a shadow user is provisioned: a purchase
	// with no derivable plan has nothing to grant.
	Plan *models.Plan
}

// Resolver maps provider events to platform users, provisioning a shadow
// account when a purchase arrives for an unknown email.
type Resolver struct {
	users  store.UserStore
	notify Notifier
	cfg    *config.Config
	log    *zap.SugaredLogger
	now    func() time.Time
}

func NewResolver(users store.UserStore, notify Notifier, cfg *config.Config, log *zap.SugaredLogger) *Resolver {
	return &Resolver{users: users, notify: notify, cfg: cfg, log: log, now: time.Now}
}

// Resolve finds the user an event belongs to. Lookup order: explicit user
// id, then the stored provider customer id, then email. When only an
// email is known and a plan is derivable, a shadow account is created so
// the payment is never dropped.
func (r *Resolver) Resolve(ctx context.Context, in ResolveInput) (*models.User, error) {
	if in.UserID != "" {
		u, err := r.users.GetUser(ctx, in.UserID)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("resolve by user id %s: %w", in.UserID, err)
		}
		r.log.Warnw("event referenced unknown user id, falling back", "user_id", in.UserID)
	}
	if in.CustomerID != "" {
		u, err := r.users.FindUserByExternalCustomerID(ctx, in.CustomerID)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("resolve by customer id %s: %w", in.CustomerID, err)
		}
	}
	if in.Email != "" {
		u, err := r.users.FindUserByEmail(ctx, in.Email)
		if err == nil {
			if in.CustomerID != "" && u.ExternalCustomerID == nil {
				if err := r.users.SaveEntitlement(ctx, u.ID, store.EntitlementFields{
					ExternalCustomerID: lo.ToPtr(in.CustomerID),
				}); err != nil {
					return nil, fmt.Errorf("record customer id for %s: %w", u.ID, err)
				}
			}
			return u, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("resolve by email: %w", err)
		}
		if in.Plan != nil {
			return r.provisionShadow(ctx, in)
		}
	}
	return nil, ErrUnresolvable
}

// provisionShadow creates a passwordless account for a paying stranger
// and mails a setup link so the buyer can claim it.
func (r *Resolver) provisionShadow(ctx context.Context, in ResolveInput) (*models.User, error) {
	u := &models.User{
		ID:          tool.GenerateUUIDV7(),
		Email:       in.Email,
		DisplayName: displayNameFromEmail(in.Email),
	}
	if in.CustomerID != "" {
		u.ExternalCustomerID = lo.ToPtr(in.CustomerID)
	}
	if err := r.users.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("provision shadow user: %w", err)
	}

	token, expiresAt, err := r.issueSetupToken(u.ID)
	if err != nil {
		return nil, fmt.Errorf("issue setup token for %s: %w", u.ID, err)
	}
	if err := r.users.SavePasswordSetupToken(ctx, &models.PasswordSetupToken{
		ID:        tool.GenerateUUIDV7(),
		UserID:    u.ID,
		Token:     token,
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, fmt.Errorf("save setup token for %s: %w", u.ID, err)
	}

	r.log.Infow("provisioned shadow user", "user_id", u.ID, "email", u.Email)
	if r.notify != nil {
		r.notify.Enqueue(types.NotificationKindPasswordSetup, u.Email, map[string]any{
			"setup_url": r.setupURL(token),
		})
	}
	return u, nil
}

func (r *Resolver) issueSetupToken(userID string) (string, time.Time, error) {
	expiresAt := r.now().Add(setupTokenTTL)
	claims := jwt.StandardClaims{
		Subject:   userID,
		IssuedAt:  r.now().Unix(),
		ExpiresAt: expiresAt.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(r.cfg.Auth.TokenSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (r *Resolver) setupURL(token string) string {
	base := r.cfg.Auth.PasswordSetupURL
	if base == "" {
		return token
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + token
}

func displayNameFromEmail(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}
