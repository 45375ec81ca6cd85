package webhook

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/courseloom/entitlements/internal/app/service/entitlement"
	"github.com/courseloom/entitlements/internal/app/service/eventlog"
	"github.com/courseloom/entitlements/internal/app/service/identity"
	"github.com/courseloom/entitlements/internal/app/service/lifecycle"
	"github.com/courseloom/entitlements/internal/app/service/notify"
	"github.com/courseloom/entitlements/internal/app/store"
	"github.com/courseloom/entitlements/internal/platform/stripeapi"
	"github.com/courseloom/entitlements/pkg/config"
	"github.com/courseloom/entitlements/pkg/ringlog"
)

func newRing(cfg *config.Config) *ringlog.Buffer {
	return ringlog.New(cfg.Diagnostics.RingCapacity)
}

func newHandler(
	verifier *Verifier,
	resolver *identity.Resolver,
	provisioner *entitlement.Service,
	lifecycleSvc *lifecycle.Service,
	plans store.PlanStore,
	ledger store.LedgerStore,
	provider stripeapi.ProviderAPI,
	forwarder *notify.StatusForwarder,
	ring *ringlog.Buffer,
	events *eventlog.Service,
	log *zap.SugaredLogger,
) *Handler {
	return NewHandler(verifier, resolver, provisioner, lifecycleSvc, plans, ledger, provider, forwarder, ring, events, log)
}

var Module = fx.Options(
	fx.Provide(
		NewSecretSource,
		NewVerifier,
		newRing,
		newHandler,
	),
)
