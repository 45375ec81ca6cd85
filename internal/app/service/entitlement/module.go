package entitlement

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/courseloom/entitlements/internal/app/service/notify"
	"github.com/courseloom/entitlements/internal/app/store"
)

func newService(
	users store.UserStore,
	plans store.PlanStore,
	ledger store.LedgerStore,
	dispatcher *notify.Dispatcher,
	forwarder *notify.StatusForwarder,
	log *zap.SugaredLogger,
) *Service {
	return NewService(users, plans, ledger, dispatcher, forwarder, log)
}

var Module = fx.Options(
	fx.Provide(newService),
)
