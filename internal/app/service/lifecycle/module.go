package lifecycle

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/courseloom/entitlements/internal/app/service/notify"
	"github.com/courseloom/entitlements/internal/app/store"
	"github.com/courseloom/entitlements/internal/platform/stripeapi"
)

func newService(
	users store.UserStore,
	ledger store.LedgerStore,
	provider stripeapi.ProviderAPI,
	dispatcher *notify.Dispatcher,
	forwarder *notify.StatusForwarder,
	log *zap.SugaredLogger,
) *Service {
	return NewService(users, ledger, provider, dispatcher, forwarder, log)
}

var Module = fx.Options(
	fx.Provide(newService),
)
