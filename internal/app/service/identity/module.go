package identity

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/courseloom/entitlements/internal/app/service/notify"
	"github.com/courseloom/entitlements/internal/app/store"
	"github.com/courseloom/entitlements/pkg/config"
)

func newResolver(users store.UserStore, dispatcher *notify.Dispatcher, cfg *config.Config, log *zap.SugaredLogger) *Resolver {
	return NewResolver(users, dispatcher, cfg, log)
}

var Module = fx.Options(
	fx.Provide(newResolver),
)
