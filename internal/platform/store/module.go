package store

import (
	"go.uber.org/fx"

	appstore "github.com/courseloom/entitlements/internal/app/store"
)

var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewGormStore,
			fx.As(new(appstore.UserStore)),
			fx.As(new(appstore.PlanStore)),
			fx.As(new(appstore.LedgerStore)),
			fx.As(new(appstore.SettingsStore)),
		),
	),
)
