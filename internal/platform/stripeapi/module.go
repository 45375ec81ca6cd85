package stripeapi

import (
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/courseloom/entitlements/pkg/config"
)

func newExecutor(cfg *config.Config, log *zap.SugaredLogger) *Executor {
	rc := DefaultRetryConfig()
	if cfg.Provider.MaxRetries > 0 {
		rc.MaxRetries = cfg.Provider.MaxRetries
	}
	if cfg.Provider.InitialDelayMS > 0 {
		rc.InitialDelay = time.Duration(cfg.Provider.InitialDelayMS) * time.Millisecond
	}
	if cfg.Provider.MaxDelayMS > 0 {
		rc.MaxDelay = time.Duration(cfg.Provider.MaxDelayMS) * time.Millisecond
	}
	if cfg.Provider.Workers > 0 {
		rc.Workers = cfg.Provider.Workers
	}
	return NewExecutor(rc, log)
}

func newProviderAPI(cfg *config.Config, exec *Executor, log *zap.SugaredLogger) ProviderAPI {
	return NewClient(cfg.Provider.APIKey, exec, log)
}

var Module = fx.Options(
	fx.Provide(newExecutor),
	fx.Provide(newProviderAPI),
)
