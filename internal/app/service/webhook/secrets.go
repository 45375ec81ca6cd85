package webhook

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/courseloom/entitlements/internal/app/store"
	"github.com/courseloom/entitlements/pkg/config"
)

const secretEnvVar = "WEBHOOK_SECRET"

// SecretSource resolves the signing secrets used to verify inbound
// deliveries. Resolution order: config file, then the WEBHOOK_SECRET
// environment variable, then the persisted settings row. The settings
// lookup is cached with a TTL and refreshed on read, so a rotated secret
// takes effect without a restart.
type SecretSource struct {
	static   []string
	settings store.SettingsStore
	ttl      time.Duration
	log      *zap.SugaredLogger

	mu        sync.Mutex
	cached    []string
	fetchedAt time.Time
	now       func() time.Time
	getenv    func(string) string
}

func NewSecretSource(cfg *config.Config, settings store.SettingsStore, log *zap.SugaredLogger) *SecretSource {
	ttl := time.Duration(cfg.Webhook.SecretTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SecretSource{
		static:   cfg.Webhook.Secrets,
		settings: settings,
		ttl:      ttl,
		log:      log,
		now:      time.Now,
		getenv:   os.Getenv,
	}
}

// Secrets returns every candidate secret, highest-priority source first.
// Verification tries all of them, so a rotation window where old and new
// secrets coexist never drops deliveries.
func (s *SecretSource) Secrets(ctx context.Context) []string {
	if len(s.static) > 0 {
		return s.static
	}
	if v := s.getenv(secretEnvVar); v != "" {
		return []string{v}
	}
	return s.fromSettings(ctx)
}

func (s *SecretSource) fromSettings(ctx context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil && s.now().Sub(s.fetchedAt) < s.ttl {
		return s.cached
	}
	secrets, err := s.settings.GetWebhookSecrets(ctx)
	if err != nil {
		s.log.Errorw("failed to load webhook secrets from settings", "err", err)
		// Serve the stale cache rather than rejecting everything.
		return s.cached
	}
	s.cached = secrets
	s.fetchedAt = s.now()
	return s.cached
}
