package webhook

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

var (
	// ErrNoSecrets means no signing secret is configured anywhere.
	ErrNoSecrets = errors.New("webhook: no signing secret configured")
	// ErrInvalidSignature means the delivery matched none of the
	// configured secrets.
	ErrInvalidSignature = errors.New("webhook: signature verification failed")
)

// Verifier authenticates inbound deliveries against every configured
// secret, accepting the first match.
type Verifier struct {
	secrets *SecretSource
	log     *zap.SugaredLogger
}

func NewVerifier(secrets *SecretSource, log *zap.SugaredLogger) *Verifier {
	return &Verifier{secrets: secrets, log: log}
}

func (v *Verifier) Verify(ctx context.Context, payload []byte, sigHeader string) (stripe.Event, error) {
	secrets := v.secrets.Secrets(ctx)
	if len(secrets) == 0 {
		return stripe.Event{}, ErrNoSecrets
	}
	var lastErr error
	for _, secret := range secrets {
		event, err := stripewebhook.ConstructEventWithOptions(payload, sigHeader, secret, stripewebhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err == nil {
			return event, nil
		}
		lastErr = err
	}
	v.log.Warnw("webhook signature rejected by all secrets", "secrets", len(secrets), "err", lastErr)
	return stripe.Event{}, ErrInvalidSignature
}
