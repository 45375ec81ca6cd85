package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/courseloom/entitlements/pkg/config"
	"github.com/courseloom/entitlements/pkg/types"
)

// StatusForwarder pushes entitlement status updates to the platform's
// downstream URL. Delivery is best effort: failures are logged, never
// propagated to the webhook pipeline.
type StatusForwarder struct {
	url         string
	forwardTest bool
	client      *http.Client
	log         *zap.SugaredLogger
}

func NewStatusForwarder(cfg *config.Config, log *zap.SugaredLogger) *StatusForwarder {
	timeout := time.Duration(cfg.Downstream.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &StatusForwarder{
		url:         cfg.Downstream.URL,
		forwardTest: cfg.Downstream.ForwardTestEvents,
		client:      &http.Client{Timeout: timeout},
		log:         log,
	}
}

// Forward posts the update as JSON. Test-mode events are skipped unless
// forwarding them is explicitly enabled.
func (f *StatusForwarder) Forward(ctx context.Context, update types.StatusUpdate, testMode bool) {
	if f.url == "" {
		return
	}
	if testMode && !f.forwardTest {
		f.log.Debugw("skipping test-mode status update", "user_id", update.UserID, "type", update.Type)
		return
	}
	if err := f.post(ctx, update); err != nil {
		f.log.Errorw("status forward failed", "user_id", update.UserID, "type", update.Type, "err", err)
	}
}

func (f *StatusForwarder) post(ctx context.Context, update types.StatusUpdate) error {
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal status update: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("downstream returned %d: %s", resp.StatusCode, string(b))
	}
	return nil
}
