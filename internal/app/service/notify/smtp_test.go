package notify

import (
	"context"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/courseloom/entitlements/pkg/config"
	"github.com/courseloom/entitlements/pkg/types"
)

func TestSMTPSinkSendsRenderedMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg string
	sink := NewSMTPSink(&config.Config{Notify: config.NotifyConfig{SMTP: config.SMTPConfig{
		Host: "mail.example.com", Port: 587, From: "noreply@example.com", Username: "u", Password: "p",
	}}}, zap.NewNop().Sugar())
	sink.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		return nil
	}

	err := sink.Send(context.Background(), Notification{
		Kind:      types.NotificationKindPasswordSetup,
		Recipient: "buyer@example.com",
		Payload:   map[string]any{"setup_url": "https://example.com/setup?token=abc"},
	})
	require.NoError(t, err)
	assert.Equal(t, "mail.example.com:587", gotAddr)
	assert.Equal(t, "noreply@example.com", gotFrom)
	assert.Equal(t, []string{"buyer@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Set up your account password")
	assert.Contains(t, gotMsg, "https://example.com/setup?token=abc")
}

func TestSMTPSinkWithoutHostDropsQuietly(t *testing.T) {
	sink := NewSMTPSink(&config.Config{}, zap.NewNop().Sugar())
	sink.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send must not be called without a host")
		return nil
	}
	assert.NoError(t, sink.Send(context.Background(), Notification{
		Kind: types.NotificationKindCanceledImmediate, Recipient: "x@example.com",
	}))
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestRenderCancellationKinds(t *testing.T) {
	until := lo.ToPtr(mustParse(t, "2026-10-01T00:00:00Z"))

	subject, body := render(Notification{Kind: types.NotificationKindCanceledImmediate})
	assert.Equal(t, "Your subscription has ended", subject)
	assert.Contains(t, body, "access has ended")

	subject, body = render(Notification{
		Kind:    types.NotificationKindCanceledPeriodEnd,
		Payload: map[string]any{"valid_until": until},
	})
	assert.Equal(t, "Your subscription will not renew", subject)
	assert.True(t, strings.Contains(body, "2026-10-01"), body)
}
