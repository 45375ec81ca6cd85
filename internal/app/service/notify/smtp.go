package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/courseloom/entitlements/pkg/config"
	"github.com/courseloom/entitlements/pkg/types"
)

// SMTPSink delivers notifications as plain-text email. When no SMTP host
// is configured it logs and drops, so local setups run without a relay.
type SMTPSink struct {
	cfg  config.SMTPConfig
	log  *zap.SugaredLogger
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSink(cfg *config.Config, log *zap.SugaredLogger) *SMTPSink {
	return &SMTPSink{cfg: cfg.Notify.SMTP, log: log, send: smtp.SendMail}
}

func (s *SMTPSink) Send(ctx context.Context, n Notification) error {
	subject, body := render(n)
	if s.cfg.Host == "" {
		s.log.Infow("smtp not configured, dropping notification",
			"kind", n.Kind, "recipient", n.Recipient, "subject", subject)
		return nil
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", n.Recipient)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := s.send(addr, auth, s.cfg.From, []string{n.Recipient}, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp send to %s: %w", n.Recipient, err)
	}
	return nil
}

func render(n Notification) (subject, body string) {
	switch n.Kind {
	case types.NotificationKindPasswordSetup:
		link, _ := n.Payload["setup_url"].(string)
		return "Set up your account password",
			fmt.Sprintf("Your purchase was received. Set your password to access your courses:\r\n\r\n%s\r\n\r\nThe link expires in 7 days.", link)
	case types.NotificationKindEntitlementActivated:
		plan, _ := n.Payload["plan_name"].(string)
		b := fmt.Sprintf("Your access to %q is now active.", plan)
		if until, ok := n.Payload["valid_until"].(*time.Time); ok && until != nil {
			b += fmt.Sprintf(" It is valid until %s.", until.Format("2006-01-02"))
		}
		return "Your access is active", b
	case types.NotificationKindCanceledImmediate:
		return "Your subscription has ended",
			"Your subscription was canceled and access has ended. You can subscribe again at any time."
	case types.NotificationKindCanceledPeriodEnd:
		b := "Your subscription will not renew."
		if until, ok := n.Payload["valid_until"].(*time.Time); ok && until != nil {
			b += fmt.Sprintf(" Access remains active until %s.", until.Format("2006-01-02"))
		}
		return "Your subscription will not renew", b
	default:
		return string(n.Kind), ""
	}
}
