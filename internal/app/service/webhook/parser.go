package webhook

import (
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/courseloom/entitlements/pkg/types"
)

// Minimal views of the provider's event payloads. Decoding only the
// fields the engine reads keeps the pipeline insulated from provider
// schema churn.

type CheckoutSession struct {
	ID                string `json:"id"`
	Mode              string `json:"mode"`
	Customer          string `json:"customer"`
	Subscription      string `json:"subscription"`
	PaymentIntent     string `json:"payment_intent"`
	ClientReferenceID string `json:"client_reference_id"`
	CustomerEmail     string `json:"customer_email"`
	CustomerDetails   struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	AmountTotal int64             `json:"amount_total"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata"`
}

// Email returns the buyer email, preferring the checkout-time details
// over the stored customer email.
func (s *CheckoutSession) Email() string {
	if e := strings.TrimSpace(s.CustomerDetails.Email); e != "" {
		return e
	}
	return strings.TrimSpace(s.CustomerEmail)
}

// BillingID picks the natural ledger key for the purchase: the session
// id, then the subscription id, then the payment intent.
func (s *CheckoutSession) BillingID() string {
	for _, id := range []string{s.ID, s.Subscription, s.PaymentIntent} {
		if id != "" {
			return id
		}
	}
	return ""
}

type Invoice struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	Subscription  string `json:"subscription"`
	CustomerEmail string `json:"customer_email"`
	AmountPaid    int64  `json:"amount_paid"`
	AmountDue     int64  `json:"amount_due"`
	Currency      string `json:"currency"`
	Lines         struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"lines"`
	Metadata map[string]string `json:"metadata"`
}

// FirstPriceID returns the price id from the first invoice line.
func (i *Invoice) FirstPriceID() string {
	for _, line := range i.Lines.Data {
		if id := strings.TrimSpace(line.Price.ID); id != "" {
			return id
		}
	}
	return ""
}

type Subscription struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	CanceledAt        int64  `json:"canceled_at"`
	Items             struct {
		Data []struct {
			// Newer provider API versions report the billing period on
			// the item instead of the subscription.
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

// FirstPriceID returns the price id from the first subscription item.
func (s *Subscription) FirstPriceID() string {
	for _, item := range s.Items.Data {
		if id := strings.TrimSpace(item.Price.ID); id != "" {
			return id
		}
	}
	return ""
}

// PeriodEnd returns the subscription-level period end, falling back to
// the first item's.
func (s *Subscription) PeriodEnd() int64 {
	if s.CurrentPeriodEnd > 0 {
		return s.CurrentPeriodEnd
	}
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEnd > 0 {
			return item.CurrentPeriodEnd
		}
	}
	return 0
}

// ToProvider converts the payload to the normalized subscription view.
func (s *Subscription) ToProvider() types.ProviderSubscription {
	return types.ProviderSubscription{
		ID:                s.ID,
		Status:            s.Status,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CurrentPeriodEnd:  unixToTime(s.PeriodEnd()),
		CanceledAt:        unixToTime(s.CanceledAt),
		CustomerID:        s.Customer,
		PriceID:           s.FirstPriceID(),
	}
}

func unixToTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	return lo.ToPtr(time.Unix(sec, 0))
}
