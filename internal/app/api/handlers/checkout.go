package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"github.com/stripe/stripe-go/v82"

	"github.com/courseloom/entitlements/internal/app/store"
	"github.com/courseloom/entitlements/internal/platform/stripeapi"
	"github.com/courseloom/entitlements/pkg/response"
	"github.com/courseloom/entitlements/pkg/types"
)

type CreateCheckoutSessionRequest struct {
	UserID     string `json:"user_id"`
	PlanID     string `json:"plan_id"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

type CreateCheckoutSessionResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

// @Summary      Create Checkout Session
// @Description  Starts a provider checkout for a plan and records a pending ledger entry.
// @Tags         Checkout
// @Accept       json
// @Produce      json
// @Param        request body CreateCheckoutSessionRequest true "Checkout request"
// @Success      200  {object}  handlers.RespCreateCheckoutSession
// @Router       /api/v1/checkout_session [post]
func ApiCreateCheckoutSession(users store.UserStore, plans store.PlanStore, ledger store.LedgerStore, provider stripeapi.ProviderAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateCheckoutSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if req.UserID == "" || req.PlanID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing user_id or plan_id"))
			return
		}

		ctx := c.Request.Context()
		user, err := users.GetUser(ctx, req.UserID)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "user not found"))
			return
		}
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		plan, err := plans.FindPlanByID(ctx, req.PlanID)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "plan not found"))
			return
		}
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		if plan.ExternalPriceID == nil || *plan.ExternalPriceID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "plan has no provider price"))
			return
		}

		// Fixed-duration plans are sold as one-time payments; open-ended
		// plans renew as subscriptions.
		mode := string(stripe.CheckoutSessionModeSubscription)
		if plan.DurationDays > 0 {
			mode = string(stripe.CheckoutSessionModePayment)
		}
		params := &stripe.CheckoutSessionParams{
			Mode:              stripe.String(mode),
			ClientReferenceID: stripe.String(user.ID),
			CustomerEmail:     stripe.String(user.Email),
			SuccessURL:        stripe.String(req.SuccessURL),
			CancelURL:         stripe.String(req.CancelURL),
			LineItems: []*stripe.CheckoutSessionLineItemParams{
				{Price: plan.ExternalPriceID, Quantity: stripe.Int64(1)},
			},
		}
		params.AddMetadata("user_id", user.ID)
		params.AddMetadata("plan_id", plan.ID)

		session, err := provider.CreateCheckoutSession(ctx, params)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}

		if _, err := ledger.UpsertBillingRecord(ctx, session.ID, store.BillingRecordFields{
			UserID:   user.ID,
			PlanID:   lo.ToPtr(plan.ID),
			Status:   types.BillingStatusPending,
			Amount:   float64(plan.PriceCents) / 100,
			Currency: plan.Currency,
			Gateway:  types.GatewayStripe,
		}); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}

		c.JSON(http.StatusOK, response.OKT(&CreateCheckoutSessionResponse{
			SessionID:   session.ID,
			CheckoutURL: session.URL,
		}))
	}
}

func RegisterCheckoutRoutes(r gin.IRouter, users store.UserStore, plans store.PlanStore, ledger store.LedgerStore, provider stripeapi.ProviderAPI) {
	r.POST("/checkout_session", ApiCreateCheckoutSession(users, plans, ledger, provider))
}
