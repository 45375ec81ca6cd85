package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/courseloom/entitlements/internal/app/store"
	"github.com/courseloom/entitlements/pkg/response"
	"github.com/courseloom/entitlements/pkg/ringlog"
	"github.com/courseloom/entitlements/pkg/types"
)

type ListBillingRecordsRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

// @Summary      List Billing Records (Admin)
// @Description  Retrieves a paginated and filterable list of ledger entries.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body ListBillingRecordsRequest true "List request with filters, pagination, and sorting"
// @Success      200  {object}  handlers.RespListBillingRecords
// @Router       /api/v1/admin/list_billing_records [post]
func ApiListBillingRecords(ledger store.LedgerStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ListBillingRecordsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := ledger.ScanBillingRecords(c.Request.Context(), &store.ScanBillingRecordsRequest{
			Filters:   req.Filters,
			From:      req.From,
			Size:      req.Size,
			SortBy:    req.SortBy,
			SortOrder: req.SortOrder,
		})
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

type GrantLifetimeAccessRequest struct {
	UserID     string `json:"user_id"`
	OperatorID string `json:"operator_id"`
}

// @Summary      Grant Lifetime Access (Admin)
// @Description  Marks a user as having permanent full access, outside any subscription.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body GrantLifetimeAccessRequest true "Grant lifetime access request"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/admin/grant_lifetime_access [post]
func ApiGrantLifetimeAccess(users store.UserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req GrantLifetimeAccessRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if req.UserID == "" || req.OperatorID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing user_id or operator_id"))
			return
		}
		err := users.SaveEntitlement(c.Request.Context(), req.UserID, store.EntitlementFields{
			LifetimeAccess: lo.ToPtr(true),
			HasFullAccess:  lo.ToPtr(true),
		})
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "user not found"))
			return
		}
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

// @Summary      Webhook diagnostics (Admin)
// @Description  Returns the in-memory ring of recent webhook processing stages, oldest first.
// @Tags         Admin
// @Produce      json
// @Success      200  {object}  handlers.RespWebhookDiagnostics
// @Router       /api/v1/admin/webhook_diagnostics [get]
func ApiWebhookDiagnostics(ring *ringlog.Buffer) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, response.OKT(ring.Snapshot()))
	}
}

func RegisterAdminRoutes(r gin.IRouter, users store.UserStore, ledger store.LedgerStore, ring *ringlog.Buffer) {
	r.POST("/list_billing_records", ApiListBillingRecords(ledger))
	r.POST("/grant_lifetime_access", ApiGrantLifetimeAccess(users))
	r.GET("/webhook_diagnostics", ApiWebhookDiagnostics(ring))
}
