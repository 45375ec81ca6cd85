package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/courseloom/entitlements/internal/app/service/webhook"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// @Summary      Payment provider webhook
// @Description  Receives signed payment events. Unauthentic requests get 400, processing failures 500 so the provider redelivers, everything else 200.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/webhooks/stripe [post]
func ApiStripeWebhook(h *webhook.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, webhookBodyLimit)
		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}
		sig := c.GetHeader("Stripe-Signature")
		if strings.TrimSpace(sig) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing signature"})
			return
		}

		_, err = h.Handle(c.Request.Context(), payload, sig, c.GetString("traceID"))
		switch {
		case errors.Is(err, webhook.ErrInvalidSignature), errors.Is(err, webhook.ErrNoSecrets):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		default:
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		}
	}
}

func RegisterWebhookRoutes(r gin.IRouter, h *webhook.Handler) {
	r.POST("/webhooks/stripe", ApiStripeWebhook(h))
}
