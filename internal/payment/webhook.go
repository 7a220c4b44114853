package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"ms-activity/internal/logger"
	"ms-activity/internal/models"
	"ms-activity/internal/utils"
)

const maxBodyBytes = int64(65536)

// ConfirmationSink receives every settled checkout for a paid event.
type ConfirmationSink interface {
	Confirm(ctx context.Context, c models.PaymentConfirmation) error
}

type WebhookHandler struct {
	secret string
	sink   ConfirmationSink
	logger *logger.Logger
}

func NewWebhookHandler(secret string, sink ConfirmationSink, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{secret: secret, sink: sink, logger: log}
}

func (h *WebhookHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/webhooks/stripe", h.HandleStripe)
}

// HandleStripe verifies the signature and forwards completed, paid checkout
// sessions. A sink failure answers 500 so the provider retries.
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, c.GetHeader("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.logger.Warn("PAYMENT", fmt.Sprintf("Webhook signature verification failed: %v", err))
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid signature", err.Error()))
		return
	}

	if event.Type != "checkout.session.completed" {
		c.JSON(http.StatusOK, utils.SuccessResponse("ignored", gin.H{"type": event.Type}))
		return
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid checkout session", err.Error()))
		return
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		c.JSON(http.StatusOK, utils.SuccessResponse("ignored", gin.H{"payment_status": session.PaymentStatus}))
		return
	}

	conf := models.PaymentConfirmation{
		EventID:   session.Metadata["event_id"],
		UserID:    session.Metadata["user_id"],
		SessionID: session.ID,
		Amount:    session.AmountTotal,
		Currency:  string(session.Currency),
		Source:    "stripe",
		PaidAt:    time.Unix(event.Created, 0).UTC(),
	}
	if conf.EventID == "" || conf.UserID == "" {
		h.logger.Error("PAYMENT", fmt.Sprintf("Session %s is missing event_id/user_id metadata", session.ID))
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid checkout session", "missing event_id or user_id metadata"))
		return
	}

	if err := h.sink.Confirm(c.Request.Context(), conf); err != nil {
		h.logger.Error("PAYMENT", fmt.Sprintf("Forwarding confirmation for session %s failed: %v", session.ID, err))
		c.JSON(http.StatusInternalServerError, utils.ErrorResponse("Confirmation failed", err.Error()))
		return
	}

	h.logger.Info("PAYMENT", fmt.Sprintf("Payment confirmed: event=%s user=%s session=%s", conf.EventID, conf.UserID, conf.SessionID))
	c.JSON(http.StatusOK, utils.SuccessResponse("payment confirmed", conf))
}
