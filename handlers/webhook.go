package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"

	"storefront/payment"
	"storefront/services"
	"storefront/utils"
)

const maxWebhookBody = int64(65536)

// StripeWebhook verifies a Stripe event and caches the payment state it carries,
// so the next status check for that PaymentIntent needs no upstream call.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		utils.Error("webhook", "Error reading webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		utils.Error("webhook", "Signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	utils.Info("webhook", "Received event", "type", event.Type, "id", event.ID)

	switch event.Type {
	case "payment_intent.created",
		"payment_intent.processing",
		"payment_intent.requires_action",
		"payment_intent.amount_capturable_updated",
		"payment_intent.succeeded",
		"payment_intent.payment_failed",
		"payment_intent.canceled":
		// a failed attempt leaves the intent in requires_payment_method, which
		// the customer can still retry, so it maps to pending like the rest
		h.cachePaymentIntent(r.Context(), event.Data.Raw)

	case "charge.refunded":
		h.cacheRefund(r.Context(), event.Data.Raw)

	default:
		utils.Debug("webhook", "Unhandled event type", "type", event.Type)
	}

	// Return a success response to Stripe
	w.WriteHeader(http.StatusOK)
}

// cachePaymentIntent stores the intent's state and its last payment error.
func (h *Handler) cachePaymentIntent(ctx context.Context, raw json.RawMessage) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		utils.Error("webhook", "Error parsing payment_intent", "error", err)
		return
	}

	state := services.CachedStatus{
		PaymentID: intent.ID,
		OrderID:   intent.Metadata["order_id"],
		Status:    services.MapIntentStatus(intent.Status),
		Amount:    intent.Amount,
		Currency:  string(intent.Currency),
	}
	if intent.LastPaymentError != nil {
		state.Error = string(intent.LastPaymentError.Type)
		if intent.LastPaymentError.Msg != "" {
			state.Error = intent.LastPaymentError.Msg
		}
	}
	h.storeState(ctx, state)
}

func (h *Handler) cacheRefund(ctx context.Context, raw json.RawMessage) {
	var charge stripe.Charge
	if err := json.Unmarshal(raw, &charge); err != nil {
		utils.Error("webhook", "Error parsing charge.refunded", "error", err)
		return
	}
	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" || !charge.Refunded {
		utils.Debug("webhook", "Partial or detached refund ignored", "charge_id", charge.ID)
		return
	}
	h.storeState(ctx, services.CachedStatus{
		PaymentID: charge.PaymentIntent.ID,
		OrderID:   charge.Metadata["order_id"],
		Status:    payment.StatusRefunded,
		Amount:    charge.AmountRefunded,
		Currency:  string(charge.Currency),
	})
}

func (h *Handler) storeState(ctx context.Context, state services.CachedStatus) {
	if state.PaymentID == "" {
		utils.Warn("webhook", "Event without payment id ignored")
		return
	}
	if err := h.cache.Set(ctx, state); err != nil {
		utils.Error("webhook", "Error caching payment state", "payment_id", state.PaymentID, "error", err)
		return
	}
	utils.Debug("webhook", "Cached payment state", "payment_id", state.PaymentID, "status", state.Status)
}
