package handlers

import (
	"net/http"

	"storefront/payment"
	"storefront/templates"
	"storefront/templates/checkout"
	"storefront/utils"
)

// PaymentReturn reconciles the attempt the provider redirected the customer
// back for and renders the result page.
func (h *Handler) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	params := payment.ParseReturn(r.URL.Query(), r.PathValue("order_id"))
	result := h.orch.Reconciler().Reconcile(r.Context(), params)
	utils.Info("payment", "Payment return reconciled", "order_id", result.OrderID, "payment_id", result.PaymentID, "status", result.Status, "variant", result.Variant())

	page := templates.ResultPage{Result: result}
	if provider, err := payment.ParseProvider(r.URL.Query().Get("provider")); err == nil && r.URL.Query().Get("provider") != "" {
		page.Provider = provider
	}
	if result.OrderID != "" && h.orders != nil {
		order, err := h.orders.GetOrderDetails(r.Context(), result.OrderID)
		if err != nil {
			utils.Warn("payment", "Order refresh failed on return page", "order_id", result.OrderID, "error", err)
		} else {
			page.Order = &order
		}
	}

	render(w, r, checkout.PaymentResult(page))
}

// RetryPayment starts a fresh attempt from the return page.
func (h *Handler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("order_id")
	provider, err := payment.ParseProvider(r.URL.Query().Get("provider"))
	if err != nil {
		toast(w, http.StatusBadRequest, "This payment method is not available.", templates.ToastWarning)
		return
	}

	attempt, err := h.orch.Reconciler().Retry(r.Context(), orderID, provider)
	if err != nil {
		h.initiateFailed(w, orderID, provider, err)
		return
	}

	utils.Info("payment", "Payment retried from return page", "order_id", attempt.OrderID, "payment_id", attempt.PaymentID)
	h.renderSurface(w, r)
}
