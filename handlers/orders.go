package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"storefront/services"
	"storefront/templates"
	"storefront/templates/checkout"
	"storefront/utils"
)

// ListOrders renders the customer's orders, the safe screen after a dead end.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.orders.GetMyOrders(r.Context(), max(skip, 0), limit)
	if err != nil {
		h.orderError(w, "", "Error loading orders", err)
		return
	}
	render(w, r, checkout.OrderList(list))
}

// OrderDetails renders the order with its payment actions.
func (h *Handler) OrderDetails(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("order_id")
	order, err := h.orders.GetOrderDetails(r.Context(), orderID)
	if err != nil {
		h.orderError(w, orderID, "Error loading order", err)
		return
	}
	render(w, r, checkout.OrderSummary(order, h.stripePublicKey != ""))
}

// CancelOrder cancels an unpaid order and renders it again.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("order_id")

	// an open surface must not keep polling a cancelled order
	if active := h.orch.Active(); active != nil && active.IsOpen() && active.Attempt().OrderID == orderID {
		active.Unmount()
	}

	order, err := h.orders.CancelOrder(r.Context(), orderID)
	if err != nil {
		h.orderError(w, orderID, "Error cancelling order", err)
		return
	}

	utils.Info("orders", "Order cancelled", "order_id", orderID)
	w.Header().Set("HX-Trigger", templates.ToJSON(map[string]templates.Toast{
		"showToast": {Message: "Order cancelled", Type: templates.ToastSuccess},
	}))
	render(w, r, checkout.OrderSummary(order, h.stripePublicKey != ""))
}

func (h *Handler) orderError(w http.ResponseWriter, orderID, msg string, err error) {
	var apiErr *services.APIError
	switch {
	case services.IsNotFound(err):
		toast(w, http.StatusNotFound, "Order not found.", templates.ToastError)
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest:
		toast(w, http.StatusConflict, apiErr.Detail, templates.ToastWarning)
	default:
		utils.Error("orders", msg, "order_id", orderID, "error", err)
		toast(w, http.StatusBadGateway, "The store is not responding. Please try again.", templates.ToastError)
	}
}
