package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"storefront/payment"
	"storefront/services"
	"storefront/templates"
	"storefront/templates/checkout"
	"storefront/utils"
)

// InitiatePayment starts a new attempt for the order and renders its surface.
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("order_id")
	provider, err := payment.ParseProvider(r.URL.Query().Get("provider"))
	if err != nil {
		utils.Warn("payment", "Payment rejected - unknown provider", "order_id", orderID, "provider", r.URL.Query().Get("provider"))
		toast(w, http.StatusBadRequest, "This payment method is not available.", templates.ToastWarning)
		return
	}

	attempt, err := h.orch.InitiatePayment(r.Context(), orderID, provider)
	if err != nil {
		h.initiateFailed(w, orderID, provider, err)
		return
	}

	utils.Info("payment", "Payment surface ready", "order_id", attempt.OrderID, "payment_id", attempt.PaymentID, "provider", attempt.Provider)
	h.renderSurface(w, r)
}

func (h *Handler) initiateFailed(w http.ResponseWriter, orderID string, provider payment.Provider, err error) {
	switch {
	case errors.Is(err, payment.ErrMissingOrderID):
		toast(w, http.StatusBadRequest, "The order is not specified.", templates.ToastWarning)
	case errors.Is(err, payment.ErrUnknownProvider):
		toast(w, http.StatusBadRequest, "This payment method is not available.", templates.ToastWarning)
	case errors.Is(err, services.ErrOrderNotPayable):
		toast(w, http.StatusConflict, "This order can no longer be paid.", templates.ToastWarning)
	case services.IsNotFound(err):
		toast(w, http.StatusNotFound, "Order not found.", templates.ToastError)
	default:
		utils.Error("payment", "Error initiating payment", "order_id", orderID, "provider", provider, "error", err)
		toast(w, http.StatusBadGateway, "Could not start the payment. Please try again.", templates.ToastError)
	}
}

// Surface renders whatever surface is currently open.
func (h *Handler) Surface(w http.ResponseWriter, r *http.Request) {
	h.renderSurface(w, r)
}

// FrameLoaded starts polling once the payment page finished loading.
func (h *Handler) FrameLoaded(w http.ResponseWriter, r *http.Request) {
	embedded := h.orch.Embedded()
	if err := embedded.Loaded(r.Context()); err != nil {
		h.surfaceError(w, "embedded", err)
		return
	}
	view := embedded.View()
	render(w, r, checkout.PaymentStatus(view.Status, view.Polling, view.Awaiting))
}

// FrameFailed shows the frame error with a reload button and a QR code.
func (h *Handler) FrameFailed(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Embedded().Failed(r.FormValue("message")); err != nil {
		h.surfaceError(w, "embedded", err)
		return
	}
	h.renderSurface(w, r)
}

// FrameReload re-navigates the frame to the same payment page.
func (h *Handler) FrameReload(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Embedded().Reload(); err != nil {
		h.surfaceError(w, "embedded", err)
		return
	}
	h.renderSurface(w, r)
}

// FrameClose closes the frame. While a status check is running the customer
// is asked first and the request waits for the answer.
func (h *Handler) FrameClose(w http.ResponseWriter, r *http.Request) {
	embedded := h.orch.Embedded()
	closed, err := embedded.Close(r.Context())
	if err != nil {
		utils.Warn("payment", "Close confirmation failed", "error", err)
	}
	if !closed && embedded.IsOpen() {
		// re-rendering would reload the payment page
		utils.Debug("payment", "Payment frame kept open")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.renderSurface(w, r)
}

// WidgetReady starts polling once the provider widget rendered.
func (h *Handler) WidgetReady(w http.ResponseWriter, r *http.Request) {
	widget := h.orch.Widget()
	if err := widget.Ready(r.Context()); err != nil {
		h.surfaceError(w, "widget", err)
		return
	}
	view := widget.View()
	render(w, r, checkout.PaymentStatus(view.Status, view.Polling, view.Awaiting))
}

// WidgetError relays a widget failure reported by the provider script to the bus.
func (h *Handler) WidgetError(w http.ResponseWriter, r *http.Request) {
	sig := payment.WidgetError{PaymentID: r.FormValue("payment_id")}
	if msg := strings.TrimSpace(r.FormValue("message")); msg != "" {
		sig.Err = errors.New(msg)
	}
	h.orch.Bus().Publish(r.Context(), sig)
	h.renderSurface(w, r)
}

// WidgetClose closes the hosted widget without confirmation.
func (h *Handler) WidgetClose(w http.ResponseWriter, r *http.Request) {
	h.orch.Widget().Close()
	h.renderSurface(w, r)
}

// Decide answers a pending yes/no prompt.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	answer, err := parseAnswer(r.FormValue("answer"))
	if err != nil {
		http.Error(w, "answer must be yes or no", http.StatusBadRequest)
		return
	}
	if h.decisions == nil || !h.decisions.Resolve(id, answer) {
		utils.Debug("payment", "Decision for unknown prompt", "id", id)
		http.Error(w, "prompt is no longer pending", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseAnswer(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	return strconv.ParseBool(s)
}

func (h *Handler) surfaceError(w http.ResponseWriter, subsystem string, err error) {
	if errors.Is(err, payment.ErrNoActiveSurface) {
		utils.Debug(subsystem, "Event for closed payment surface ignored")
		toast(w, http.StatusConflict, "There is no active payment.", templates.ToastWarning)
		return
	}
	utils.Error(subsystem, "Payment surface event failed", "error", err)
	toast(w, http.StatusInternalServerError, "Something went wrong with the payment form.", templates.ToastError)
}

func (h *Handler) renderSurface(w http.ResponseWriter, r *http.Request) {
	render(w, r, checkout.PaymentSurface(h.surfacePage()))
}

// surfacePage collects the views of the active controller.
func (h *Handler) surfacePage() templates.PaymentPage {
	var page templates.PaymentPage
	active := h.orch.Active()
	if active == nil {
		return page
	}

	page.Kind = active.Kind()
	switch page.Kind {
	case payment.SurfaceEmbedded:
		page.Embedded = h.orch.Embedded().View()
		if page.Embedded.Error != "" && page.Embedded.URL != "" {
			qr, err := paymentQRCode(page.Embedded.URL)
			if err != nil {
				utils.Error("payment", "QR fallback unavailable", "payment_id", page.Embedded.PaymentID, "error", err)
			}
			page.QRCode = qr
		}
	case payment.SurfaceWidget:
		page.Widget = h.orch.Widget().View()
		if page.Widget.Provider == payment.ProviderStripe {
			page.StripePublicKey = h.stripePublicKey
		}
	}
	return page
}
