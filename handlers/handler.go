package handlers

import (
	"context"
	"net/http"
	"sync"

	"github.com/a-h/templ"

	"storefront/payment"
	"storefront/services"
	"storefront/templates"
	"storefront/templates/checkout"
	"storefront/utils"
)

// OrderService is the part of the orders collaborator the handlers use.
type OrderService interface {
	GetMyOrders(ctx context.Context, skip, limit int) (services.OrderList, error)
	GetOrderDetails(ctx context.Context, orderID string) (services.Order, error)
	CancelOrder(ctx context.Context, orderID string) (services.Order, error)
}

// Options wires the HTTP layer.
type Options struct {
	Orchestrator *payment.Orchestrator
	Orders       OrderService
	// Cache receives verified Stripe webhook states; nil disables the webhook route.
	Cache     services.StatusCache
	Decisions *DecisionBroker
	Events    *EventBroadcaster

	StripePublicKey     string
	StripeWebhookSecret string
}

// Handler serves the payment pages, browser callbacks and event streams.
type Handler struct {
	orch      *payment.Orchestrator
	orders    OrderService
	cache     services.StatusCache
	decisions *DecisionBroker
	events    *EventBroadcaster

	stripePublicKey string
	webhookSecret   string

	closeOnce   sync.Once
	unsubscribe []func()
}

// New creates the handler and forwards payment signals to connected browsers.
func New(opts Options) *Handler {
	if opts.Events == nil {
		opts.Events = NewEventBroadcaster()
	}
	h := &Handler{
		orch:            opts.Orchestrator,
		orders:          opts.Orders,
		cache:           opts.Cache,
		decisions:       opts.Decisions,
		events:          opts.Events,
		stripePublicKey: opts.StripePublicKey,
		webhookSecret:   opts.StripeWebhookSecret,
	}
	h.subscribe()
	return h
}

// Routes registers every endpoint on a new mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.Healthz)

	mux.HandleFunc("GET /orders", h.ListOrders)
	mux.HandleFunc("GET /orders/{order_id}", h.OrderDetails)
	mux.HandleFunc("POST /orders/{order_id}/cancel", h.CancelOrder)
	mux.HandleFunc("POST /orders/{order_id}/pay", h.InitiatePayment)

	mux.HandleFunc("GET /payments/surface", h.Surface)
	mux.HandleFunc("POST /payments/frame/load", h.FrameLoaded)
	mux.HandleFunc("POST /payments/frame/error", h.FrameFailed)
	mux.HandleFunc("POST /payments/frame/reload", h.FrameReload)
	mux.HandleFunc("POST /payments/frame/close", h.FrameClose)
	mux.HandleFunc("POST /payments/widget/ready", h.WidgetReady)
	mux.HandleFunc("POST /payments/widget/error", h.WidgetError)
	mux.HandleFunc("POST /payments/widget/close", h.WidgetClose)
	mux.HandleFunc("POST /payments/decisions/{id}", h.Decide)

	mux.HandleFunc("GET /payments/return", h.PaymentReturn)
	mux.HandleFunc("GET /payments/return/{order_id}", h.PaymentReturn)
	mux.HandleFunc("POST /payments/return/{order_id}/retry", h.RetryPayment)

	mux.HandleFunc("GET /payment-events", h.PaymentEvents)
	mux.HandleFunc("GET /payment-ws", h.PaymentSocket)

	if h.webhookSecret != "" && h.cache != nil {
		mux.HandleFunc("POST /stripe-webhook", h.StripeWebhook)
	}
	return mux
}

// Close stops forwarding payment signals.
func (h *Handler) Close() {
	h.closeOnce.Do(func() {
		for _, unsubscribe := range h.unsubscribe {
			unsubscribe()
		}
	})
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// subscribe turns bus signals into browser events.
func (h *Handler) subscribe() {
	bus := h.orch.Bus()
	h.unsubscribe = append(h.unsubscribe,
		bus.Subscribe(payment.TopicWidgetState, h.onWidgetState),
		bus.Subscribe(payment.TopicCompleted, h.onCompleted),
		bus.Subscribe(payment.TopicConfirm, h.onConfirm),
		bus.Subscribe(payment.TopicSettled, h.onSettled),
	)
}

// surfaceState is the broadcast view of the shared payment state. Event streams
// are not tied to a customer, so the confirmation token stays server side.
type surfaceState struct {
	IsOpen bool `json:"is_open"`
}

func (h *Handler) onWidgetState(ctx context.Context, sig payment.Signal) {
	changed, ok := sig.(payment.WidgetStateChanged)
	if !ok {
		return
	}
	ev := Event{Name: EventPaymentState, Data: surfaceState{IsOpen: changed.Snapshot.IsOpen}}
	// Opening is rendered by the request that initiated it. A close is only
	// pushed while nothing else has been opened in the meantime.
	if !changed.Snapshot.IsOpen && !h.orch.State().Snapshot().IsOpen {
		ev.Name = EventPaymentSurface
		ev.HTML = renderString(ctx, checkout.PaymentSurface(templates.PaymentPage{}))
	}
	h.events.Broadcast(ev)
}

func (h *Handler) onCompleted(ctx context.Context, sig payment.Signal) {
	completed, ok := sig.(payment.Completed)
	if !ok {
		return
	}
	h.events.Broadcast(Event{
		Name: EventPaymentCompleted,
		HTML: renderString(ctx, checkout.PaymentCompleted(completed)),
		Data: completed,
	})
	// a failed attempt stays on screen with its status
	if !completed.Success {
		h.events.Broadcast(Event{
			Name: EventPaymentStatus,
			HTML: renderString(ctx, checkout.PaymentStatus(completed.Status, false, false)),
			Data: completed,
		})
	}
}

func (h *Handler) onConfirm(ctx context.Context, sig payment.Signal) {
	req, ok := sig.(payment.ConfirmRequested)
	if !ok {
		return
	}
	h.events.Broadcast(Event{
		Name: EventConfirm,
		HTML: renderString(ctx, checkout.ConfirmPrompt(templates.ConfirmView{ID: req.ID, Prompt: req.Prompt})),
		Data: req,
	})
}

func (h *Handler) onSettled(ctx context.Context, sig payment.Signal) {
	settled, ok := sig.(payment.ConfirmSettled)
	if !ok {
		return
	}
	h.events.Broadcast(Event{
		Name: EventConfirmSettled,
		HTML: renderString(ctx, checkout.ConfirmSettled(settled.ID)),
		Data: settled,
	})
}

// render writes a fragment, reporting failures the way htmx expects.
func render(w http.ResponseWriter, r *http.Request, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := c.Render(r.Context(), w); err != nil {
		utils.Error("http", "Error rendering component", "path", r.URL.Path, "error", err)
		http.Error(w, "Error rendering page", http.StatusInternalServerError)
	}
}

// toast answers with a notification only; the target is left untouched.
func toast(w http.ResponseWriter, status int, message, kind string) {
	w.Header().Set("HX-Trigger", templates.ToJSON(map[string]templates.Toast{
		"showToast": {Message: message, Type: kind},
	}))
	w.Header().Set("HX-Reswap", "none")
	w.WriteHeader(status)
}
