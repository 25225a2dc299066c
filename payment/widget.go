package payment

import (
	"context"
	"errors"

	"storefront/utils"
)

// WidgetMountID is the element id the provider script injects its widget into.
const WidgetMountID = "payment-widget-container"

var errWidgetFailed = errors.New("payment widget reported an error")

// WidgetView is what the widget template renders. The template owns only the
// mount point; the provider owns everything inside it.
type WidgetView struct {
	Open              bool
	MountID           string
	PaymentID         string
	OrderID           string
	Provider          Provider
	ConfirmationToken string
	ReturnURL         string
	Loading           bool
	Error             string
	Status            Status
	Polling           bool
	Awaiting          bool
}

// HostedWidget drives a provider-injected checkout widget.
type HostedWidget struct {
	*surface

	onError     func(error)
	ready       bool
	unsubscribe func()
}

// NewHostedWidget creates a closed controller. onError receives widget errors
// after the widget has been closed; it may be nil.
func NewHostedWidget(cfg ControllerConfig, onError func(error)) *HostedWidget {
	return &HostedWidget{
		surface: newSurface(SurfaceWidget, cfg),
		onError: onError,
	}
}

// Present opens the widget for a and mounts it.
func (w *HostedWidget) Present(a Attempt) error {
	if a.PaymentID == "" {
		return ErrEmptyPaymentID
	}
	if !a.Presentation.Hosted() {
		return ErrNoPresentation
	}
	w.present(a, a.Presentation.ConfirmationToken, a.Presentation.ReturnURL, func() {
		w.ready = false
	})
	w.Mount()
	return nil
}

// Mount registers the error listener. Calling it again while mounted does nothing.
func (w *HostedWidget) Mount() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.unsubscribe != nil || w.cfg.Bus == nil {
		return
	}
	w.unsubscribe = w.cfg.Bus.Subscribe(TopicWidgetError, w.handleSignal)
}

// Mounted reports whether the error listener is registered.
func (w *HostedWidget) Mounted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.unsubscribe != nil
}

// Ready records that the provider rendered its widget and starts polling.
func (w *HostedWidget) Ready(ctx context.Context) error {
	w.mu.Lock()
	if !w.open {
		w.mu.Unlock()
		return ErrNoActiveSurface
	}
	w.ready = true
	w.mu.Unlock()

	return w.startPolling(ctx)
}

func (w *HostedWidget) handleSignal(_ context.Context, sig Signal) {
	werr, ok := sig.(WidgetError)
	if !ok {
		return
	}

	w.mu.Lock()
	if !w.open || (werr.PaymentID != "" && werr.PaymentID != w.attempt.PaymentID) {
		w.mu.Unlock()
		return
	}
	err := werr.Err
	if err == nil {
		err = errWidgetFailed
	}
	w.errMsg = err.Error()
	paymentID := w.attempt.PaymentID
	w.mu.Unlock()

	w.poller.Stop()
	if !w.teardown() {
		return
	}
	utils.Warn("widget", "Payment widget failed", "payment_id", paymentID, "error", err)
	if w.onError != nil {
		w.onError(err)
	}
}

// Close stops polling and closes the widget. It reports whether a transition happened.
func (w *HostedWidget) Close() bool {
	w.poller.Stop()
	return w.teardown()
}

// Unmount closes the widget and unregisters the error listener.
func (w *HostedWidget) Unmount() {
	w.Close()

	w.mu.Lock()
	unsubscribe := w.unsubscribe
	w.unsubscribe = nil
	w.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// View returns a consistent snapshot for rendering.
func (w *HostedWidget) View() WidgetView {
	polling := w.poller.Running()
	awaiting := w.poller.Awaiting()

	w.mu.Lock()
	defer w.mu.Unlock()
	return WidgetView{
		Open:              w.open,
		MountID:           WidgetMountID,
		PaymentID:         w.attempt.PaymentID,
		OrderID:           w.attempt.OrderID,
		Provider:          w.attempt.Provider,
		ConfirmationToken: w.attempt.Presentation.ConfirmationToken,
		ReturnURL:         w.attempt.Presentation.ReturnURL,
		Loading:           w.open && !w.ready,
		Error:             w.errMsg,
		Status:            w.status,
		Polling:           polling,
		Awaiting:          awaiting,
	}
}
