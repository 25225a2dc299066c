package payment

import (
	"context"
	"errors"

	"storefront/utils"
)

// DefaultFrameError is shown when the payment page fails to load without a reason.
const DefaultFrameError = "The payment page could not be loaded. Reload it or scan the QR code to pay from your phone."

// EmbeddedView is what the frame template renders.
type EmbeddedView struct {
	Open       bool
	PaymentID  string
	OrderID    string
	URL        string
	Loading    bool
	Error      string
	Status     Status
	Polling    bool
	Awaiting   bool
	Navigation uint64
}

// EmbeddedSurface drives a navigable payment page shown in a frame.
type EmbeddedSurface struct {
	*surface

	loading    bool
	navigation uint64
}

// NewEmbeddedSurface creates a closed controller.
func NewEmbeddedSurface(cfg ControllerConfig) *EmbeddedSurface {
	return &EmbeddedSurface{surface: newSurface(SurfaceEmbedded, cfg)}
}

// Present mounts the frame for a, or re-navigates the mounted frame when the
// URL changed. The previous attempt's poller is stopped first.
func (e *EmbeddedSurface) Present(a Attempt) error {
	if a.PaymentID == "" {
		return ErrEmptyPaymentID
	}
	if a.Presentation.URL == "" {
		return ErrNoPresentation
	}
	e.present(a, "", a.Presentation.ReturnURL, func() {
		e.loading = true
		e.navigation++
	})
	return nil
}

// Loaded handles the frame load event and starts polling.
func (e *EmbeddedSurface) Loaded(ctx context.Context) error {
	e.mu.Lock()
	if !e.open {
		e.mu.Unlock()
		return ErrNoActiveSurface
	}
	e.loading = false
	e.errMsg = ""
	e.mu.Unlock()

	return e.startPolling(ctx)
}

// Failed handles the frame error event.
func (e *EmbeddedSurface) Failed(message string) error {
	if message == "" {
		message = DefaultFrameError
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return ErrNoActiveSurface
	}
	e.loading = false
	e.errMsg = message
	utils.Warn("embedded", "Payment frame failed to load", "payment_id", e.attempt.PaymentID, "error", message)
	return nil
}

// Reload re-navigates the frame to the same URL.
func (e *EmbeddedSurface) Reload() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return ErrNoActiveSurface
	}
	e.loading = true
	e.errMsg = ""
	e.navigation++
	return nil
}

// Close handles a customer close request. Polling stops before anything else.
// If a status check was in flight the customer has to confirm; declining
// resumes polling and keeps the frame. It reports whether the surface closed.
func (e *EmbeddedSurface) Close(ctx context.Context) (bool, error) {
	wasPolling := e.poller.Running()
	paymentID := e.poller.PaymentID()
	e.poller.Stop()

	e.mu.Lock()
	if !e.open {
		e.mu.Unlock()
		return false, nil
	}
	gen := e.gen
	e.mu.Unlock()

	if wasPolling && e.cfg.Confirmer != nil {
		answer, err := e.cfg.Confirmer.Confirm(ctx, Prompt{
			Kind:      PromptCloseUnknown,
			PaymentID: paymentID,
			Message:   closeUnknownMessage,
		})
		if err != nil || !answer {
			e.resume(ctx, gen, paymentID)
			if err != nil && !errors.Is(err, context.Canceled) {
				return false, err
			}
			return false, nil
		}
	}

	return e.teardown(), nil
}

// resume restarts polling after a declined close, unless the surface changed meanwhile.
func (e *EmbeddedSurface) resume(ctx context.Context, gen uint64, paymentID string) {
	e.mu.Lock()
	same := e.open && e.gen == gen
	e.mu.Unlock()
	if !same {
		return
	}
	utils.Info("embedded", "Close declined, polling resumed", "payment_id", paymentID)
	if _, err := e.poller.Start(ctx, paymentID); err != nil {
		utils.Error("embedded", "Failed to resume polling", "payment_id", paymentID, "error", err)
	}
}

// Unmount stops polling and closes the frame without confirmation.
func (e *EmbeddedSurface) Unmount() {
	e.poller.Stop()
	e.teardown()
}

// Navigation returns the frame key; it changes on every (re)navigation.
func (e *EmbeddedSurface) Navigation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.navigation
}

// View returns a consistent snapshot for rendering.
func (e *EmbeddedSurface) View() EmbeddedView {
	polling := e.poller.Running()
	awaiting := e.poller.Awaiting()

	e.mu.Lock()
	defer e.mu.Unlock()
	return EmbeddedView{
		Open:       e.open,
		PaymentID:  e.attempt.PaymentID,
		OrderID:    e.attempt.OrderID,
		URL:        e.attempt.Presentation.URL,
		Loading:    e.loading,
		Error:      e.errMsg,
		Status:     e.status,
		Polling:    polling,
		Awaiting:   awaiting,
		Navigation: e.navigation,
	}
}
