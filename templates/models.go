package templates

import (
	"storefront/payment"
	"storefront/services"
)

// PaymentPage is everything the payment modal needs to render the active surface.
type PaymentPage struct {
	Kind     payment.SurfaceKind
	Embedded payment.EmbeddedView
	Widget   payment.WidgetView

	// StripePublicKey is set when the widget is a Stripe Payment Element.
	StripePublicKey string
	// QRCode is a base64 PNG of the payment URL, shown when the frame fails to load.
	QRCode string
}

// Open reports whether any surface is mounted.
func (p PaymentPage) Open() bool {
	switch p.Kind {
	case payment.SurfaceEmbedded:
		return p.Embedded.Open
	case payment.SurfaceWidget:
		return p.Widget.Open
	}
	return false
}

// ResultPage is the return page after the provider redirected the customer back.
type ResultPage struct {
	Result payment.Result
	// Order is the refreshed order; nil when it could not be loaded.
	Order *services.Order
	// Provider is offered again by the retry button.
	Provider payment.Provider
}

// Toast is a non-blocking notification raised through the HX-Trigger header.
type Toast struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Toast types
const (
	ToastSuccess = "success"
	ToastWarning = "warning"
	ToastError   = "error"
)

// ConfirmView is one pending yes/no prompt.
type ConfirmView struct {
	ID     string
	Prompt payment.Prompt
}
