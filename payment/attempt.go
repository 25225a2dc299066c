package payment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyPaymentID  = errors.New("payment id is empty")
	ErrMissingOrderID  = errors.New("order id is missing")
	ErrUnknownProvider = errors.New("unknown payment provider")
	ErrNoActiveSurface = errors.New("no active payment surface")
	ErrNoPresentation  = errors.New("payment attempt has nothing to present")
)

// Provider identifies the payment integration used for an attempt.
type Provider string

const (
	// ProviderYooKassa presents a navigable confirmation URL in an embedded frame.
	ProviderYooKassa Provider = "yookassa"
	// ProviderYooKassaWidget presents the provider's checkout widget from a confirmation token.
	ProviderYooKassaWidget Provider = "yookassa_widget"
	// ProviderStripe presents the Stripe Payment Element from a PaymentIntent client secret.
	ProviderStripe Provider = "stripe"
)

// ParseProvider maps a query value to a Provider; empty selects the default embedded flow.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ProviderYooKassa, nil
	case ProviderYooKassa, ProviderYooKassaWidget, ProviderStripe:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
}

// Presentation is what the browser needs to show the payment surface.
// Either URL is set (embedded surface) or ConfirmationToken is (hosted widget).
type Presentation struct {
	URL               string `json:"url,omitempty"`
	ConfirmationToken string `json:"confirmation_token,omitempty"`
	ReturnURL         string `json:"return_url,omitempty"`
}

// Hosted reports whether the presentation targets a provider-injected widget.
func (p Presentation) Hosted() bool {
	return p.ConfirmationToken != ""
}

// Attempt is one run of the payment process for an order.
type Attempt struct {
	PaymentID    string       `json:"payment_id"`
	OrderID      string       `json:"order_id"`
	Provider     Provider     `json:"provider"`
	Presentation Presentation `json:"presentation"`
	Status       Status       `json:"status"`
}

// StatusResult is the answer of a single status check.
type StatusResult struct {
	Status       Status `json:"status"`
	IsSuccessful bool   `json:"is_successful"`
}

// ReturnParams identify the payment the customer was redirected back for.
type ReturnParams struct {
	OrderID   string
	PaymentID string
}

// Variant selects how a Result is rendered.
type Variant string

const (
	VariantSuccess Variant = "success"
	VariantRetry   Variant = "retry"
	VariantError   Variant = "error"
)

// Result is the reconciled, user-facing outcome of an attempt.
type Result struct {
	Status       Status
	IsSuccessful bool
	OrderID      string
	PaymentID    string
	Err          error
}

// Message returns the explanation shown next to the result.
func (r Result) Message() string {
	return Message(r.Status)
}

// Variant classifies the result for rendering.
func (r Result) Variant() Variant {
	switch {
	case r.Err != nil:
		return VariantError
	case r.IsSuccessful:
		return VariantSuccess
	default:
		return VariantRetry
	}
}
