package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"storefront/payment"
	"storefront/utils"
)

var ErrOrderNotPayable = errors.New("order is not awaiting payment")

// OrderSource resolves the order being paid.
type OrderSource interface {
	GetOrderDetails(ctx context.Context, orderID string) (Order, error)
}

// StripeConfig configures the Stripe gateway.
type StripeConfig struct {
	SecretKey string
	PublicKey string
	Currency  string
	// APIURL overrides the Stripe API endpoint.
	APIURL string
}

// StripeGateway serves provider=stripe with PaymentIntents confirmed by the Payment Element.
type StripeGateway struct {
	api       *client.API
	orders    OrderSource
	cache     StatusCache
	currency  string
	publicKey string
	returnURL func(orderID string, provider payment.Provider) string
}

// NewStripeGateway creates a gateway. cache may be nil.
func NewStripeGateway(cfg StripeConfig, orders OrderSource, cache StatusCache, returnURL func(string, payment.Provider) string) *StripeGateway {
	var backends *stripe.Backends
	if cfg.APIURL != "" {
		backends = &stripe.Backends{
			API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
				URL:           stripe.String(cfg.APIURL),
				LeveledLogger: &stripe.LeveledLogger{Level: stripe.LevelError},
			}),
		}
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, backends)

	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = "rub"
	}
	return &StripeGateway{
		api:       api,
		orders:    orders,
		cache:     cache,
		currency:  currency,
		publicKey: cfg.PublicKey,
		returnURL: returnURL,
	}
}

// PublicKey is handed to Stripe.js in the browser.
func (g *StripeGateway) PublicKey() string {
	return g.publicKey
}

// InitiatePayment creates a PaymentIntent for the order total.
func (g *StripeGateway) InitiatePayment(ctx context.Context, orderID string, _ payment.Provider) (payment.Attempt, error) {
	order, err := g.orders.GetOrderDetails(ctx, orderID)
	if err != nil {
		return payment.Attempt{}, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if !order.Payable() {
		return payment.Attempt{}, fmt.Errorf("%w: order %s is %s", ErrOrderNotPayable, orderID, order.Status)
	}

	amount := order.Total.Shift(2).Round(0).IntPart()
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(g.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("order_id", orderID)

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return payment.Attempt{}, fmt.Errorf("create payment intent for order %s: %w", orderID, err)
	}

	utils.Info("stripe", "PaymentIntent created", "order_id", orderID, "payment_intent", pi.ID, "amount", amount, "currency", g.currency)
	returnURL := ""
	if g.returnURL != nil {
		returnURL = g.returnURL(orderID, payment.ProviderStripe)
	}
	return payment.Attempt{
		PaymentID: pi.ID,
		OrderID:   orderID,
		Provider:  payment.ProviderStripe,
		Status:    MapIntentStatus(pi.Status),
		Presentation: payment.Presentation{
			ConfirmationToken: pi.ClientSecret,
			ReturnURL:         returnURL,
		},
	}, nil
}

// CheckPaymentStatus reads the PaymentIntent unless a webhook already reported
// a terminal state for it.
func (g *StripeGateway) CheckPaymentStatus(ctx context.Context, paymentID string) (payment.StatusResult, error) {
	if paymentID == "" {
		return payment.StatusResult{}, payment.ErrEmptyPaymentID
	}
	if g.cache != nil {
		if state, ok := g.cache.Get(ctx, paymentID); ok && state.Status.IsTerminal() {
			return statusResult(state.Status), nil
		}
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(paymentID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return statusResult(payment.StatusNotFound), nil
		}
		return payment.StatusResult{}, fmt.Errorf("retrieve payment intent %s: %w", paymentID, err)
	}
	return statusResult(MapIntentStatus(pi.Status)), nil
}

// MapIntentStatus translates a PaymentIntent status into the storefront vocabulary.
func MapIntentStatus(status stripe.PaymentIntentStatus) payment.Status {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return payment.StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return payment.StatusCanceled
	case stripe.PaymentIntentStatusRequiresCapture:
		return payment.StatusWaitingForCapture
	case stripe.PaymentIntentStatusRequiresPaymentMethod,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusProcessing:
		return payment.StatusPending
	default:
		// unknown values are passed through so the fallback message shows them
		return payment.Status(status)
	}
}

// WebhookEvents are the Stripe events the storefront caches.
var WebhookEvents = []string{
	"payment_intent.created",
	"payment_intent.processing",
	"payment_intent.requires_action",
	"payment_intent.amount_capturable_updated",
	"payment_intent.succeeded",
	"payment_intent.payment_failed",
	"payment_intent.canceled",
	"charge.refunded",
}

// RegisterWebhook creates a webhook endpoint for url and returns its signing secret.
func (g *StripeGateway) RegisterWebhook(ctx context.Context, url string) (string, error) {
	params := &stripe.WebhookEndpointParams{
		URL:           stripe.String(url),
		EnabledEvents: stripe.StringSlice(WebhookEvents),
	}
	params.Context = ctx
	params.AddMetadata("source", "storefront")

	endpoint, err := g.api.WebhookEndpoints.New(params)
	if err != nil {
		return "", fmt.Errorf("register webhook endpoint %s: %w", url, err)
	}
	utils.Info("stripe", "Webhook endpoint registered", "url", url, "endpoint_id", endpoint.ID, "events", len(WebhookEvents))
	return endpoint.Secret, nil
}
