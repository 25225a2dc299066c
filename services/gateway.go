package services

import (
	"context"
	"fmt"
	"strings"

	"storefront/payment"
)

const stripeIntentPrefix = "pi_"

// Gateway is the payment.Backend the orchestrator uses: it routes Stripe
// attempts to Stripe and everything else to the storefront API.
type Gateway struct {
	backend *Backend
	stripe  *StripeGateway
}

// NewGateway creates a router. stripe may be nil when Stripe is not configured.
func NewGateway(backend *Backend, stripe *StripeGateway) *Gateway {
	return &Gateway{backend: backend, stripe: stripe}
}

func (g *Gateway) isStripe(paymentID string) bool {
	return g.stripe != nil && strings.HasPrefix(paymentID, stripeIntentPrefix)
}

func (g *Gateway) InitiatePayment(ctx context.Context, orderID string, provider payment.Provider) (payment.Attempt, error) {
	if provider == payment.ProviderStripe {
		if g.stripe == nil {
			return payment.Attempt{}, fmt.Errorf("%w: stripe is not configured", payment.ErrUnknownProvider)
		}
		return g.stripe.InitiatePayment(ctx, orderID, provider)
	}
	return g.backend.InitiatePayment(ctx, orderID, provider)
}

func (g *Gateway) CheckPaymentStatus(ctx context.Context, paymentID string) (payment.StatusResult, error) {
	if g.isStripe(paymentID) {
		return g.stripe.CheckPaymentStatus(ctx, paymentID)
	}
	return g.backend.CheckPaymentStatus(ctx, paymentID)
}

func (g *Gateway) HandlePaymentReturn(ctx context.Context, params payment.ReturnParams) (payment.Result, error) {
	if params.OrderID == "" {
		return payment.Result{}, payment.ErrMissingOrderID
	}
	if !g.isStripe(params.PaymentID) {
		return g.backend.HandlePaymentReturn(ctx, params)
	}

	res, err := g.stripe.CheckPaymentStatus(ctx, params.PaymentID)
	if err != nil {
		return payment.Result{}, err
	}
	return payment.Result{
		Status:       res.Status,
		IsSuccessful: res.IsSuccessful,
		OrderID:      params.OrderID,
		PaymentID:    params.PaymentID,
	}, nil
}

// Stripe returns the Stripe gateway, or nil.
func (g *Gateway) Stripe() *StripeGateway {
	return g.stripe
}
