package payment

import (
	"context"
	"net/url"
	"strings"

	"storefront/utils"
)

// Returner performs the one-shot reconciliation after a provider redirect.
type Returner interface {
	HandlePaymentReturn(ctx context.Context, params ReturnParams) (Result, error)
}

// Reconciler turns a redirect back from the provider into a Result.
type Reconciler struct {
	returner  Returner
	initiator Initiator
}

// NewReconciler creates a reconciler. initiator is used by Retry.
func NewReconciler(returner Returner, initiator Initiator) *Reconciler {
	return &Reconciler{returner: returner, initiator: initiator}
}

// ParseReturn extracts the identifiers from the redirect URL. A non-empty
// pathOrderID takes precedence over the query string.
func ParseReturn(query url.Values, pathOrderID string) ReturnParams {
	params := ReturnParams{
		OrderID:   firstValue(query, "order_id", "orderId"),
		PaymentID: firstValue(query, "payment_id", "paymentId", "payment_intent"),
	}
	if id := strings.TrimSpace(pathOrderID); id != "" {
		params.OrderID = id
	}
	return params
}

func firstValue(query url.Values, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(query.Get(key)); v != "" {
			return v
		}
	}
	return ""
}

// Reconcile performs exactly one reconciliation call. It never polls: a
// pending payment is reported as not yet successful. Errors are carried in
// the Result.
func (r *Reconciler) Reconcile(ctx context.Context, params ReturnParams) Result {
	if params.OrderID == "" {
		utils.Warn("reconciler", "Return without order id", "payment_id", params.PaymentID)
		return Result{PaymentID: params.PaymentID, Err: ErrMissingOrderID}
	}

	result, err := r.returner.HandlePaymentReturn(ctx, params)
	if err != nil {
		utils.Error("reconciler", "Payment return reconciliation failed", "order_id", params.OrderID, "payment_id", params.PaymentID, "error", err)
		return Result{OrderID: params.OrderID, PaymentID: params.PaymentID, Err: err}
	}

	if result.OrderID == "" {
		result.OrderID = params.OrderID
	}
	if result.PaymentID == "" {
		result.PaymentID = params.PaymentID
	}
	utils.Info("reconciler", "Payment return reconciled", "order_id", result.OrderID, "payment_id", result.PaymentID, "status", result.Status, "successful", result.IsSuccessful)
	return result
}

// Retry starts a brand-new attempt for orderID.
func (r *Reconciler) Retry(ctx context.Context, orderID string, provider Provider) (Attempt, error) {
	if strings.TrimSpace(orderID) == "" {
		return Attempt{}, ErrMissingOrderID
	}
	utils.Info("reconciler", "Retrying payment", "order_id", orderID, "provider", provider)
	return r.initiator.InitiatePayment(ctx, orderID, provider)
}
