package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v74"

	"storefront/payment"
)

type mockOrders struct {
	mock.Mock
}

func (m *mockOrders) GetOrderDetails(ctx context.Context, orderID string) (Order, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(Order), args.Error(1)
}

func newStripeAPI(t *testing.T) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/payment_intents", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "80050", r.PostForm.Get("amount"))
		assert.Equal(t, "rub", r.PostForm.Get("currency"))
		assert.Equal(t, "order-7", r.PostForm.Get("metadata[order_id]"))
		assert.Equal(t, "true", r.PostForm.Get("automatic_payment_methods[enabled]"))
		writeJSON(w, http.StatusOK, map[string]any{
			"id":            "pi_123",
			"object":        "payment_intent",
			"amount":        80050,
			"currency":      "rub",
			"status":        "requires_payment_method",
			"client_secret": "pi_123_secret_abc",
		})
	})
	mux.HandleFunc("GET /v1/payment_intents/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch id := r.PathValue("id"); id {
		case "pi_paid":
			writeJSON(w, http.StatusOK, map[string]any{"id": id, "object": "payment_intent", "status": "succeeded"})
		case "pi_hold":
			writeJSON(w, http.StatusOK, map[string]any{"id": id, "object": "payment_intent", "status": "requires_capture"})
		default:
			writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{
				"type":    "invalid_request_error",
				"code":    "resource_missing",
				"message": "No such payment_intent: '" + id + "'",
			}})
		}
	})
	return mux
}

func newTestStripe(t *testing.T, orders OrderSource, cache StatusCache) *StripeGateway {
	t.Helper()
	srv := httptest.NewServer(newStripeAPI(t))
	t.Cleanup(srv.Close)
	return NewStripeGateway(StripeConfig{
		SecretKey: "sk_test_123",
		PublicKey: "pk_test_123",
		Currency:  "RUB",
		APIURL:    srv.URL,
	}, orders, cache, func(orderID string, provider payment.Provider) string {
		return "https://shop.example/payments/return/" + orderID + "?provider=" + string(provider)
	})
}

func TestStripe_InitiatePayment(t *testing.T) {
	orders := new(mockOrders)
	orders.On("GetOrderDetails", mock.Anything, "order-7").
		Return(Order{ID: "order-7", Status: OrderPending, Total: decimal.RequireFromString("800.50")}, nil)
	g := newTestStripe(t, orders, nil)

	attempt, err := g.InitiatePayment(context.Background(), "order-7", payment.ProviderStripe)

	require.NoError(t, err)
	assert.Equal(t, "pi_123", attempt.PaymentID)
	assert.Equal(t, payment.ProviderStripe, attempt.Provider)
	assert.Equal(t, payment.StatusPending, attempt.Status)
	assert.Equal(t, "pi_123_secret_abc", attempt.Presentation.ConfirmationToken)
	assert.Equal(t, "https://shop.example/payments/return/order-7?provider=stripe", attempt.Presentation.ReturnURL)
	assert.True(t, attempt.Presentation.Hosted())
	assert.Equal(t, "pk_test_123", g.PublicKey())
}

func TestStripe_InitiateRejectsPaidOrder(t *testing.T) {
	orders := new(mockOrders)
	orders.On("GetOrderDetails", mock.Anything, "order-7").Return(Order{ID: "order-7", Status: OrderPaid}, nil)
	orders.On("GetOrderDetails", mock.Anything, "order-8").Return(Order{}, errors.New("backend down"))
	g := newTestStripe(t, orders, nil)

	_, err := g.InitiatePayment(context.Background(), "order-7", payment.ProviderStripe)
	assert.ErrorIs(t, err, ErrOrderNotPayable)

	_, err = g.InitiatePayment(context.Background(), "order-8", payment.ProviderStripe)
	assert.ErrorContains(t, err, "backend down")
}

func TestStripe_CheckPaymentStatus(t *testing.T) {
	g := newTestStripe(t, new(mockOrders), nil)
	ctx := context.Background()

	res, err := g.CheckPaymentStatus(ctx, "pi_paid")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusResult{Status: payment.StatusSucceeded, IsSuccessful: true}, res)

	res, err = g.CheckPaymentStatus(ctx, "pi_hold")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusWaitingForCapture, res.Status)

	res, err = g.CheckPaymentStatus(ctx, "pi_gone")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusNotFound, res.Status)
}

func TestStripe_CheckPaymentStatusPrefersTerminalCache(t *testing.T) {
	cache := NewMemoryStatusCache(time.Minute)
	require.NoError(t, cache.Set(context.Background(), CachedStatus{PaymentID: "pi_gone", Status: payment.StatusCanceled}))
	g := newTestStripe(t, new(mockOrders), cache)

	res, err := g.CheckPaymentStatus(context.Background(), "pi_gone")

	require.NoError(t, err)
	assert.Equal(t, payment.StatusCanceled, res.Status)
}

func TestStripe_CheckPaymentStatusIgnoresTransientCache(t *testing.T) {
	cache := NewMemoryStatusCache(time.Minute)
	require.NoError(t, cache.Set(context.Background(), CachedStatus{PaymentID: "pi_paid", Status: payment.StatusPending}))
	g := newTestStripe(t, new(mockOrders), cache)

	res, err := g.CheckPaymentStatus(context.Background(), "pi_paid")

	require.NoError(t, err)
	assert.Equal(t, payment.StatusSucceeded, res.Status)
	assert.True(t, res.IsSuccessful)
}

func TestMapIntentStatus(t *testing.T) {
	tests := map[stripe.PaymentIntentStatus]payment.Status{
		stripe.PaymentIntentStatusRequiresPaymentMethod: payment.StatusPending,
		stripe.PaymentIntentStatusRequiresConfirmation:  payment.StatusPending,
		stripe.PaymentIntentStatusRequiresAction:        payment.StatusPending,
		stripe.PaymentIntentStatusProcessing:            payment.StatusPending,
		stripe.PaymentIntentStatusRequiresCapture:       payment.StatusWaitingForCapture,
		stripe.PaymentIntentStatusSucceeded:             payment.StatusSucceeded,
		stripe.PaymentIntentStatusCanceled:              payment.StatusCanceled,
		stripe.PaymentIntentStatus("brand_new"):         payment.Status("brand_new"),
	}
	for in, want := range tests {
		assert.Equal(t, want, MapIntentStatus(in), in)
	}
}

func TestStripe_RegisterWebhook(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/webhook_endpoints", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "https://shop.example/stripe-webhook", r.PostForm.Get("url"))
		assert.Equal(t, "payment_intent.created", r.PostForm.Get("enabled_events[0]"))
		assert.Equal(t, "charge.refunded", r.PostForm.Get("enabled_events[7]"))
		writeJSON(w, http.StatusOK, map[string]any{
			"id":     "we_1",
			"object": "webhook_endpoint",
			"url":    "https://shop.example/stripe-webhook",
			"secret": "whsec_registered",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	g := NewStripeGateway(StripeConfig{SecretKey: "sk_test_123", APIURL: srv.URL}, new(mockOrders), nil, nil)

	secret, err := g.RegisterWebhook(context.Background(), "https://shop.example/stripe-webhook")

	require.NoError(t, err)
	assert.Equal(t, "whsec_registered", secret)
}
