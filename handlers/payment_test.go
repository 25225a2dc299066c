package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"storefront/payment"
	"storefront/services"
)

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestInitiatePayment_EmbeddedRendersFrame(t *testing.T) {
	f := newFixture(t)
	f.backend.On("InitiatePayment", mock.Anything, "order-7", payment.ProviderYooKassa).
		Return(embeddedAttempt("order-7", "pay-1"), nil)

	rec := f.do(http.MethodPost, "/orders/order-7/pay", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `id="payment-frame-1"`)
	assert.Contains(t, body, `src="https://yoomoney.example/checkout/pay-1"`)
	assert.Contains(t, body, "Loading payment page")
	assert.True(t, f.orch.Embedded().IsOpen())
	assert.False(t, f.orch.Embedded().Polling(), "polling waits for the frame to load")
}

func TestInitiatePayment_WidgetRendersMountPoint(t *testing.T) {
	f := newFixture(t)
	f.backend.On("InitiatePayment", mock.Anything, "order-7", payment.ProviderYooKassaWidget).
		Return(widgetAttempt("order-7", "pay-2"), nil)

	rec := f.do(http.MethodPost, "/orders/order-7/pay?provider=yookassa_widget", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `id="`+payment.WidgetMountID+`"`)
	assert.Contains(t, body, `data-confirmation-token="ct-pay-2"`)
	assert.NotContains(t, body, "data-stripe-key")
	assert.True(t, f.orch.State().Snapshot().IsOpen)
}

func TestInitiatePayment_StripeWidgetGetsPublicKey(t *testing.T) {
	f := newFixture(t)
	attempt := widgetAttempt("order-7", "pi_1")
	attempt.Provider = payment.ProviderStripe
	f.backend.On("InitiatePayment", mock.Anything, "order-7", payment.ProviderStripe).Return(attempt, nil)

	rec := f.do(http.MethodPost, "/orders/order-7/pay?provider=stripe", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `data-stripe-key="pk_test_1"`)
}

func TestInitiatePayment_UnknownProviderIsRejectedLocally(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/orders/order-7/pay?provider=paypal", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("HX-Trigger"), "showToast")
	assert.Equal(t, "none", rec.Header().Get("HX-Reswap"))
	f.backend.AssertNotCalled(t, "InitiatePayment", mock.Anything, mock.Anything, mock.Anything)
}

func TestInitiatePayment_BackendErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not payable", services.ErrOrderNotPayable, http.StatusConflict},
		{"not found", &services.APIError{StatusCode: http.StatusNotFound, Detail: "Order not found"}, http.StatusNotFound},
		{"unknown provider", payment.ErrUnknownProvider, http.StatusBadRequest},
		{"upstream", errors.New("connection refused"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.backend.On("InitiatePayment", mock.Anything, "order-7", payment.ProviderYooKassa).
				Return(payment.Attempt{}, tt.err)

			rec := f.do(http.MethodPost, "/orders/order-7/pay", nil)

			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Header().Get("HX-Trigger"), "showToast")
			assert.False(t, f.orch.State().Snapshot().IsOpen)
		})
	}
}

func TestSurface_ClosedWhenIdle(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/payments/surface", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "payment-surface--closed")
}

func TestFrame_Lifecycle(t *testing.T) {
	f := newFixture(t)
	f.openEmbedded(t, "order-7", "pay-1")

	rec := f.do(http.MethodPost, "/payments/frame/load", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Checking payment status")
	assert.True(t, f.orch.Embedded().Polling())

	rec = f.do(http.MethodPost, "/payments/frame/error", url.Values{"message": {"Frame blocked"}})
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Frame blocked")
	assert.Contains(t, body, `src="data:image/png;base64,`)
	assert.NotContains(t, body, "<iframe")

	rec = f.do(http.MethodPost, "/payments/frame/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `id="payment-frame-2"`)
	assert.NotContains(t, rec.Body.String(), "Frame blocked")
}

func TestFrame_EventsWithoutSurface(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/payments/frame/load", "/payments/frame/error", "/payments/frame/reload", "/payments/widget/ready"} {
		rec := f.do(http.MethodPost, path, nil)
		assert.Equal(t, http.StatusConflict, rec.Code, path)
	}
}

func TestFrame_CloseWithoutPolling(t *testing.T) {
	f := newFixture(t)
	f.openEmbedded(t, "order-7", "pay-1")

	rec := f.do(http.MethodPost, "/payments/frame/close", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "payment-surface--closed")
	assert.Empty(t, f.decisions.Pending())
	assert.False(t, f.orch.State().Snapshot().IsOpen)
}

func closeAsync(f *fixture) <-chan *httptest.ResponseRecorder {
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- f.do(http.MethodPost, "/payments/frame/close", nil) }()
	return done
}

func pendingDecision(t *testing.T, f *fixture) string {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.decisions.Pending()) == 1 }, waitFor, 5*time.Millisecond)
	return f.decisions.Pending()[0].ID
}

func TestFrame_CloseWhilePollingAsksCustomer(t *testing.T) {
	f := newFixture(t)
	client := f.listen(t)
	f.openEmbedded(t, "order-7", "pay-1")
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/payments/frame/load", nil).Code)

	done := closeAsync(f)
	id := pendingDecision(t, f)
	prompt := nextEvent(t, client, EventConfirm)
	assert.Contains(t, prompt.HTML, "/payments/decisions/"+id)
	assert.Equal(t, payment.PromptCloseUnknown, prompt.Data.(payment.ConfirmRequested).Prompt.Kind)

	rec := f.do(http.MethodPost, "/payments/decisions/"+id+"?answer=yes", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	select {
	case rec := <-done:
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "payment-surface--closed")
	case <-time.After(waitFor):
		t.Fatal("close did not return after the answer")
	}
	settled := nextEvent(t, client, EventConfirmSettled)
	assert.Equal(t, payment.ConfirmSettled{ID: id, Answer: true}, settled.Data)
	assert.False(t, f.orch.Embedded().IsOpen())
}

func TestFrame_DeclinedCloseKeepsFrame(t *testing.T) {
	f := newFixture(t)
	f.openEmbedded(t, "order-7", "pay-1")
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/payments/frame/load", nil).Code)

	done := closeAsync(f)
	id := pendingDecision(t, f)
	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPost, "/payments/decisions/"+id+"?answer=no", nil).Code)

	select {
	case rec := <-done:
		assert.Equal(t, http.StatusNoContent, rec.Code)
	case <-time.After(waitFor):
		t.Fatal("close did not return after the answer")
	}
	assert.True(t, f.orch.Embedded().IsOpen())
	assert.True(t, f.orch.Embedded().Polling())
}

func TestDecide_Validation(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/payments/decisions/abc?answer=maybe", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/payments/decisions/abc?answer=yes", nil).Code)
}

func TestParseAnswer(t *testing.T) {
	for in, want := range map[string]bool{"yes": true, "Y": true, "true": true, "1": true, "no": false, "n": false, "false": false} {
		got, err := parseAnswer(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseAnswer("")
	assert.Error(t, err)
}

func TestWidget_ErrorClosesAndNotifies(t *testing.T) {
	f := newFixture(t)
	client := f.listen(t)
	f.backend.On("InitiatePayment", mock.Anything, "order-7", payment.ProviderYooKassaWidget).
		Return(widgetAttempt("order-7", "pay-2"), nil)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/orders/order-7/pay?provider=yookassa_widget", nil).Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/payments/widget/ready", nil).Code)
	assert.True(t, f.orch.Widget().Polling())

	rec := f.do(http.MethodPost, "/payments/widget/error", url.Values{"payment_id": {"pay-2"}, "message": {"script failed"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "payment-surface--closed")

	// a second report for the same widget changes nothing
	f.do(http.MethodPost, "/payments/widget/error", url.Values{"payment_id": {"pay-2"}})

	failures := f.widgetFailures()
	require.Len(t, failures, 1)
	assert.EqualError(t, failures[0], "script failed")
	assert.False(t, f.orch.Widget().Polling())
	assert.False(t, f.orch.State().Snapshot().IsOpen)

	surface := nextEvent(t, client, EventPaymentSurface)
	assert.Contains(t, surface.HTML, "payment-surface--closed")
	nextEvent(t, client, EventToast)
}

func TestWidget_Close(t *testing.T) {
	f := newFixture(t)
	f.backend.On("InitiatePayment", mock.Anything, "order-7", payment.ProviderYooKassaWidget).
		Return(widgetAttempt("order-7", "pay-2"), nil)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/orders/order-7/pay?provider=yookassa_widget", nil).Code)

	rec := f.do(http.MethodPost, "/payments/widget/close", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "payment-surface--closed")
	assert.Empty(t, f.widgetFailures())
}

func TestCompletedSignalReachesBrowsers(t *testing.T) {
	f := newFixture(t)
	client := f.listen(t)

	f.bus.Publish(context.Background(), payment.Completed{Success: false, OrderID: "order-7", PaymentID: "pay-1", Status: payment.StatusCanceled})

	completed := nextEvent(t, client, EventPaymentCompleted)
	assert.Contains(t, completed.HTML, payment.Message(payment.StatusCanceled))
	status := nextEvent(t, client, EventPaymentStatus)
	assert.Contains(t, status.HTML, "payment-status--failed")
}

func TestNewAttemptReplacesOpenSurface(t *testing.T) {
	f := newFixture(t)
	f.openEmbedded(t, "order-7", "pay-1")
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/payments/frame/load", nil).Code)

	f.backend.On("InitiatePayment", mock.Anything, "order-8", payment.ProviderYooKassaWidget).
		Return(widgetAttempt("order-8", "pay-2"), nil)
	rec := f.do(http.MethodPost, "/orders/order-8/pay?provider=yookassa_widget", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), fmt.Sprintf("data-payment-id=%q", "pay-2"))
	assert.False(t, f.orch.Embedded().IsOpen())
	assert.False(t, f.orch.Embedded().Polling())
	assert.True(t, f.orch.Widget().IsOpen())
}
