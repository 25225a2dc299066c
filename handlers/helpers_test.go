package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"storefront/payment"
	"storefront/services"
)

const waitFor = time.Second

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) CheckPaymentStatus(ctx context.Context, paymentID string) (payment.StatusResult, error) {
	args := m.Called(ctx, paymentID)
	return args.Get(0).(payment.StatusResult), args.Error(1)
}

func (m *mockBackend) InitiatePayment(ctx context.Context, orderID string, provider payment.Provider) (payment.Attempt, error) {
	args := m.Called(ctx, orderID, provider)
	return args.Get(0).(payment.Attempt), args.Error(1)
}

func (m *mockBackend) HandlePaymentReturn(ctx context.Context, params payment.ReturnParams) (payment.Result, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(payment.Result), args.Error(1)
}

type mockOrders struct {
	mock.Mock
}

func (m *mockOrders) GetMyOrders(ctx context.Context, skip, limit int) (services.OrderList, error) {
	args := m.Called(ctx, skip, limit)
	return args.Get(0).(services.OrderList), args.Error(1)
}

func (m *mockOrders) GetOrderDetails(ctx context.Context, orderID string) (services.Order, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(services.Order), args.Error(1)
}

func (m *mockOrders) CancelOrder(ctx context.Context, orderID string) (services.Order, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(services.Order), args.Error(1)
}

type fixture struct {
	backend   *mockBackend
	orders    *mockOrders
	cache     *services.MemoryStatusCache
	bus       *payment.Bus
	events    *EventBroadcaster
	decisions *DecisionBroker
	orch      *payment.Orchestrator
	handler   *Handler
	mux       *http.ServeMux

	mu          sync.Mutex
	widgetFails []error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		backend: new(mockBackend),
		orders:  new(mockOrders),
		cache:   services.NewMemoryStatusCache(time.Minute),
		bus:     payment.NewBus(),
		events:  NewEventBroadcaster(),
	}
	f.decisions = NewDecisionBroker(f.bus, 0)
	f.orch = payment.NewOrchestrator(payment.OrchestratorConfig{
		Backend:   f.backend,
		Bus:       f.bus,
		Confirmer: f.decisions,
		// no tick ever fires during a test
		Interval: time.Hour,
		OnWidgetError: func(err error) {
			f.mu.Lock()
			f.widgetFails = append(f.widgetFails, err)
			f.mu.Unlock()
			f.events.WidgetFailed(err)
		},
	})
	f.handler = New(Options{
		Orchestrator:        f.orch,
		Orders:              f.orders,
		Cache:               f.cache,
		Decisions:           f.decisions,
		Events:              f.events,
		StripePublicKey:     "pk_test_1",
		StripeWebhookSecret: "whsec_test",
	})
	f.mux = f.handler.Routes()
	t.Cleanup(func() {
		f.handler.Close()
		f.orch.Close()
	})
	return f
}

func (f *fixture) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) widgetFailures() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.widgetFails...)
}

func embeddedAttempt(orderID, paymentID string) payment.Attempt {
	return payment.Attempt{
		PaymentID:    paymentID,
		OrderID:      orderID,
		Provider:     payment.ProviderYooKassa,
		Status:       payment.StatusPending,
		Presentation: payment.Presentation{URL: "https://yoomoney.example/checkout/" + paymentID},
	}
}

func widgetAttempt(orderID, paymentID string) payment.Attempt {
	return payment.Attempt{
		PaymentID: paymentID,
		OrderID:   orderID,
		Provider:  payment.ProviderYooKassaWidget,
		Status:    payment.StatusPending,
		Presentation: payment.Presentation{
			ConfirmationToken: "ct-" + paymentID,
			ReturnURL:         "https://shop.example/payments/return/" + orderID + "?provider=yookassa_widget",
		},
	}
}

// openEmbedded initiates an embedded attempt and reports the frame as loaded.
func (f *fixture) openEmbedded(t *testing.T, orderID, paymentID string) {
	t.Helper()
	f.backend.On("InitiatePayment", mock.Anything, orderID, payment.ProviderYooKassa).
		Return(embeddedAttempt(orderID, paymentID), nil).Once()
	rec := f.do(http.MethodPost, "/orders/"+orderID+"/pay?provider=yookassa", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

// listen registers a test client on the broadcaster.
func (f *fixture) listen(t *testing.T) *eventClient {
	t.Helper()
	c := f.events.add("test")
	t.Cleanup(func() { f.events.remove(c) })
	return c
}

// nextEvent waits for the next event with the given name, skipping others.
func nextEvent(t *testing.T, c *eventClient, name string) Event {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case ev := <-c.send:
			if ev.Name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within %s", name, waitFor)
			return Event{}
		}
	}
}
