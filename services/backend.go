package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"

	"storefront/payment"
	"storefront/utils"
)

// BackendConfig locates the storefront API.
type BackendConfig struct {
	// BaseURL includes the API prefix, e.g. https://api.shop.example/api/v1
	BaseURL string
	Token   string
	// PublicURL is where customers reach this front-end; return URLs are built from it.
	PublicURL string
	Timeout   time.Duration
}

// APIError is a non-2xx answer of the storefront API.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s %s: backend returned %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: backend returned %d: %s", e.Method, e.Path, e.StatusCode, e.Detail)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

func (b errorBody) String() string {
	if len(b.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Detail, &s); err == nil {
		return s
	}
	return string(b.Detail)
}

// PaymentRecord is a payment as the backend stores it
type PaymentRecord struct {
	ID                string         `json:"id"`
	OrderID           string         `json:"order_id"`
	Provider          string         `json:"provider"`
	Status            payment.Status `json:"status"`
	ProviderPaymentID string         `json:"provider_payment_id,omitempty"`
	ConfirmationURL   string         `json:"confirmation_url,omitempty"`
	Currency          string         `json:"currency"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

type createPaymentResponse struct {
	PaymentID         string         `json:"payment_id"`
	ConfirmationURL   string         `json:"confirmation_url"`
	ConfirmationToken string         `json:"confirmation_token"`
	Status            payment.Status `json:"status"`
}

// Backend talks to the storefront API, the source of truth for payment status.
type Backend struct {
	http      *resty.Client
	cache     StatusCache
	publicURL string
	group     singleflight.Group
}

func newHTTPClient(cfg BackendConfig) *resty.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return client
}

// NewBackend creates the API client. cache may be nil.
func NewBackend(cfg BackendConfig, cache StatusCache) *Backend {
	return &Backend{
		http:      newHTTPClient(cfg),
		cache:     cache,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}
}

// do executes req and converts error statuses into *APIError.
func do(req *resty.Request, method, path string) error {
	var body errorBody
	resp, err := req.SetError(&body).Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return &APIError{
			StatusCode: resp.StatusCode(),
			Method:     method,
			Path:       resp.Request.URL,
			Detail:     body.String(),
		}
	}
	return nil
}

// ReturnURL is where the provider sends the customer back to after paying for
// orderID. It names the provider so a retry from the return page uses it again.
func (b *Backend) ReturnURL(orderID string, provider payment.Provider) string {
	query := url.Values{"provider": {string(provider)}}
	return b.publicURL + "/payments/return/" + url.PathEscape(orderID) + "?" + query.Encode()
}

// InitiatePayment creates a new attempt for orderID.
func (b *Backend) InitiatePayment(ctx context.Context, orderID string, provider payment.Provider) (payment.Attempt, error) {
	var path string
	switch provider {
	case payment.ProviderYooKassa:
		path = "/payments/{order_id}/create"
	case payment.ProviderYooKassaWidget:
		path = "/payments/{order_id}/create-widget"
	default:
		return payment.Attempt{}, fmt.Errorf("%w: %q is not served by the storefront API", payment.ErrUnknownProvider, provider)
	}

	returnURL := b.ReturnURL(orderID, provider)
	var out createPaymentResponse
	req := b.http.R().
		SetContext(ctx).
		SetPathParam("order_id", orderID).
		SetQueryParam("provider", string(payment.ProviderYooKassa)).
		SetQueryParam("return_url", returnURL).
		SetResult(&out)
	if err := do(req, http.MethodPost, path); err != nil {
		return payment.Attempt{}, err
	}
	if out.PaymentID == "" {
		return payment.Attempt{}, fmt.Errorf("create payment for order %s: %w", orderID, payment.ErrEmptyPaymentID)
	}

	utils.Info("backend", "Payment created", "order_id", orderID, "payment_id", out.PaymentID, "provider", provider, "status", out.Status)
	return payment.Attempt{
		PaymentID: out.PaymentID,
		OrderID:   orderID,
		Provider:  provider,
		Status:    out.Status,
		Presentation: payment.Presentation{
			URL:               out.ConfirmationURL,
			ConfirmationToken: out.ConfirmationToken,
			ReturnURL:         returnURL,
		},
	}, nil
}

// CheckPaymentStatus returns the status of paymentID. A terminal webhook state
// skips the API call. Concurrent checks for the same id share one request and
// a 404 is reported as not_found.
func (b *Backend) CheckPaymentStatus(ctx context.Context, paymentID string) (payment.StatusResult, error) {
	if paymentID == "" {
		return payment.StatusResult{}, payment.ErrEmptyPaymentID
	}
	if b.cache != nil {
		if state, ok := b.cache.Get(ctx, paymentID); ok && state.Status.IsTerminal() {
			utils.Debug("backend", "Using cached payment state", "payment_id", paymentID, "status", state.Status)
			return statusResult(state.Status), nil
		}
	}

	v, err, shared := b.group.Do(paymentID, func() (interface{}, error) {
		record, err := b.GetPayment(ctx, paymentID)
		if IsNotFound(err) {
			return statusResult(payment.StatusNotFound), nil
		}
		if err != nil {
			return payment.StatusResult{}, err
		}
		return statusResult(record.Status), nil
	})
	if err != nil {
		return payment.StatusResult{}, err
	}
	if shared {
		utils.Debug("backend", "Shared in-flight status check", "payment_id", paymentID)
	}
	return v.(payment.StatusResult), nil
}

func statusResult(status payment.Status) payment.StatusResult {
	return payment.StatusResult{Status: status, IsSuccessful: status == payment.StatusSucceeded}
}

// GetPayment fetches one payment record.
func (b *Backend) GetPayment(ctx context.Context, paymentID string) (PaymentRecord, error) {
	var record PaymentRecord
	req := b.http.R().
		SetContext(ctx).
		SetPathParam("payment_id", paymentID).
		SetResult(&record)
	if err := do(req, http.MethodGet, "/payments/{payment_id}/status"); err != nil {
		return PaymentRecord{}, err
	}
	return record, nil
}

// ListOrderPayments returns every attempt made for orderID.
func (b *Backend) ListOrderPayments(ctx context.Context, orderID string) ([]PaymentRecord, error) {
	var records []PaymentRecord
	req := b.http.R().
		SetContext(ctx).
		SetPathParam("order_id", orderID).
		SetResult(&records)
	if err := do(req, http.MethodGet, "/payments/order/{order_id}"); err != nil {
		return nil, err
	}
	return records, nil
}

// HandlePaymentReturn reconciles a redirect back from the provider with a
// single lookup. Without a payment id the latest attempt of the order is used.
func (b *Backend) HandlePaymentReturn(ctx context.Context, params payment.ReturnParams) (payment.Result, error) {
	if params.OrderID == "" {
		return payment.Result{}, payment.ErrMissingOrderID
	}

	if params.PaymentID != "" {
		res, err := b.CheckPaymentStatus(ctx, params.PaymentID)
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

	records, err := b.ListOrderPayments(ctx, params.OrderID)
	if err != nil && !IsNotFound(err) {
		return payment.Result{}, err
	}
	latest, ok := latestPayment(records)
	if !ok {
		return payment.Result{Status: payment.StatusNotFound, OrderID: params.OrderID}, nil
	}

	status := latest.Status
	if b.cache != nil {
		if state, ok := b.cache.Get(ctx, latest.ID); ok {
			status = state.Status
		}
	}
	return payment.Result{
		Status:       status,
		IsSuccessful: status == payment.StatusSucceeded,
		OrderID:      params.OrderID,
		PaymentID:    latest.ID,
	}, nil
}

func latestPayment(records []PaymentRecord) (PaymentRecord, bool) {
	if len(records) == 0 {
		return PaymentRecord{}, false
	}
	sorted := append([]PaymentRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	return sorted[0], true
}
