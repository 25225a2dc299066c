package services

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"storefront/utils"
)

// Order statuses as the storefront API reports them
const (
	OrderPending    = "pending"
	OrderPaid       = "paid"
	OrderProcessing = "processing"
	OrderShipped    = "shipped"
	OrderDelivered  = "delivered"
	OrderCancelled  = "cancelled"
)

type OrderItem struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	ImageURL    string          `json:"image_url,omitempty"`
}

type Order struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	Items          []OrderItem     `json:"items"`
	DeliveryMethod string          `json:"delivery_method"`
	DeliveryCost   decimal.Decimal `json:"delivery_cost"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Total          decimal.Decimal `json:"total"`
	PromoCode      string          `json:"promo_code,omitempty"`
	PaymentMethod  string          `json:"payment_method,omitempty"`
	PaymentStatus  string          `json:"payment_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Payable reports whether the customer may still start a payment for the order.
func (o Order) Payable() bool {
	return o.Status == OrderPending
}

// Cancellable mirrors the backend rule: only unpaid orders can be cancelled by the customer.
func (o Order) Cancellable() bool {
	return o.Status == OrderPending
}

// OrderList is one page of the customer's orders.
type OrderList struct {
	Items []Order `json:"items"`
	Total int     `json:"total"`
	Page  int     `json:"page"`
	Size  int     `json:"size"`
	Pages int     `json:"pages"`
}

// Orders is the order-domain collaborator used around the payment flow.
type Orders struct {
	http *resty.Client
}

func NewOrders(cfg BackendConfig) *Orders {
	return &Orders{http: newHTTPClient(cfg)}
}

// GetOrderDetails fetches one order of the current customer.
func (o *Orders) GetOrderDetails(ctx context.Context, orderID string) (Order, error) {
	var order Order
	req := o.http.R().
		SetContext(ctx).
		SetPathParam("order_id", orderID).
		SetResult(&order)
	if err := do(req, http.MethodGet, "/orders/my/{order_id}"); err != nil {
		return Order{}, err
	}
	return order, nil
}

// GetMyOrders lists the customer's orders, newest first as the backend sorts them.
func (o *Orders) GetMyOrders(ctx context.Context, skip, limit int) (OrderList, error) {
	if limit <= 0 {
		limit = 50
	}
	var list OrderList
	req := o.http.R().
		SetContext(ctx).
		SetQueryParam("skip", strconv.Itoa(skip)).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&list)
	if err := do(req, http.MethodGet, "/orders/my"); err != nil {
		return OrderList{}, err
	}
	return list, nil
}

// CancelOrder cancels an unpaid order and returns its new state.
func (o *Orders) CancelOrder(ctx context.Context, orderID string) (Order, error) {
	var order Order
	req := o.http.R().
		SetContext(ctx).
		SetPathParam("order_id", orderID).
		SetResult(&order)
	if err := do(req, http.MethodPatch, "/orders/my/{order_id}/cancel"); err != nil {
		return Order{}, err
	}
	utils.Info("orders", "Order cancelled", "order_id", orderID, "status", order.Status)
	return order, nil
}
