package checkout

import (
	"errors"
	"net/url"
	"strconv"

	"github.com/a-h/templ"

	"storefront/payment"
	"storefront/services"
	"storefront/templates"
)

var providerLabels = []struct {
	provider payment.Provider
	label    string
}{
	{payment.ProviderYooKassa, "Pay with YooKassa"},
	{payment.ProviderYooKassaWidget, "Pay by card"},
	{payment.ProviderStripe, "Pay with Stripe"},
}

var orderStatusLabels = map[string]string{
	services.OrderPending:    "Awaiting payment",
	services.OrderPaid:       "Paid",
	services.OrderProcessing: "Processing",
	services.OrderShipped:    "Shipped",
	services.OrderDelivered:  "Delivered",
	services.OrderCancelled:  "Cancelled",
}

func orderStatusLabel(status string) string {
	if label, ok := orderStatusLabels[status]; ok {
		return label
	}
	return status
}

// OrderListPath serves the customer's order list, the page every dead end leads back to.
const OrderListPath = "/orders"

// OrderList renders the customer's orders, each linking to its summary.
func OrderList(list services.OrderList) templ.Component {
	return component(func(h *html) {
		h.open("section", "id", "order-list", "class", "orders")
		h.element("h1", "My orders")
		if len(list.Items) == 0 {
			h.element("p", "You have no orders yet.", "class", "orders__empty")
			h.close("section")
			return
		}

		h.open("ul", "class", "orders__list")
		for _, order := range list.Items {
			orderPath := OrderListPath + "/" + url.PathEscape(order.ID)
			h.open("li", "class", "orders__item", "data-status", order.Status)
			h.element("a", "Order #"+order.ID,
				"href", orderPath,
				"hx-get", orderPath,
				"hx-target", "#order-list",
				"hx-swap", "outerHTML")
			h.element("span", orderStatusLabel(order.Status), "class", "orders__status")
			h.element("span", templates.FormatPrice(order.Total), "class", "orders__total")
			h.close("li")
		}
		h.close("ul")
		h.close("section")
	})
}

// OrderSummary renders an order with its payment and cancel actions.
// Stripe is offered only when stripeEnabled is set.
func OrderSummary(order services.Order, stripeEnabled bool) templ.Component {
	return component(func(h *html) {
		orderSummary(h, order, stripeEnabled)
	})
}

func orderSummary(h *html, order services.Order, stripeEnabled bool) {
	orderPath := "/orders/" + url.PathEscape(order.ID)

	h.open("section", "id", "order-"+order.ID, "class", "order", "data-status", order.Status)
	h.element("h2", "Order #"+order.ID)
	h.element("p", orderStatusLabel(order.Status), "class", "order__status")

	h.raw(`<table class="order__items"><tbody>`)
	for _, item := range order.Items {
		h.raw("<tr>")
		h.element("td", item.ProductName)
		h.element("td", "× "+strconv.Itoa(item.Quantity))
		h.element("td", templates.FormatPrice(item.Subtotal), "class", "order__amount")
		h.raw("</tr>")
	}
	h.raw("</tbody></table>")

	h.open("dl", "class", "order__totals")
	h.element("dt", "Subtotal")
	h.element("dd", templates.FormatPrice(order.Subtotal))
	h.element("dt", "Delivery")
	h.element("dd", templates.FormatPrice(order.DeliveryCost))
	h.element("dt", "Total")
	h.element("dd", templates.FormatPrice(order.Total), "class", "order__total")
	h.close("dl")

	if order.Payable() || order.Cancellable() {
		h.open("div", "class", "order__actions")
		if order.Payable() {
			for _, p := range providerLabels {
				if p.provider == payment.ProviderStripe && !stripeEnabled {
					continue
				}
				h.element("button", p.label,
					"type", "button",
					"class", "order__pay",
					"hx-post", orderPath+"/pay?provider="+string(p.provider),
					"hx-target", "#"+SurfaceID,
					"hx-swap", "outerHTML")
			}
		}
		if order.Cancellable() {
			h.element("button", "Cancel order",
				"type", "button",
				"class", "order__cancel",
				"hx-post", orderPath+"/cancel",
				"hx-confirm", "Cancel this order?",
				"hx-target", "#order-"+order.ID,
				"hx-swap", "outerHTML")
		}
		h.close("div")
	}
	h.close("section")
}

// PaymentResult renders the return page for one of the three result variants.
func PaymentResult(page templates.ResultPage) templ.Component {
	return component(func(h *html) {
		r := page.Result
		variant := r.Variant()

		h.open("section", "class", "payment-result payment-result--"+string(variant), "data-status", string(r.Status))
		switch variant {
		case payment.VariantSuccess:
			h.element("h1", "Payment successful")
			h.element("p", r.Message())
		case payment.VariantRetry:
			h.element("h1", "Payment not completed")
			h.element("p", r.Message())
			if r.OrderID != "" {
				retry := "/payments/return/" + url.PathEscape(r.OrderID) + "/retry"
				if page.Provider != "" {
					retry += "?provider=" + url.QueryEscape(string(page.Provider))
				}
				h.element("button", "Try again",
					"type", "button",
					"class", "payment-result__retry",
					"hx-post", retry,
					"hx-target", "#"+SurfaceID,
					"hx-swap", "outerHTML")
			}
		default:
			h.element("h1", "Something went wrong")
			if errors.Is(r.Err, payment.ErrMissingOrderID) {
				h.element("p", "The order could not be determined from the return link.")
			} else {
				h.element("p", "We could not check your payment right now. Please try again later.")
			}
		}

		if page.Order != nil {
			orderSummary(h, *page.Order, false)
		}
		h.open("div", "id", SurfaceID, "class", "payment-surface payment-surface--closed")
		h.close("div")

		h.element("a", "Back to my orders", "class", "payment-result__home", "href", OrderListPath)
		h.close("section")
	})
}
