package checkout

import (
	"net/url"
	"strconv"

	"github.com/a-h/templ"

	"storefront/payment"
	"storefront/templates"
)

// SurfaceID is the element the payment surface is swapped into.
const SurfaceID = "payment-surface"

// StatusID is the polling indicator inside the surface. It is swapped on its
// own so the payment frame never reloads.
const StatusID = "payment-status"

// PaymentSurface renders the active surface, or an empty placeholder when none is open.
func PaymentSurface(page templates.PaymentPage) templ.Component {
	return component(func(h *html) {
		if !page.Open() {
			h.open("div", "id", SurfaceID, "class", "payment-surface payment-surface--closed")
			h.close("div")
			return
		}
		switch page.Kind {
		case payment.SurfaceEmbedded:
			paymentFrame(h, page.Embedded, page.QRCode)
		case payment.SurfaceWidget:
			paymentWidget(h, page.Widget, page.StripePublicKey)
		}
	})
}

func surfaceHeader(h *html, orderID, closeURL string) {
	h.open("div", "class", "payment-surface__header")
	h.element("span", "Order #"+orderID, "class", "payment-surface__title")
	h.element("button", "×",
		"type", "button",
		"class", "payment-surface__close",
		"aria-label", "Close",
		"hx-post", closeURL,
		"hx-target", "#"+SurfaceID,
		"hx-swap", "outerHTML")
	h.close("div")
}

func paymentFrame(h *html, v payment.EmbeddedView, qrCode string) {
	h.open("div",
		"id", SurfaceID,
		"class", "payment-surface",
		"data-kind", string(payment.SurfaceEmbedded),
		"data-payment-id", v.PaymentID)
	surfaceHeader(h, v.OrderID, "/payments/frame/close")

	if v.Error != "" {
		h.open("div", "class", "payment-surface__error", "role", "alert")
		h.element("p", v.Error)
		h.element("button", "Reload",
			"type", "button",
			"hx-post", "/payments/frame/reload",
			"hx-target", "#"+SurfaceID,
			"hx-swap", "outerHTML")
		if qrCode != "" {
			h.raw(`<img class="payment-surface__qr" alt="Payment QR code"`)
			h.attr("src", "data:image/png;base64,"+qrCode)
			h.raw(">")
			h.element("p", "Scan the code to pay from your phone.", "class", "payment-surface__hint")
		}
		h.close("div")
	} else {
		if v.Loading {
			h.element("div", "Loading payment page…", "class", "payment-surface__loading", "aria-busy", "true")
		}
		// The frame id changes with every navigation so a new URL always remounts it.
		h.raw("<iframe")
		h.attr("id", "payment-frame-"+strconv.FormatUint(v.Navigation, 10))
		h.attr("class", "payment-surface__frame")
		h.attr("title", "Payment")
		h.url("src", v.URL)
		h.attr("onload", "htmx.trigger(this, 'frame-loaded')")
		h.attr("hx-post", "/payments/frame/load")
		h.attr("hx-trigger", "frame-loaded once")
		h.attr("hx-target", "#"+StatusID)
		h.attr("hx-swap", "outerHTML")
		h.raw("></iframe>")
	}

	paymentStatus(h, v.Status, v.Polling, v.Awaiting)
	h.close("div")
}

func paymentWidget(h *html, v payment.WidgetView, stripeKey string) {
	h.open("div",
		"id", SurfaceID,
		"class", "payment-surface",
		"data-kind", string(payment.SurfaceWidget),
		"data-payment-id", v.PaymentID)
	surfaceHeader(h, v.OrderID, "/payments/widget/close")

	if v.Error != "" {
		h.element("div", v.Error, "class", "payment-surface__error", "role", "alert")
	}
	if v.Loading {
		h.element("div", "Loading payment form…", "class", "payment-surface__loading", "aria-busy", "true")
	}

	attrs := []string{
		"id", v.MountID,
		"class", "payment-surface__widget",
		"data-provider", string(v.Provider),
		"data-payment-id", v.PaymentID,
		"data-confirmation-token", v.ConfirmationToken,
		"data-return-url", v.ReturnURL,
		"data-ready-url", "/payments/widget/ready",
		"data-error-url", "/payments/widget/error",
	}
	if stripeKey != "" {
		attrs = append(attrs, "data-stripe-key", stripeKey)
	}
	h.open("div", attrs...)
	h.close("div")

	paymentStatus(h, v.Status, v.Polling, v.Awaiting)
	h.close("div")
}

// PaymentStatus renders the polling indicator and the latest known status.
func PaymentStatus(status payment.Status, polling, awaiting bool) templ.Component {
	return component(func(h *html) {
		paymentStatus(h, status, polling, awaiting)
	})
}

func paymentStatus(h *html, status payment.Status, polling, awaiting bool) {
	class := "payment-status"
	if status.IsFailure() {
		class += " payment-status--failed"
	}
	h.open("div", "id", StatusID, "class", class, "aria-live", "polite")
	switch {
	case status.IsFailure():
		h.element("p", payment.Message(status))
	case awaiting:
		h.element("p", "Waiting for your answer…")
	case polling:
		h.element("p", "Checking payment status…", "class", "payment-status__spinner")
	}
	h.close("div")
}

// ConfirmPrompt renders a yes/no question; the answer is posted back by id.
func ConfirmPrompt(v templates.ConfirmView) templ.Component {
	return component(func(h *html) {
		h.open("div",
			"id", "confirm-"+v.ID,
			"class", "payment-confirm",
			"role", "alertdialog",
			"data-kind", string(v.Prompt.Kind))
		h.element("p", v.Prompt.Message)
		for _, answer := range []struct{ value, label string }{{"yes", "Yes"}, {"no", "No"}} {
			h.element("button", answer.label,
				"type", "button",
				"hx-post", "/payments/decisions/"+v.ID+"?answer="+answer.value,
				"hx-swap", "none")
		}
		h.close("div")
	})
}

// ConfirmSettled removes a prompt that was answered or withdrawn.
func ConfirmSettled(id string) templ.Component {
	return component(func(h *html) {
		h.open("div", "id", "confirm-"+id, "hx-swap-oob", "delete")
		h.close("div")
	})
}

// PaymentCompleted is the notice pushed when polling reaches a definitive result.
func PaymentCompleted(c payment.Completed) templ.Component {
	return component(func(h *html) {
		class := "payment-completed payment-completed--success"
		if !c.Success {
			class = "payment-completed payment-completed--failed"
		}
		h.open("div", "class", class, "data-order-id", c.OrderID, "data-payment-id", c.PaymentID)
		h.element("p", payment.Message(c.Status))
		if c.Success {
			h.raw(`<a class="payment-completed__link"`)
			h.url("href", "/payments/return/"+url.PathEscape(c.OrderID)+"?payment_id="+url.QueryEscape(c.PaymentID))
			h.raw(">")
			h.text("View order")
			h.close("a")
		}
		h.close("div")
	})
}
