package payment

import "fmt"

// Status is a payment status exactly as the backend reports it.
// Values are case-sensitive and are never normalised on the way to the UI.
type Status string

const (
	StatusPending           Status = "pending"
	StatusWaitingForCapture Status = "waiting_for_capture"
	StatusSucceeded         Status = "succeeded"
	StatusCanceled          Status = "canceled"
	StatusRefunded          Status = "refunded"
	StatusFailed            Status = "failed"

	// StatusNotFound is client-only: the backend has no record at all.
	StatusNotFound Status = "not_found"
)

// PaymentStatusMessages provides the user-facing explanation for every known status
var PaymentStatusMessages = map[Status]string{
	StatusPending:           "The payment is being processed. The order will update as soon as the payment provider confirms it.",
	StatusWaitingForCapture: "The payment is authorised and waiting to be captured by the store.",
	StatusSucceeded:         "Payment completed successfully. Thank you for your order!",
	StatusCanceled:          "The payment was cancelled. You can try to pay for the order again.",
	StatusRefunded:          "The payment was refunded. The money will be returned to the original payment method.",
	StatusFailed:            "The payment failed. Please try again or choose another payment method.",
	StatusNotFound:          "No payment was found for this order. Start a new payment to continue.",
}

// Message returns the explanation for a status. Unknown values fall back to
// echoing the raw value so an unexpected provider status is still visible.
func Message(s Status) string {
	if message, exists := PaymentStatusMessages[s]; exists {
		return message
	}
	if s == "" {
		return "Payment status: unknown"
	}
	return fmt.Sprintf("Payment status: %s", string(s))
}

// IsTransient reports whether more polling can still change the outcome.
func (s Status) IsTransient() bool {
	return s == StatusPending || s == StatusWaitingForCapture
}

// IsFailure reports whether s ends the attempt without a payment.
// not_found and refunded count as failures for UX purposes.
func (s Status) IsFailure() bool {
	switch s {
	case StatusCanceled, StatusFailed, StatusNotFound, StatusRefunded:
		return true
	}
	return false
}

// IsTerminal reports whether polling past s is pointless.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s.IsFailure()
}

func (s Status) String() string {
	return string(s)
}
