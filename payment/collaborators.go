package payment

import "context"

// StatusChecker is the polling primitive. It must be cheap and safe to call repeatedly.
type StatusChecker interface {
	CheckPaymentStatus(ctx context.Context, paymentID string) (StatusResult, error)
}

// Initiator creates a new attempt server-side.
type Initiator interface {
	InitiatePayment(ctx context.Context, orderID string, provider Provider) (Attempt, error)
}

// Backend is the source of truth for payment status.
type Backend interface {
	StatusChecker
	Initiator
	HandlePaymentReturn(ctx context.Context, params ReturnParams) (Result, error)
}

// PromptKind tells the UI which yes/no question is being asked.
type PromptKind string

const (
	PromptKeepWaiting  PromptKind = "keep_waiting"
	PromptCloseUnknown PromptKind = "close_unknown"
)

// Prompt is a yes/no question for the customer.
type Prompt struct {
	Kind      PromptKind `json:"kind"`
	PaymentID string     `json:"payment_id"`
	Message   string     `json:"message"`
}

const (
	keepWaitingMessage  = "We have not received a final answer from the payment provider yet. Keep waiting?"
	closeUnknownMessage = "The payment status is not yet known. Close anyway?"
)

// Confirmer asks the customer a yes/no question and waits for the answer.
// Implementations must return when ctx is cancelled.
type Confirmer interface {
	Confirm(ctx context.Context, prompt Prompt) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt Prompt) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt Prompt) (bool, error) {
	return f(ctx, prompt)
}
