package handlers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront/payment"
	"storefront/templates"
	"storefront/utils"
)

type decision struct {
	prompt  payment.Prompt
	seq     uint64
	answers chan bool
}

// DecisionBroker asks the customer yes/no questions through the browser.
// Each question is published on the bus with a fresh id and answered by
// Resolve; an unanswered question gives up after the timeout.
type DecisionBroker struct {
	bus     *payment.Bus
	timeout time.Duration

	mu      sync.Mutex
	seq     uint64
	pending map[string]*decision
}

// NewDecisionBroker creates a broker. A zero timeout waits until the caller's context ends.
func NewDecisionBroker(bus *payment.Bus, timeout time.Duration) *DecisionBroker {
	return &DecisionBroker{
		bus:     bus,
		timeout: timeout,
		pending: make(map[string]*decision),
	}
}

// Confirm implements payment.Confirmer.
func (b *DecisionBroker) Confirm(ctx context.Context, prompt payment.Prompt) (bool, error) {
	id := uuid.NewString()
	d := &decision{prompt: prompt, answers: make(chan bool, 1)}

	b.mu.Lock()
	b.seq++
	d.seq = b.seq
	b.pending[id] = d
	b.mu.Unlock()

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	utils.Debug("decisions", "Asking customer", "id", id, "kind", prompt.Kind, "payment_id", prompt.PaymentID)
	b.bus.Publish(ctx, payment.ConfirmRequested{ID: id, Prompt: prompt})

	select {
	case answer := <-d.answers:
		utils.Info("decisions", "Customer answered", "id", id, "kind", prompt.Kind, "answer", answer)
		b.bus.Publish(context.WithoutCancel(ctx), payment.ConfirmSettled{ID: id, Answer: answer})
		return answer, nil
	case <-ctx.Done():
		b.remove(id)
		utils.Debug("decisions", "Question withdrawn", "id", id, "kind", prompt.Kind, "reason", ctx.Err())
		b.bus.Publish(context.WithoutCancel(ctx), payment.ConfirmSettled{ID: id})
		return false, ctx.Err()
	}
}

// Resolve answers the question with id. It reports false when the question
// is unknown or was already answered or withdrawn.
func (b *DecisionBroker) Resolve(id string, answer bool) bool {
	b.mu.Lock()
	d, ok := b.pending[id]
	delete(b.pending, id)
	b.mu.Unlock()

	if !ok {
		return false
	}
	d.answers <- answer
	return true
}

// Pending lists the open questions, oldest first.
func (b *DecisionBroker) Pending() []templates.ConfirmView {
	b.mu.Lock()
	defer b.mu.Unlock()

	type entry struct {
		id string
		d  *decision
	}
	entries := make([]entry, 0, len(b.pending))
	for id, d := range b.pending {
		entries = append(entries, entry{id, d})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].d.seq < entries[j].d.seq })

	views := make([]templates.ConfirmView, len(entries))
	for i, e := range entries {
		views[i] = templates.ConfirmView{ID: e.id, Prompt: e.d.prompt}
	}
	return views
}

func (b *DecisionBroker) remove(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}
