package payment

import (
	"context"
	"fmt"
	"sync"

	"storefront/utils"
)

// Topic names a signal on the payment bus.
type Topic string

const (
	TopicWidgetError Topic = "payment-widget-error"
	TopicCompleted   Topic = "payment-completed"
	TopicWidgetState Topic = "payment-widget-state"
	TopicConfirm     Topic = "payment-confirm"
	TopicSettled     Topic = "payment-confirm-settled"
)

// Signal is a message published on the bus.
type Signal interface {
	Topic() Topic
}

// WidgetError is dispatched by the provider-facing side when the hosted widget fails.
// An empty PaymentID targets whichever widget is currently mounted.
type WidgetError struct {
	PaymentID string
	Err       error
}

func (WidgetError) Topic() Topic { return TopicWidgetError }

// Completed is emitted once per attempt when polling reaches a definitive result.
type Completed struct {
	Success   bool   `json:"success"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Status    Status `json:"status"`
}

func (Completed) Topic() Topic { return TopicCompleted }

// WidgetStateChanged carries the shared payment state after every transition.
type WidgetStateChanged struct {
	Snapshot WidgetSnapshot `json:"snapshot"`
}

func (WidgetStateChanged) Topic() Topic { return TopicWidgetState }

// ConfirmRequested asks the UI to render a yes/no prompt identified by ID.
type ConfirmRequested struct {
	ID     string `json:"id"`
	Prompt Prompt `json:"prompt"`
}

func (ConfirmRequested) Topic() Topic { return TopicConfirm }

// ConfirmSettled tells the UI to drop the prompt with ID, answered or not.
type ConfirmSettled struct {
	ID     string `json:"id"`
	Answer bool   `json:"answer"`
}

func (ConfirmSettled) Topic() Topic { return TopicSettled }

// Handler receives signals for one topic.
type Handler func(ctx context.Context, s Signal)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous signal bus scoped to the payment subsystem.
// Handlers run on the publisher's goroutine, in subscription order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]subscription
	nextID uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]subscription)}
}

// Subscribe registers h for topic. The returned func unregisters it and is safe to call more than once.
func (b *Bus) Subscribe(topic Topic, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, id) })
	}
}

func (b *Bus) remove(topic Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

// Publish delivers s to every current subscriber of its topic.
// A panicking handler is logged and does not stop delivery to the others.
func (b *Bus) Publish(ctx context.Context, s Signal) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[s.Topic()]...)
	b.mu.RUnlock()

	utils.Debug("bus", "Publishing signal", "topic", s.Topic(), "listeners", len(subs), "type", fmt.Sprintf("%T", s))

	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					utils.Error("bus", "Panic recovered in signal handler", "topic", s.Topic(), "panic", r)
				}
			}()
			sub.handler(ctx, s)
		}()
	}
}

// Listeners returns the number of handlers registered for topic.
func (b *Bus) Listeners(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
