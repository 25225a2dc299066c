package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishReachesTopicSubscribersInOrder(t *testing.T) {
	bus := NewBus()
	var got []string

	bus.Subscribe(TopicCompleted, func(_ context.Context, s Signal) {
		got = append(got, "first:"+s.(Completed).OrderID)
	})
	bus.Subscribe(TopicCompleted, func(_ context.Context, s Signal) {
		got = append(got, "second:"+s.(Completed).OrderID)
	})
	bus.Subscribe(TopicWidgetError, func(context.Context, Signal) {
		t.Error("widget error handler must not receive completion signals")
	})

	bus.Publish(context.Background(), Completed{Success: true, OrderID: "42"})

	assert.Equal(t, []string{"first:42", "second:42"}, got)
}

func TestBus_UnsubscribeRemovesListener(t *testing.T) {
	bus := NewBus()
	calls := 0
	unsubscribe := bus.Subscribe(TopicWidgetError, func(context.Context, Signal) { calls++ })
	require.Equal(t, 1, bus.Listeners(TopicWidgetError))

	unsubscribe()
	unsubscribe()

	assert.Equal(t, 0, bus.Listeners(TopicWidgetError))
	bus.Publish(context.Background(), WidgetError{Err: errors.New("boom")})
	assert.Zero(t, calls)
}

func TestBus_UnsubscribeKeepsOtherListeners(t *testing.T) {
	bus := NewBus()
	var got []int
	first := bus.Subscribe(TopicCompleted, func(context.Context, Signal) { got = append(got, 1) })
	bus.Subscribe(TopicCompleted, func(context.Context, Signal) { got = append(got, 2) })

	first()
	bus.Publish(context.Background(), Completed{})

	assert.Equal(t, []int{2}, got)
	assert.Equal(t, 1, bus.Listeners(TopicCompleted))
}

func TestBus_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus()
	delivered := false
	bus.Subscribe(TopicCompleted, func(context.Context, Signal) { panic("handler bug") })
	bus.Subscribe(TopicCompleted, func(context.Context, Signal) { delivered = true })

	assert.NotPanics(t, func() { bus.Publish(context.Background(), Completed{}) })
	assert.True(t, delivered)
}

func TestBus_HandlerMayUnsubscribeDuringPublish(t *testing.T) {
	bus := NewBus()
	calls := 0
	var unsubscribe func()
	unsubscribe = bus.Subscribe(TopicCompleted, func(context.Context, Signal) {
		calls++
		unsubscribe()
	})

	bus.Publish(context.Background(), Completed{})
	bus.Publish(context.Background(), Completed{})

	assert.Equal(t, 1, calls)
}
