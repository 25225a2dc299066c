package payment

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const waitFor = time.Second

// manualClock hands out tickers that all read from one unbuffered channel, so a
// successful send means the poller was waiting for exactly that tick.
type manualClock struct {
	ticks   chan time.Time
	created atomic.Int32
	stopped atomic.Int32
}

func newManualClock() *manualClock {
	return &manualClock{ticks: make(chan time.Time)}
}

type manualTicker struct {
	clock *manualClock
	once  sync.Once
}

func (t *manualTicker) C() <-chan time.Time { return t.clock.ticks }

func (t *manualTicker) Stop() {
	t.once.Do(func() { t.clock.stopped.Add(1) })
}

func (c *manualClock) NewTicker(time.Duration) Ticker {
	c.created.Add(1)
	return &manualTicker{clock: c}
}

// tick reports whether a poller accepted the tick.
func (c *manualClock) tick() bool {
	select {
	case c.ticks <- time.Now():
		return true
	case <-time.After(100 * time.Millisecond):
		return false
	}
}

func (c *manualClock) mustTick(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.True(t, c.tick(), "tick %d was not accepted", i+1)
	}
}

// scriptedChecker answers status checks from a per-call script.
type scriptedChecker struct {
	mu     sync.Mutex
	calls  int
	script func(call int) (StatusResult, error)
}

func (c *scriptedChecker) CheckPaymentStatus(_ context.Context, _ string) (StatusResult, error) {
	c.mu.Lock()
	c.calls++
	call := c.calls
	c.mu.Unlock()
	return c.script(call)
}

func (c *scriptedChecker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func pendingUntil(n int, final StatusResult) func(int) (StatusResult, error) {
	return func(call int) (StatusResult, error) {
		if call >= n {
			return final, nil
		}
		return StatusResult{Status: StatusPending}, nil
	}
}

func alwaysPending(int) (StatusResult, error) {
	return StatusResult{Status: StatusPending}, nil
}

// promptQueue is a Confirmer whose answers are given by the test.
type promptQueue struct {
	prompts chan Prompt
	answers chan bool
}

func newPromptQueue() *promptQueue {
	return &promptQueue{prompts: make(chan Prompt, 8), answers: make(chan bool)}
}

func (q *promptQueue) Confirm(ctx context.Context, p Prompt) (bool, error) {
	q.prompts <- p
	select {
	case answer := <-q.answers:
		return answer, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (q *promptQueue) next(t *testing.T) Prompt {
	t.Helper()
	select {
	case p := <-q.prompts:
		return p
	case <-time.After(waitFor):
		t.Fatal("no prompt was requested")
		return Prompt{}
	}
}

func (q *promptQueue) answer(t *testing.T, yes bool) {
	t.Helper()
	select {
	case q.answers <- yes:
	case <-time.After(waitFor):
		t.Fatal("nobody is waiting for an answer")
	}
}

// mockBackend is a testify mock of Backend.
type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) CheckPaymentStatus(ctx context.Context, paymentID string) (StatusResult, error) {
	args := m.Called(ctx, paymentID)
	return args.Get(0).(StatusResult), args.Error(1)
}

func (m *mockBackend) InitiatePayment(ctx context.Context, orderID string, provider Provider) (Attempt, error) {
	args := m.Called(ctx, orderID, provider)
	return args.Get(0).(Attempt), args.Error(1)
}

func (m *mockBackend) HandlePaymentReturn(ctx context.Context, params ReturnParams) (Result, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Result), args.Error(1)
}

// recorder collects bus signals of one topic.
type recorder struct {
	mu      sync.Mutex
	signals []Signal
}

func record(bus *Bus, topic Topic) *recorder {
	r := &recorder{}
	bus.Subscribe(topic, func(_ context.Context, s Signal) {
		r.mu.Lock()
		r.signals = append(r.signals, s)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) all() []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Signal(nil), r.signals...)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals)
}
