package payment

import "time"

// Ticker is a cancellable periodic schedule.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory starts a new schedule with period d.
type TickerFactory func(d time.Duration) Ticker

type timeTicker struct {
	t *time.Ticker
}

// NewTimeTicker is the default TickerFactory backed by time.Ticker.
func NewTimeTicker(d time.Duration) Ticker {
	return &timeTicker{t: time.NewTicker(d)}
}

func (t *timeTicker) C() <-chan time.Time { return t.t.C }
func (t *timeTicker) Stop()               { t.t.Stop() }
