package payment

import (
	"context"
	"sync"
	"time"

	"storefront/utils"
)

// SurfaceKind tells which controller owns the open payment surface.
type SurfaceKind string

const (
	SurfaceEmbedded SurfaceKind = "embedded"
	SurfaceWidget   SurfaceKind = "widget"
)

// Surface is the part of a controller the orchestrator relies on.
type Surface interface {
	Kind() SurfaceKind
	Attempt() Attempt
	IsOpen() bool
	Polling() bool
	// Unmount tears the surface down without asking the customer anything.
	Unmount()
}

// ControllerConfig carries the collaborators shared by both surface controllers.
type ControllerConfig struct {
	State       *WidgetState
	Bus         *Bus
	Checker     StatusChecker
	Confirmer   Confirmer
	Interval    time.Duration
	MaxAttempts int
	NewTicker   TickerFactory
}

// surface holds what both controllers track about their attempt. Fields of the
// embedding controller are guarded by the same mutex.
type surface struct {
	cfg    ControllerConfig
	kind   SurfaceKind
	poller *Poller

	mu      sync.Mutex
	attempt Attempt
	gen     uint64
	open    bool
	status  Status
	errMsg  string
}

func newSurface(kind SurfaceKind, cfg ControllerConfig) *surface {
	if cfg.State == nil {
		cfg.State = NewWidgetState(cfg.Bus)
	}
	s := &surface{cfg: cfg, kind: kind}
	s.poller = NewPoller(PollerConfig{
		Interval:    cfg.Interval,
		MaxAttempts: cfg.MaxAttempts,
		Checker:     cfg.Checker,
		Confirmer:   cfg.Confirmer,
		OnOutcome:   s.onOutcome,
		NewTicker:   cfg.NewTicker,
	})
	return s
}

func (s *surface) Kind() SurfaceKind { return s.kind }

func (s *surface) Attempt() Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

func (s *surface) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *surface) Polling() bool {
	return s.poller.Running()
}

// Poller exposes the engine for render logic.
func (s *surface) Poller() *Poller {
	return s.poller
}

// present opens the shared state for a and resets the controller. reset runs
// under the controller lock.
func (s *surface) present(a Attempt, token, returnURL string, reset func()) {
	s.poller.Stop()
	gen := s.cfg.State.Open(token, returnURL)

	s.mu.Lock()
	s.attempt = a
	s.gen = gen
	s.open = true
	s.status = a.Status
	s.errMsg = ""
	if reset != nil {
		reset()
	}
	s.mu.Unlock()

	utils.Info(string(s.kind), "Payment surface presented", "payment_id", a.PaymentID, "order_id", a.OrderID, "provider", a.Provider)
}

func (s *surface) startPolling(ctx context.Context) error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return ErrNoActiveSurface
	}
	paymentID := s.attempt.PaymentID
	s.mu.Unlock()

	_, err := s.poller.Start(ctx, paymentID)
	return err
}

// teardown closes the surface once. Later calls report false.
func (s *surface) teardown() bool {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return false
	}
	s.open = false
	gen := s.gen
	paymentID := s.attempt.PaymentID
	s.mu.Unlock()

	s.cfg.State.CloseGeneration(gen)
	utils.Info(string(s.kind), "Payment surface closed", "payment_id", paymentID)
	return true
}

func (s *surface) onOutcome(o Outcome) {
	s.mu.Lock()
	if !s.open || s.attempt.PaymentID != o.PaymentID {
		s.mu.Unlock()
		utils.Debug(string(s.kind), "Ignoring outcome for inactive attempt", "payment_id", o.PaymentID, "outcome", o.Kind)
		return
	}
	if o.Status != "" {
		s.status = o.Status
	}
	orderID := s.attempt.OrderID
	status := s.status
	s.mu.Unlock()

	switch o.Kind {
	case OutcomeSucceeded:
		s.teardown()
		s.publish(Completed{Success: true, OrderID: orderID, PaymentID: o.PaymentID, Status: status})
	case OutcomeFailed:
		// the customer must see the failure, so the surface stays open
		s.publish(Completed{Success: false, OrderID: orderID, PaymentID: o.PaymentID, Status: status})
	case OutcomeAbandoned:
		s.teardown()
	}
}

func (s *surface) publish(sig Signal) {
	if s.cfg.Bus == nil {
		return
	}
	s.cfg.Bus.Publish(context.Background(), sig)
}
