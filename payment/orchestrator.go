package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"storefront/utils"
)

// OrchestratorConfig wires the payment subsystem.
type OrchestratorConfig struct {
	Backend     Backend
	Bus         *Bus
	Confirmer   Confirmer
	Interval    time.Duration
	MaxAttempts int
	NewTicker   TickerFactory
	// OnWidgetError is called after a hosted widget failed and was closed.
	OnWidgetError func(error)
}

// Orchestrator owns the shared state and both surface controllers and makes
// sure at most one of them is active.
type Orchestrator struct {
	backend    Backend
	bus        *Bus
	state      *WidgetState
	embedded   *EmbeddedSurface
	widget     *HostedWidget
	reconciler *Reconciler

	// initMu serialises initiations so two attempts never race for the surface.
	initMu sync.Mutex
	mu     sync.Mutex
	active Surface
}

// NewOrchestrator creates an idle orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Bus == nil {
		cfg.Bus = NewBus()
	}
	state := NewWidgetState(cfg.Bus)
	ctrl := ControllerConfig{
		State:       state,
		Bus:         cfg.Bus,
		Checker:     cfg.Backend,
		Confirmer:   cfg.Confirmer,
		Interval:    cfg.Interval,
		MaxAttempts: cfg.MaxAttempts,
		NewTicker:   cfg.NewTicker,
	}

	o := &Orchestrator{
		backend:  cfg.Backend,
		bus:      cfg.Bus,
		state:    state,
		embedded: NewEmbeddedSurface(ctrl),
		widget:   NewHostedWidget(ctrl, cfg.OnWidgetError),
	}
	o.reconciler = NewReconciler(cfg.Backend, o)
	return o
}

// InitiatePayment closes whatever surface is active, creates a new attempt on
// the backend and presents it on the matching controller.
func (o *Orchestrator) InitiatePayment(ctx context.Context, orderID string, provider Provider) (Attempt, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Attempt{}, ErrMissingOrderID
	}

	o.initMu.Lock()
	defer o.initMu.Unlock()

	o.closeActive()

	attempt, err := o.backend.InitiatePayment(ctx, orderID, provider)
	if err != nil {
		return Attempt{}, fmt.Errorf("initiate payment for order %s: %w", orderID, err)
	}
	if attempt.OrderID == "" {
		attempt.OrderID = orderID
	}
	if attempt.Provider == "" {
		attempt.Provider = provider
	}

	var surface Surface = o.embedded
	present := o.embedded.Present
	if attempt.Presentation.Hosted() {
		surface, present = o.widget, o.widget.Present
	}
	if err := present(attempt); err != nil {
		return Attempt{}, fmt.Errorf("present payment %s: %w", attempt.PaymentID, err)
	}

	o.mu.Lock()
	o.active = surface
	o.mu.Unlock()

	utils.Info("orchestrator", "Payment initiated", "order_id", orderID, "payment_id", attempt.PaymentID, "provider", attempt.Provider, "surface", surface.Kind())
	return attempt, nil
}

func (o *Orchestrator) closeActive() {
	o.mu.Lock()
	active := o.active
	o.active = nil
	o.mu.Unlock()

	if active != nil {
		utils.Debug("orchestrator", "Closing active surface before new attempt", "surface", active.Kind(), "payment_id", active.Attempt().PaymentID)
		active.Unmount()
	}
}

// Active returns the controller of the last presented attempt, or nil.
func (o *Orchestrator) Active() Surface {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

func (o *Orchestrator) Embedded() *EmbeddedSurface { return o.embedded }

func (o *Orchestrator) Widget() *HostedWidget { return o.widget }

func (o *Orchestrator) Reconciler() *Reconciler { return o.reconciler }

func (o *Orchestrator) State() *WidgetState { return o.state }

func (o *Orchestrator) Bus() *Bus { return o.bus }

// Close stops all polling and unmounts both controllers.
func (o *Orchestrator) Close() {
	o.initMu.Lock()
	defer o.initMu.Unlock()

	o.closeActive()
	o.embedded.Unmount()
	o.widget.Unmount()
}
