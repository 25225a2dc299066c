package payment

import (
	"context"
	"sync"
	"time"

	"storefront/utils"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultMaxAttempts  = 20
)

// OutcomeKind is how a polling run ended.
type OutcomeKind int

const (
	OutcomeSucceeded OutcomeKind = iota + 1
	OutcomeFailed
	// OutcomeAbandoned means the customer stopped waiting; no definitive result is known.
	OutcomeAbandoned
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Outcome is delivered once per run that was not stopped.
type Outcome struct {
	Kind      OutcomeKind
	PaymentID string
	Status    Status
	Attempts  int
}

// PollerConfig configures a Poller. Zero Interval and MaxAttempts select the defaults.
type PollerConfig struct {
	Interval    time.Duration
	MaxAttempts int
	Checker     StatusChecker
	// Confirmer is asked whether to keep waiting once MaxAttempts ticks passed.
	// A nil Confirmer abandons the run at the bound.
	Confirmer Confirmer
	OnOutcome func(Outcome)
	NewTicker TickerFactory
}

type pollRun struct {
	paymentID string
	ctx       context.Context
	cancel    context.CancelFunc
	attempts  int
	awaiting  bool
}

// Poller checks the status of one payment periodically until a terminal
// status, the attempt bound or Stop.
type Poller struct {
	cfg PollerConfig

	mu  sync.Mutex
	run *pollRun
}

// NewPoller creates an idle poller.
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = NewTimeTicker
	}
	return &Poller{cfg: cfg}
}

// Start begins polling paymentID in the background. Starting while already
// polling the same payment is a no-op and returns false; polling a different
// payment stops the previous run first. The run does not inherit ctx's
// cancellation, only its values.
func (p *Poller) Start(ctx context.Context, paymentID string) (bool, error) {
	if paymentID == "" {
		return false, ErrEmptyPaymentID
	}

	p.mu.Lock()
	if p.run != nil {
		if p.run.paymentID == paymentID {
			p.mu.Unlock()
			return false, nil
		}
		utils.Info("poller", "Switching payment, stopping previous run", "previous_payment_id", p.run.paymentID, "payment_id", paymentID)
		p.stopLocked()
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &pollRun{paymentID: paymentID, ctx: runCtx, cancel: cancel}
	p.run = run
	p.mu.Unlock()

	utils.Info("poller", "Polling started", "payment_id", paymentID, "interval", p.cfg.Interval, "max_attempts", p.cfg.MaxAttempts)
	go p.loop(run)
	return true, nil
}

// Stop cancels the current run. It is safe to call at any time, any number of
// times, including from the outcome callback.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Poller) stopLocked() {
	if p.run == nil {
		return
	}
	utils.Debug("poller", "Polling stopped", "payment_id", p.run.paymentID, "attempts", p.run.attempts)
	p.run.cancel()
	p.run = nil
}

// Running reports whether a run is active, including while awaiting the continuation answer.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run != nil
}

// Awaiting reports whether the run is paused on the keep-waiting question.
func (p *Poller) Awaiting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run != nil && p.run.awaiting
}

// Attempts returns the tick counter of the current run.
func (p *Poller) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run == nil {
		return 0
	}
	return p.run.attempts
}

// PaymentID returns the payment being polled, or "".
func (p *Poller) PaymentID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run == nil {
		return ""
	}
	return p.run.paymentID
}

func (p *Poller) loop(run *pollRun) {
	for {
		if !p.tickUntilBound(run) {
			return
		}

		if !p.setAwaiting(run, true) {
			return
		}
		utils.Info("poller", "Attempt bound reached, asking to keep waiting", "payment_id", run.paymentID, "attempts", p.cfg.MaxAttempts)

		keepWaiting := false
		if p.cfg.Confirmer != nil {
			answer, err := p.cfg.Confirmer.Confirm(run.ctx, Prompt{
				Kind:      PromptKeepWaiting,
				PaymentID: run.paymentID,
				Message:   keepWaitingMessage,
			})
			if err != nil && run.ctx.Err() == nil {
				utils.Warn("poller", "Continuation request failed, abandoning", "payment_id", run.paymentID, "error", err)
			}
			keepWaiting = err == nil && answer
		}

		if keepWaiting {
			if !p.resetAttempts(run) {
				return
			}
			utils.Info("poller", "Customer keeps waiting, polling resumed", "payment_id", run.paymentID)
			continue
		}

		p.finish(run, Outcome{Kind: OutcomeAbandoned, PaymentID: run.paymentID, Attempts: p.cfg.MaxAttempts})
		return
	}
}

// tickUntilBound runs one schedule. It returns true when the attempt bound was
// reached and false when the run ended or was stopped.
func (p *Poller) tickUntilBound(run *pollRun) bool {
	ticker := p.cfg.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-run.ctx.Done():
			return false
		case <-ticker.C():
		}

		attempt, alive := p.nextAttempt(run)
		if !alive {
			return false
		}

		result, err := p.cfg.Checker.CheckPaymentStatus(run.ctx, run.paymentID)
		if !p.alive(run) {
			utils.Debug("poller", "Dropping status check result of stopped run", "payment_id", run.paymentID, "attempt", attempt)
			return false
		}

		switch {
		case err != nil:
			utils.Warn("poller", "Status check failed, will retry", "payment_id", run.paymentID, "attempt", attempt, "error", err)
		case result.IsSuccessful:
			p.finish(run, Outcome{Kind: OutcomeSucceeded, PaymentID: run.paymentID, Status: result.Status, Attempts: attempt})
			return false
		case result.Status.IsFailure():
			p.finish(run, Outcome{Kind: OutcomeFailed, PaymentID: run.paymentID, Status: result.Status, Attempts: attempt})
			return false
		default:
			utils.Debug("poller", "Payment not final yet", "payment_id", run.paymentID, "attempt", attempt, "status", result.Status)
		}

		if attempt >= p.cfg.MaxAttempts {
			return true
		}
	}
}

func (p *Poller) alive(run *pollRun) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run == run
}

func (p *Poller) nextAttempt(run *pollRun) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run != run {
		return 0, false
	}
	run.attempts++
	return run.attempts, true
}

func (p *Poller) setAwaiting(run *pollRun, awaiting bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run != run {
		return false
	}
	run.awaiting = awaiting
	return true
}

func (p *Poller) resetAttempts(run *pollRun) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run != run {
		return false
	}
	run.attempts = 0
	run.awaiting = false
	return true
}

// finish claims the run and delivers its outcome. A run stopped concurrently
// delivers nothing.
func (p *Poller) finish(run *pollRun, outcome Outcome) {
	p.mu.Lock()
	if p.run != run {
		p.mu.Unlock()
		return
	}
	p.run = nil
	run.cancel()
	p.mu.Unlock()

	utils.Info("poller", "Polling finished", "payment_id", outcome.PaymentID, "outcome", outcome.Kind, "status", outcome.Status, "attempts", outcome.Attempts)
	if p.cfg.OnOutcome != nil {
		p.cfg.OnOutcome(outcome)
	}
}
