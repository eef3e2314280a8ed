package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"schoolpay/internal/domain"

	"go.uber.org/zap"
)

var ErrCycleRunning = errors.New("reconciliation cycle already running")

type ReconcilerConfig struct {
	Interval  time.Duration
	BatchSize int
}

// CycleReport summarizes one reconciliation cycle.
type CycleReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Skipped   bool          `json:"skipped"` // another instance holds the lease
	Scanned   int           `json:"scanned"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Pending   int           `json:"pending"`
	Escalated int           `json:"escalated"`
	Unchanged int           `json:"unchanged"`
	Errored   int           `json:"errored"`
}

func (r *CycleReport) count(o PollOutcome) {
	switch o {
	case PollSucceeded:
		r.Succeeded++
	case PollFailed:
		r.Failed++
	case PollPending:
		r.Pending++
	case PollEscalated:
		r.Escalated++
	default:
		r.Unchanged++
	}
}

// Reconciler periodically polls the gateway for every non-terminal attempt.
type Reconciler struct {
	payments *PaymentService
	lease    Lease
	cfg      ReconcilerConfig
	logger   *zap.Logger

	running sync.Mutex // held for the duration of one cycle

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewReconciler(payments *PaymentService, lease Lease, cfg ReconcilerConfig, logger *zap.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if lease == nil {
		lease = LocalLease{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{payments: payments, lease: lease, cfg: cfg, logger: logger.Named("reconciler")}
}

// Start runs a cycle every Interval until ctx is cancelled or Stop is called.
// Calling Start on a running reconciler is a no-op.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
	r.logger.Info("reconciler started", zap.Duration("interval", r.cfg.Interval))
}

func (r *Reconciler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Warn("reconciliation cycle", zap.Error(err))
			}
		}
	}
}

// Stop cancels the loop and waits for an in-flight cycle to return.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.logger.Info("reconciler stopped")
}

// RunCycle reconciles one batch of non-terminal attempts. A failure on one
// attempt is logged and counted; it never stops the batch.
func (r *Reconciler) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !r.running.TryLock() {
		return nil, ErrCycleRunning
	}
	defer r.running.Unlock()

	report := &CycleReport{StartedAt: r.payments.Now()}
	release, ok, err := r.lease.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		report.Skipped = true
		r.logger.Info("reconciliation skipped, lease held elsewhere")
		return report, nil
	}
	defer release()

	initiatedBefore := report.StartedAt.Add(-r.payments.cfg.InitiatedGrace)
	attempts, err := r.payments.store.Attempts.ListForReconciliation(ctx, initiatedBefore, r.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		a := &attempts[i]
		report.Scanned++
		outcome, err := r.payments.pollAttempt(ctx, a, domain.TriggerBackgroundJob)
		if err != nil {
			report.Errored++
			r.logger.Warn("reconcile attempt",
				zap.Uint("attempt_id", a.ID),
				zap.Uint("invoice_id", a.InvoiceID),
				zap.Uint("tenant_id", a.TenantID),
				zap.String("status", a.Status),
				zap.Error(err))
			continue
		}
		report.count(outcome)
	}
	report.Duration = r.payments.Now().Sub(report.StartedAt)
	r.logger.Info("reconciliation cycle done",
		zap.Int("scanned", report.Scanned),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("pending", report.Pending),
		zap.Int("escalated", report.Escalated),
		zap.Int("errored", report.Errored),
		zap.Duration("took", report.Duration))
	return report, nil
}
