package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"schoolpay/internal/domain"
	"schoolpay/internal/models"
	"schoolpay/pkg/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestReconcilerEscalatesAfter24HoursAndNotBefore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(5000)
	a := f.initiate(inv)

	f.advance(24*time.Hour - time.Minute)
	report, err := f.reconciler.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Escalated)
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, domain.AttemptPending, f.reloadAttempt(a.ID).Status)

	calls := f.gw.StatusCalls(a.GatewayRefID)
	f.advance(2 * time.Minute)
	report, err = f.reconciler.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Escalated)
	assert.Equal(t, calls, f.gw.StatusCalls(a.GatewayRefID), "escalation must not call the gateway")

	got := f.reloadAttempt(a.ID)
	assert.Equal(t, domain.AttemptDisputed, got.Status)
	assert.Nil(t, got.ActiveInvoiceID)
	rows, err := f.store.Audit.ListByAttempt(ctx, student.TenantID, a.ID)
	require.NoError(t, err)
	last := rows[len(rows)-1]
	assert.Equal(t, domain.TriggerBackgroundJob, last.TriggerSource)
	assert.Contains(t, last.Note, "auto-disputed after 24h")

	disputes, err := f.store.Disputes.ListByAttempt(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, disputes, 1)
	assert.Equal(t, domain.DisputeRaised, disputes[0].Status)
	assert.Equal(t, domain.TriggerBackgroundJob, disputes[0].RaisedBy)
	assert.Equal(t, int64(5000), disputes[0].ClaimedAmountCents)

	// escalated attempts are no longer scanned
	report, err = f.reconciler.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
	assert.Equal(t, int64(0), f.reloadInvoice(inv.ID).PaidCents)
}

func TestReconcilerDisputesStalePendingWithoutGatewayCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(3000)
	created := f.clock().Add(-25 * time.Hour)
	id := inv.ID
	a := &models.PaymentAttempt{
		TenantID: 1, IdempotencyKey: "inv-stale", StudentID: student.StudentID, InvoiceID: inv.ID,
		AmountCents: 3000, Currency: "KES", Status: domain.AttemptPending, ActiveInvoiceID: &id,
		GatewayRefID: "mock_never_seen", TriggerSource: domain.TriggerStudentPortal,
		CreatedAt: created, UpdatedAt: created,
	}
	require.NoError(t, f.store.Attempts.Create(ctx, a))

	report, err := f.reconciler.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Escalated)
	assert.Equal(t, 0, report.Errored)
	assert.Equal(t, 0, f.gw.StatusCalls("mock_never_seen"))
	assert.Equal(t, domain.AttemptDisputed, f.reloadAttempt(a.ID).Status)
}

func TestReconcilerEscalatesInterruptedInitiation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(3000)
	id := inv.ID
	a := &models.PaymentAttempt{
		TenantID: 1, IdempotencyKey: "inv-crashed", StudentID: student.StudentID, InvoiceID: inv.ID,
		AmountCents: 3000, Currency: "KES", Status: domain.AttemptInitiated, ActiveInvoiceID: &id,
		TriggerSource: domain.TriggerStudentPortal, CreatedAt: f.clock(), UpdatedAt: f.clock(),
	}
	require.NoError(t, f.store.Attempts.Create(ctx, a))

	report, err := f.reconciler.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned, "still inside the grace period")

	f.advance(11 * time.Minute)
	report, err = f.reconciler.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Escalated)
	assert.Equal(t, domain.AttemptDisputed, f.reloadAttempt(a.ID).Status)
	f.assertInvariants(inv.ID)
}

func TestReconcilerReceiptFailureRollsBackSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(5000)
	a := f.initiate(inv)
	f.gw.Script(a.GatewayRefID, payment.StatusSuccess)

	const hook = "test:fail_receipts"
	require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register(hook, func(tx *gorm.DB) {
		if tx.Statement.Table == "receipts" {
			tx.AddError(errors.New("disk full"))
		}
	}))

	report, err := f.reconciler.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errored)
	assert.Equal(t, 0, report.Succeeded)

	got := f.reloadAttempt(a.ID)
	assert.Equal(t, domain.AttemptProcessing, got.Status, "no success without a receipt")
	require.NotNil(t, got.ActiveInvoiceID)
	assert.Equal(t, int64(0), f.reloadInvoice(inv.ID).PaidCents)
	assert.Equal(t, int64(0), f.receiptCount(a.ID))
	assert.Equal(t, []string{">INITIATED", "INITIATED>PROCESSING"}, f.trail(a.ID))
	f.assertInvariants(inv.ID)

	require.NoError(t, f.db.Callback().Create().Remove(hook))
	report, err = f.reconciler.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	rc, err := f.payments.GetReceipt(ctx, student, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "RCP-STU-2026-00001", rc.ReceiptNumber, "rolled back reservation is reused")
	assert.Equal(t, int64(5000), f.reloadInvoice(inv.ID).PaidCents)
}

func TestReconcilerIsolatesPerAttemptErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	broken := f.invoice(1000)
	id := broken.ID
	bad := &models.PaymentAttempt{
		TenantID: 1, IdempotencyKey: "inv-broken", StudentID: student.StudentID, InvoiceID: broken.ID,
		AmountCents: 1000, Currency: "KES", Status: domain.AttemptProcessing, ActiveInvoiceID: &id,
		GatewayRefID: "mock_lost", TriggerSource: domain.TriggerStudentPortal,
		CreatedAt: f.clock(), UpdatedAt: f.clock(),
	}
	require.NoError(t, f.store.Attempts.Create(ctx, bad))

	good := f.initiate(f.invoice(2000))
	f.gw.Script(good.GatewayRefID, payment.StatusSuccess)

	report, err := f.reconciler.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Errored)
	assert.Equal(t, 1, report.Succeeded)

	got := f.reloadAttempt(bad.ID)
	assert.Equal(t, domain.AttemptProcessing, got.Status)
	assert.Equal(t, 1, got.PollCount)
	assert.Contains(t, got.LastError, payment.ErrUnknownReference.Error())
	assert.Equal(t, domain.AttemptSuccess, f.reloadAttempt(good.ID).Status)
}

type heldLease struct{}

func (heldLease) Acquire(context.Context) (func(), bool, error) { return nil, false, nil }

func TestRunCycleSkipsWhenLeaseHeldElsewhere(t *testing.T) {
	f := newFixture(t)
	a := f.initiate(f.invoice(1000))
	r := NewReconciler(f.payments, heldLease{}, ReconcilerConfig{}, zap.NewNop())

	report, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, 0, f.gw.StatusCalls(a.GatewayRefID))
}

func TestRunCycleRefusesOverlap(t *testing.T) {
	f := newFixture(t)
	f.reconciler.running.Lock()
	_, err := f.reconciler.RunCycle(context.Background())
	f.reconciler.running.Unlock()
	assert.ErrorIs(t, err, ErrCycleRunning)
}

func TestReconcilerStartStop(t *testing.T) {
	f := newFixture(t)
	a := f.initiate(f.invoice(1000))
	r := NewReconciler(f.payments, nil, ReconcilerConfig{Interval: 10 * time.Millisecond}, zap.NewNop())

	r.Start(context.Background())
	r.Start(context.Background())
	require.Eventually(t, func() bool {
		return f.gw.StatusCalls(a.GatewayRefID) > 0
	}, 2*time.Second, 5*time.Millisecond)
	r.Stop()
	calls := f.gw.StatusCalls(a.GatewayRefID)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, f.gw.StatusCalls(a.GatewayRefID), "no cycles after Stop")
	r.Stop()
}
