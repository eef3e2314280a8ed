package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"schoolpay/internal/domain"
	"schoolpay/internal/models"
	"schoolpay/internal/repository"
	"schoolpay/pkg/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	student = Actor{UserID: 100, TenantID: 1, StudentID: 7, Role: domain.RoleStudent}
	other   = Actor{UserID: 101, TenantID: 1, StudentID: 8, Role: domain.RoleStudent}
	admin   = Actor{UserID: 1, TenantID: 1, Role: domain.RoleAdmin}
)

var dbSeq atomic.Int64

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) PaymentUpdated(_ context.Context, a *models.PaymentAttempt, rc *models.Receipt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ev := fmt.Sprintf("%d:%s", a.ID, a.Status)
	if rc != nil {
		ev += ":" + rc.ReceiptNumber
	}
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type fixture struct {
	t          *testing.T
	db         *gorm.DB
	store      *repository.Store
	gw         *payment.MockGateway
	notes      *recordingNotifier
	payments   *PaymentService
	disputes   *DisputeService
	reconciler *Reconciler

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(
		&models.FeeInvoice{}, &models.PaymentAttempt{}, &models.PaymentAuditLog{},
		&models.ReceiptSequence{}, &models.Receipt{}, &models.PaymentDispute{},
	))

	// unscripted sessions stay pending so tests decide every outcome
	gw := payment.NewMockGateway(payment.MockConfig{PendingWeight: 1, Seed: 1})
	f := &fixture{
		t:     t,
		db:    db,
		store: repository.NewStore(db),
		gw:    gw,
		notes: &recordingNotifier{},
		now:   time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	f.payments = NewPaymentService(f.store, f.gw, f.notes, PaymentConfig{
		EscalationAfter: 24 * time.Hour,
		InitiatedGrace:  10 * time.Minute,
		GatewayTimeout:  time.Second,
	}, zap.NewNop())
	f.payments.Now = f.clock
	f.disputes = NewDisputeService(f.store, f.notes, zap.NewNop())
	f.disputes.Now = f.clock
	f.reconciler = NewReconciler(f.payments, LocalLease{}, ReconcilerConfig{Interval: time.Hour, BatchSize: 50}, zap.NewNop())
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *fixture) invoice(totalCents int64) *models.FeeInvoice {
	f.t.Helper()
	inv := &models.FeeInvoice{
		TenantID:      student.TenantID,
		StudentID:     student.StudentID,
		InvoiceNumber: fmt.Sprintf("INV-%d", dbSeq.Add(1)),
		Currency:      "KES",
		TotalCents:    totalCents,
		BalanceCents:  totalCents,
		Status:        domain.InvoicePending,
		DueDate:       f.clock().Add(30 * 24 * time.Hour),
	}
	require.NoError(f.t, f.store.Invoices.Create(context.Background(), inv))
	return inv
}

func (f *fixture) reloadInvoice(id uint) *models.FeeInvoice {
	f.t.Helper()
	inv, err := f.store.Invoices.Get(context.Background(), student.TenantID, id)
	require.NoError(f.t, err)
	return inv
}

func (f *fixture) reloadAttempt(id uint) *models.PaymentAttempt {
	f.t.Helper()
	a, err := f.store.Attempts.GetByID(context.Background(), id)
	require.NoError(f.t, err)
	return a
}

// initiate opens a PROCESSING attempt for the invoice.
func (f *fixture) initiate(inv *models.FeeInvoice) *models.PaymentAttempt {
	f.t.Helper()
	a, err := f.payments.Initiate(context.Background(), student, InitiateInput{InvoiceID: inv.ID})
	require.NoError(f.t, err)
	require.Equal(f.t, domain.AttemptProcessing, a.Status)
	return a
}

func (f *fixture) receiptCount(attemptID uint) int64 {
	f.t.Helper()
	n, err := f.store.Receipts.CountByAttempt(context.Background(), attemptID)
	require.NoError(f.t, err)
	return n
}

func (f *fixture) trail(attemptID uint) []string {
	f.t.Helper()
	rows, err := f.store.Audit.ListByAttempt(context.Background(), student.TenantID, attemptID)
	require.NoError(f.t, err)
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.PreviousStatus+">"+r.NewStatus)
	}
	return out
}

// assertInvariants checks the ledger equation and the single-active-attempt
// rule for an invoice.
func (f *fixture) assertInvariants(invoiceID uint) {
	f.t.Helper()
	inv := f.reloadInvoice(invoiceID)
	assert.Equal(f.t, inv.TotalCents+inv.LateFeeCents-inv.PaidCents, inv.BalanceCents, "balance equation")
	var active int64
	require.NoError(f.t, f.db.Model(&models.PaymentAttempt{}).
		Where("invoice_id = ? AND status IN ?", invoiceID, domain.NonTerminalAttemptStatuses).
		Count(&active).Error)
	assert.LessOrEqual(f.t, active, int64(1), "non-terminal attempts")
}
