package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"schoolpay/internal/domain"
	"schoolpay/internal/models"
)

func TestDeriveStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-48 * time.Hour)
	future := now.Add(48 * time.Hour)

	tests := []struct {
		name    string
		current string
		paid    int64
		balance int64
		due     time.Time
		want    string
	}{
		{"fully paid", domain.InvoicePending, 5000, 0, future, domain.InvoicePaid},
		{"overpaid still paid", domain.InvoicePartial, 6000, -1000, past, domain.InvoicePaid},
		{"partial before due", domain.InvoicePending, 1000, 4000, future, domain.InvoicePartial},
		{"partial wins over overdue", domain.InvoiceOverdue, 1000, 4000, past, domain.InvoicePartial},
		{"overdue unpaid", domain.InvoicePending, 0, 5000, past, domain.InvoiceOverdue},
		{"pending unpaid", domain.InvoicePending, 0, 5000, future, domain.InvoicePending},
		{"no due date", domain.InvoicePending, 0, 5000, time.Time{}, domain.InvoicePending},
		{"cancelled is sticky", domain.InvoiceCancelled, 5000, 0, past, domain.InvoiceCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.current, tt.paid, tt.balance, tt.due, now))
		})
	}
}

func TestRecomputeIgnoresStoredBalance(t *testing.T) {
	now := time.Now()
	inv := &models.FeeInvoice{
		TotalCents:   5000,
		LateFeeCents: 500,
		PaidCents:    1000,
		BalanceCents: 999999, // stale
		Status:       domain.InvoicePaid,
		DueDate:      now.Add(time.Hour),
	}
	Recompute(inv, now)
	assert.Equal(t, int64(4500), inv.BalanceCents)
	assert.Equal(t, domain.InvoicePartial, inv.Status)
}

func TestApplyPaymentKeepsBalanceInvariant(t *testing.T) {
	now := time.Now()
	inv := &models.FeeInvoice{TotalCents: 5000, DueDate: now.Add(time.Hour), Status: domain.InvoicePending}
	Recompute(inv, now)

	for _, amt := range []int64{1000, 1500, 2500} {
		ApplyPayment(inv, amt, now)
		assert.Equal(t, inv.TotalCents+inv.LateFeeCents-inv.PaidCents, inv.BalanceCents)
	}
	assert.Equal(t, int64(5000), inv.PaidCents)
	assert.Equal(t, int64(0), inv.BalanceCents)
	assert.Equal(t, domain.InvoicePaid, inv.Status)
}
