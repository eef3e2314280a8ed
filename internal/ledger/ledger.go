// Package ledger holds the invoice arithmetic. Every code path that writes
// paid_cents goes through Recompute before saving, so the stored balance and
// status are always derived, never trusted.
package ledger

import (
	"time"

	"schoolpay/internal/domain"
	"schoolpay/internal/models"
)

// Balance returns total + late fee - paid.
func Balance(totalCents, lateFeeCents, paidCents int64) int64 {
	return totalCents + lateFeeCents - paidCents
}

// DeriveStatus computes an invoice status from its amounts and due date.
// Cancelled is sticky: billing cancels invoices, payments never revive them.
func DeriveStatus(current string, paidCents, balanceCents int64, dueDate, now time.Time) string {
	if current == domain.InvoiceCancelled {
		return domain.InvoiceCancelled
	}
	switch {
	case balanceCents <= 0:
		return domain.InvoicePaid
	case paidCents > 0:
		return domain.InvoicePartial
	case !dueDate.IsZero() && dueDate.Before(now):
		return domain.InvoiceOverdue
	default:
		return domain.InvoicePending
	}
}

// Recompute rewrites BalanceCents and Status on inv from its other fields.
func Recompute(inv *models.FeeInvoice, now time.Time) {
	inv.BalanceCents = Balance(inv.TotalCents, inv.LateFeeCents, inv.PaidCents)
	inv.Status = DeriveStatus(inv.Status, inv.PaidCents, inv.BalanceCents, inv.DueDate, now)
}

// ApplyPayment credits amountCents to the invoice and recomputes it.
func ApplyPayment(inv *models.FeeInvoice, amountCents int64, now time.Time) {
	inv.PaidCents += amountCents
	Recompute(inv, now)
}
