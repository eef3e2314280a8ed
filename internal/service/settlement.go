package service

import (
	"context"
	"fmt"
	"time"

	"schoolpay/internal/domain"
	"schoolpay/internal/ledger"
	"schoolpay/internal/models"
	"schoolpay/internal/repository"
)

// transition describes one status change of a payment attempt.
type transition struct {
	To      string
	Source  string
	ActorID *uint
	Note    string
	Fields  repository.TransitionFields
}

// settle applies t to a inside tx: the conditional status update, its audit
// row and, when the attempt reaches SUCCESS, the invoice credit and the
// receipt. All of it commits or rolls back with tx. The receipt is nil unless
// one was issued.
func settle(ctx context.Context, tx *repository.Store, a *models.PaymentAttempt, t transition, now time.Time) (*models.Receipt, error) {
	if !domain.CanTransition(a.Status, t.To, t.Source) {
		return nil, domain.StateConflict("payment attempt %d cannot move from %s to %s", a.ID, a.Status, t.To)
	}
	var inv *models.FeeInvoice
	if t.To == domain.AttemptSuccess {
		// invoice first, same lock order as initiation
		var err error
		if inv, err = tx.Invoices.GetForUpdate(ctx, a.TenantID, a.InvoiceID); err != nil {
			return nil, err
		}
	}
	from := a.Status
	if err := tx.Attempts.Transition(ctx, a, t.To, t.Fields, now); err != nil {
		return nil, err
	}
	if err := appendAudit(ctx, tx, a, from, t, now); err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, nil
	}
	ledger.ApplyPayment(inv, a.AmountCents, now)
	if err := tx.Invoices.SaveLedger(ctx, inv); err != nil {
		return nil, err
	}
	return issueReceipt(ctx, tx, a, now)
}

func appendAudit(ctx context.Context, tx *repository.Store, a *models.PaymentAttempt, from string, t transition, now time.Time) error {
	return tx.Audit.Append(ctx, &models.PaymentAuditLog{
		TenantID:         a.TenantID,
		PaymentAttemptID: a.ID,
		PreviousStatus:   from,
		NewStatus:        t.To,
		TriggerSource:    t.Source,
		ActorID:          t.ActorID,
		Note:             t.Note,
		CreatedAt:        now,
	})
}

func issueReceipt(ctx context.Context, tx *repository.Store, a *models.PaymentAttempt, now time.Time) (*models.Receipt, error) {
	year := now.Year()
	seq, err := tx.Receipts.ReserveNumber(ctx, a.TenantID, year)
	if err != nil {
		return nil, err
	}
	rc := &models.Receipt{
		TenantID:         a.TenantID,
		ReceiptNumber:    ReceiptNumber(year, seq),
		PaymentAttemptID: a.ID,
		InvoiceID:        a.InvoiceID,
		StudentID:        a.StudentID,
		AmountCents:      a.AmountCents,
		Currency:         a.Currency,
		Year:             year,
		Sequence:         seq,
		IssuedAt:         now,
	}
	if err := tx.Receipts.Create(ctx, rc); err != nil {
		return nil, err
	}
	return rc, nil
}

// ReceiptNumber formats a reserved sequence as RCP-STU-<year>-<00042>.
func ReceiptNumber(year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%05d", domain.ReceiptPrefix, year, seq)
}
