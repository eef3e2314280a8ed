package repository

import (
	"context"
	"errors"

	"schoolpay/internal/domain"

	"gorm.io/gorm"
)

// Store bundles the payment repositories over one *gorm.DB. Inside
// Transaction every repository shares the same transaction handle.
type Store struct {
	db       *gorm.DB
	Attempts *AttemptRepository
	Invoices *InvoiceRepository
	Audit    *AuditLogRepository
	Receipts *ReceiptRepository
	Disputes *DisputeRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:       db,
		Attempts: NewAttemptRepository(db),
		Invoices: NewInvoiceRepository(db),
		Audit:    NewAuditLogRepository(db),
		Receipts: NewReceiptRepository(db),
		Disputes: NewDisputeRepository(db),
	}
}

// Transaction runs fn in one database transaction. Any error returned by fn
// rolls back every write made through tx.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(NewStore(gtx))
	})
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Persistence(err, "transaction failed")
}

func wrapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.NotFound("%s not found", what)
	}
	return domain.Persistence(err, "%s: database error", what)
}
