package repository

import (
	"context"

	"schoolpay/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// Create is used by seeding and tests; invoices are otherwise owned by billing.
func (r *InvoiceRepository) Create(ctx context.Context, inv *models.FeeInvoice) error {
	return wrapErr(r.db.WithContext(ctx).Create(inv).Error, "fee invoice")
}

func (r *InvoiceRepository) Get(ctx context.Context, tenantID, id uint) (*models.FeeInvoice, error) {
	var inv models.FeeInvoice
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&inv).Error
	if err != nil {
		return nil, wrapErr(err, "fee invoice")
	}
	return &inv, nil
}

// GetForUpdate reads the invoice with a row lock (SELECT ... FOR UPDATE) so
// concurrent initiations and settlements on one invoice serialize. Must be
// called inside Store.Transaction.
func (r *InvoiceRepository) GetForUpdate(ctx context.Context, tenantID, id uint) (*models.FeeInvoice, error) {
	var inv models.FeeInvoice
	err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id = ?", tenantID, id).First(&inv).Error
	if err != nil {
		return nil, wrapErr(err, "fee invoice")
	}
	return &inv, nil
}

// SaveLedger persists the ledger columns of an invoice already passed
// through ledger.Recompute.
func (r *InvoiceRepository) SaveLedger(ctx context.Context, inv *models.FeeInvoice) error {
	err := r.db.WithContext(ctx).Model(&models.FeeInvoice{}).
		Where("id = ?", inv.ID).
		Updates(map[string]interface{}{
			"paid_cents":    inv.PaidCents,
			"balance_cents": inv.BalanceCents,
			"status":        inv.Status,
		}).Error
	return wrapErr(err, "fee invoice")
}
