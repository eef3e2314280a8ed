package repository

import (
	"context"
	"errors"

	"schoolpay/internal/domain"
	"schoolpay/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReceiptRepository struct {
	db *gorm.DB
}

func NewReceiptRepository(db *gorm.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

// ReserveNumber atomically increments and returns the receipt counter for
// tenant+year. The upsert creates the counter at 1 or bumps it. Call it inside
// the transaction that writes the receipt: the counter row stays locked until
// commit and a rollback undoes the reservation.
func (r *ReceiptRepository) ReserveNumber(ctx context.Context, tenantID uint, year int) (int64, error) {
	db := r.db.WithContext(ctx)
	seq := models.ReceiptSequence{TenantID: tenantID, Year: year, Counter: 1}
	err := db.Clauses(bumpCounter()).Create(&seq).Error
	if err != nil {
		return 0, wrapErr(err, "receipt sequence")
	}
	var cur models.ReceiptSequence
	if err := db.Where("tenant_id = ? AND year = ?", tenantID, year).First(&cur).Error; err != nil {
		return 0, wrapErr(err, "receipt sequence")
	}
	return cur.Counter, nil
}

// bumpCounter is the upsert clause of ReserveNumber. The counter is qualified
// with its table: postgres also exposes EXCLUDED.counter in DO UPDATE.
func bumpCounter() clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "year"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"counter":    gorm.Expr("receipt_sequences.counter + 1"),
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}
}

// Create inserts a receipt. A second receipt for the same attempt is a state
// conflict.
func (r *ReceiptRepository) Create(ctx context.Context, rc *models.Receipt) error {
	err := r.db.WithContext(ctx).Create(rc).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.StateConflict("receipt already issued for payment attempt %d", rc.PaymentAttemptID)
	}
	return wrapErr(err, "receipt")
}

func (r *ReceiptRepository) GetByAttempt(ctx context.Context, tenantID, attemptID uint) (*models.Receipt, error) {
	var rc models.Receipt
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND payment_attempt_id = ?", tenantID, attemptID).First(&rc).Error
	if err != nil {
		return nil, wrapErr(err, "receipt")
	}
	return &rc, nil
}

func (r *ReceiptRepository) CountByAttempt(ctx context.Context, attemptID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Receipt{}).Where("payment_attempt_id = ?", attemptID).Count(&n).Error
	return n, wrapErr(err, "receipt")
}
