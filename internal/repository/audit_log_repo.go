package repository

import (
	"context"

	"schoolpay/internal/models"

	"gorm.io/gorm"
)

// AuditLogRepository is append-only: there is no update or delete method, and
// the model's hooks reject both.
type AuditLogRepository struct {
	db *gorm.DB
}

func NewAuditLogRepository(db *gorm.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

func (r *AuditLogRepository) Append(ctx context.Context, entry *models.PaymentAuditLog) error {
	return wrapErr(r.db.WithContext(ctx).Create(entry).Error, "payment audit log")
}

// ListByAttempt returns the transition history of one attempt in write order.
func (r *AuditLogRepository) ListByAttempt(ctx context.Context, tenantID, attemptID uint) ([]models.PaymentAuditLog, error) {
	var list []models.PaymentAuditLog
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND payment_attempt_id = ?", tenantID, attemptID).
		Order("id ASC").Find(&list).Error
	if err != nil {
		return nil, wrapErr(err, "payment audit log")
	}
	return list, nil
}
