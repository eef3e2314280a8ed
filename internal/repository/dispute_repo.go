package repository

import (
	"context"
	"time"

	"schoolpay/internal/domain"
	"schoolpay/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DisputeRepository struct {
	db *gorm.DB
}

func NewDisputeRepository(db *gorm.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

func (r *DisputeRepository) Create(ctx context.Context, d *models.PaymentDispute) error {
	return wrapErr(r.db.WithContext(ctx).Create(d).Error, "payment dispute")
}

func (r *DisputeRepository) Get(ctx context.Context, tenantID, id uint) (*models.PaymentDispute, error) {
	var d models.PaymentDispute
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&d).Error
	if err != nil {
		return nil, wrapErr(err, "payment dispute")
	}
	return &d, nil
}

func (r *DisputeRepository) GetForUpdate(ctx context.Context, tenantID, id uint) (*models.PaymentDispute, error) {
	var d models.PaymentDispute
	err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id = ?", tenantID, id).First(&d).Error
	if err != nil {
		return nil, wrapErr(err, "payment dispute")
	}
	return &d, nil
}

// UpdateStatus moves d from its observed status to `to`, conditionally.
func (r *DisputeRepository) UpdateStatus(ctx context.Context, d *models.PaymentDispute, to string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.PaymentDispute{}).
		Where("id = ? AND status = ?", d.ID, d.Status).
		Updates(map[string]interface{}{"status": to, "updated_at": at})
	if res.Error != nil {
		return wrapErr(res.Error, "payment dispute")
	}
	if res.RowsAffected == 0 {
		return domain.StateConflict("payment dispute %d is no longer %s", d.ID, d.Status)
	}
	d.Status = to
	d.UpdatedAt = at
	return nil
}

// Finalize records the resolution of a dispute that is not yet final.
func (r *DisputeRepository) Finalize(ctx context.Context, d *models.PaymentDispute, to, note string, resolvedBy uint, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.PaymentDispute{}).
		Where("id = ? AND status IN ?", d.ID, []string{domain.DisputeRaised, domain.DisputeUnderReview}).
		Updates(map[string]interface{}{
			"status":          to,
			"resolution_note": note,
			"resolved_by":     resolvedBy,
			"resolved_at":     at,
			"updated_at":      at,
		})
	if res.Error != nil {
		return wrapErr(res.Error, "payment dispute")
	}
	if res.RowsAffected == 0 {
		return domain.StateConflict("payment dispute %d is already finalized", d.ID)
	}
	d.Status = to
	d.ResolutionNote = note
	d.ResolvedBy = &resolvedBy
	d.ResolvedAt = &at
	d.UpdatedAt = at
	return nil
}

func (r *DisputeRepository) ListByAttempt(ctx context.Context, attemptID uint) ([]models.PaymentDispute, error) {
	var list []models.PaymentDispute
	err := r.db.WithContext(ctx).Where("payment_attempt_id = ?", attemptID).Order("id ASC").Find(&list).Error
	if err != nil {
		return nil, wrapErr(err, "payment disputes")
	}
	return list, nil
}
