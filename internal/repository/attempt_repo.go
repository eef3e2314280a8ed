package repository

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"schoolpay/internal/domain"
	"schoolpay/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AttemptRepository struct {
	db *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// ErrIdempotencyKeyUsed is the cause of the state conflict Create returns
// when an attempt with the same idempotency key already exists.
var ErrIdempotencyKeyUsed = errors.New("idempotency key already used")

// IdempotencyConflict is the state conflict for a reused idempotency key.
func IdempotencyConflict() error {
	return &domain.Error{Kind: domain.ErrStateConflict, Message: "payment already requested", Cause: ErrIdempotencyKeyUsed}
}

// Create inserts a new attempt. A reused idempotency key and a second active
// attempt for the same invoice are both state conflicts; the former wraps
// ErrIdempotencyKeyUsed so callers can replay the stored attempt.
func (r *AttemptRepository) Create(ctx context.Context, a *models.PaymentAttempt) error {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.PaymentAttempt{}).
		Where("idempotency_key = ?", a.IdempotencyKey).Count(&n).Error; err != nil {
		return wrapErr(err, "payment attempt")
	}
	if n > 0 {
		return IdempotencyConflict()
	}
	err := r.db.WithContext(ctx).Create(a).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.StateConflict("another payment for invoice %d is already in progress", a.InvoiceID)
	}
	return wrapErr(err, "payment attempt")
}

func (r *AttemptRepository) GetByID(ctx context.Context, id uint) (*models.PaymentAttempt, error) {
	var a models.PaymentAttempt
	if err := r.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, wrapErr(err, "payment attempt")
	}
	return &a, nil
}

func (r *AttemptRepository) GetForTenant(ctx context.Context, tenantID, id uint) (*models.PaymentAttempt, error) {
	var a models.PaymentAttempt
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&a).Error
	if err != nil {
		return nil, wrapErr(err, "payment attempt")
	}
	return &a, nil
}

func (r *AttemptRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.PaymentAttempt, error) {
	var a models.PaymentAttempt
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&a).Error; err != nil {
		return nil, wrapErr(err, "payment attempt")
	}
	return &a, nil
}

func (r *AttemptRepository) GetByGatewayRef(ctx context.Context, ref string) (*models.PaymentAttempt, error) {
	var a models.PaymentAttempt
	if err := r.db.WithContext(ctx).Where("gateway_ref_id = ?", ref).First(&a).Error; err != nil {
		return nil, wrapErr(err, "payment attempt")
	}
	return &a, nil
}

// ActiveForInvoice returns the non-terminal attempt for an invoice, or nil.
func (r *AttemptRepository) ActiveForInvoice(ctx context.Context, invoiceID uint) (*models.PaymentAttempt, error) {
	var list []models.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("invoice_id = ? AND status IN ?", invoiceID, domain.NonTerminalAttemptStatuses).
		Limit(1).Find(&list).Error
	if err != nil {
		return nil, wrapErr(err, "payment attempt")
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// ListForReconciliation returns PROCESSING and PENDING attempts, plus
// INITIATED attempts created before initiatedBefore, oldest first.
func (r *AttemptRepository) ListForReconciliation(ctx context.Context, initiatedBefore time.Time, limit int) ([]models.PaymentAttempt, error) {
	var list []models.PaymentAttempt
	q := r.db.WithContext(ctx).
		Where("status IN ? OR (status = ? AND created_at < ?)",
			domain.PollableAttemptStatuses, domain.AttemptInitiated, initiatedBefore).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&list).Error; err != nil {
		return nil, wrapErr(err, "payment attempts")
	}
	return list, nil
}

// TransitionFields are optional column updates applied together with a
// status change.
type TransitionFields struct {
	GatewayRefID    string
	PaymentURL      string
	GatewayResponse datatypes.JSON
	LastError       string
}

// Transition moves a from its current (observed) status to `to`. The UPDATE is
// conditional on the row still having the observed status, so a concurrent
// writer that got there first makes this a state conflict instead of a lost
// update. On success a is updated in memory.
func (r *AttemptRepository) Transition(ctx context.Context, a *models.PaymentAttempt, to string, f TransitionFields, at time.Time) error {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": at,
	}
	if domain.IsTerminalAttempt(to) {
		updates["active_invoice_id"] = nil
		updates["finalized_at"] = at
	}
	if f.GatewayRefID != "" {
		updates["gateway_ref_id"] = f.GatewayRefID
	}
	if f.PaymentURL != "" {
		updates["payment_url"] = f.PaymentURL
	}
	if len(f.GatewayResponse) > 0 {
		updates["gateway_response"] = f.GatewayResponse
	}
	if f.LastError != "" {
		updates["last_error"] = truncate(f.LastError, 512)
	}
	res := r.db.WithContext(ctx).Model(&models.PaymentAttempt{}).
		Where("id = ? AND status = ?", a.ID, a.Status).
		Updates(updates)
	if res.Error != nil {
		return wrapErr(res.Error, "payment attempt")
	}
	if res.RowsAffected == 0 {
		return domain.StateConflict("payment attempt %d is no longer %s", a.ID, a.Status)
	}
	a.Status = to
	a.UpdatedAt = at
	if domain.IsTerminalAttempt(to) {
		a.ActiveInvoiceID = nil
		a.FinalizedAt = &at
	}
	if f.GatewayRefID != "" {
		a.GatewayRefID = f.GatewayRefID
	}
	if f.PaymentURL != "" {
		a.PaymentURL = f.PaymentURL
	}
	if len(f.GatewayResponse) > 0 {
		a.GatewayResponse = f.GatewayResponse
	}
	if f.LastError != "" {
		a.LastError = truncate(f.LastError, 512)
	}
	return nil
}

// RecordPoll bumps the poll counters of a still non-terminal attempt. It never
// touches status.
func (r *AttemptRepository) RecordPoll(ctx context.Context, id uint, at time.Time, lastErr string) error {
	err := r.db.WithContext(ctx).Model(&models.PaymentAttempt{}).
		Where("id = ? AND status IN ?", id, domain.NonTerminalAttemptStatuses).
		Updates(map[string]interface{}{
			"poll_count":     gorm.Expr("poll_count + 1"),
			"last_polled_at": at,
			"last_error":     truncate(lastErr, 512),
		}).Error
	return wrapErr(err, "payment attempt")
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
