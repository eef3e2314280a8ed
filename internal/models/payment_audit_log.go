package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrAuditLogImmutable = errors.New("payment audit log rows are append-only")

// PaymentAuditLog records one status transition of a payment attempt.
// PreviousStatus is empty on the row written when the attempt is created.
type PaymentAuditLog struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	TenantID         uint      `gorm:"not null;index" json:"tenant_id"`
	PaymentAttemptID uint      `gorm:"not null;index" json:"payment_attempt_id"`
	PreviousStatus   string    `gorm:"size:20" json:"previous_status"`
	NewStatus        string    `gorm:"size:20;not null" json:"new_status"`
	TriggerSource    string    `gorm:"size:30;not null" json:"trigger_source"`
	ActorID          *uint     `json:"actor_id"`
	Note             string    `gorm:"type:text" json:"note"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}

func (PaymentAuditLog) TableName() string {
	return "payment_audit_logs"
}

func (PaymentAuditLog) BeforeUpdate(*gorm.DB) error { return ErrAuditLogImmutable }

func (PaymentAuditLog) BeforeDelete(*gorm.DB) error { return ErrAuditLogImmutable }
