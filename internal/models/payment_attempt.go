package models

import (
	"time"

	"gorm.io/datatypes"
)

// PaymentAttempt is one try at paying a fee invoice through the gateway.
type PaymentAttempt struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	TenantID        uint           `gorm:"not null;index" json:"tenant_id"`
	IdempotencyKey  string         `gorm:"size:128;uniqueIndex;not null" json:"idempotency_key"`
	StudentID       uint           `gorm:"not null;index" json:"student_id"`
	InvoiceID       uint           `gorm:"not null;index" json:"invoice_id"`
	AmountCents     int64          `gorm:"not null" json:"amount_cents"` // balance snapshot at creation
	Currency        string         `gorm:"size:3;not null;default:'KES'" json:"currency"`
	Status          string         `gorm:"size:20;not null;index" json:"status"`
	ActiveInvoiceID *uint          `gorm:"uniqueIndex" json:"-"` // = InvoiceID while non-terminal, NULL after
	GatewayRefID    string         `gorm:"size:128;index" json:"gateway_ref_id"`
	PaymentURL      string         `gorm:"size:512" json:"payment_url"`
	GatewayResponse datatypes.JSON `json:"gateway_response,omitempty"`
	TriggerSource   string         `gorm:"size:30;not null" json:"trigger_source"`
	PollCount       int            `gorm:"not null;default:0" json:"poll_count"`
	LastPolledAt    *time.Time     `json:"last_polled_at"`
	LastError       string         `gorm:"size:512" json:"last_error,omitempty"`
	FinalizedAt     *time.Time     `json:"finalized_at"`
	CreatedAt       time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (PaymentAttempt) TableName() string {
	return "payment_attempts"
}
