package models

import "time"

type Receipt struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	TenantID         uint      `gorm:"not null;uniqueIndex:idx_receipt_tenant_number,priority:1" json:"tenant_id"`
	ReceiptNumber    string    `gorm:"size:32;not null;uniqueIndex:idx_receipt_tenant_number,priority:2" json:"receipt_number"`
	PaymentAttemptID uint      `gorm:"not null;uniqueIndex" json:"payment_attempt_id"`
	InvoiceID        uint      `gorm:"not null;index" json:"invoice_id"`
	StudentID        uint      `gorm:"not null;index" json:"student_id"`
	AmountCents      int64     `gorm:"not null" json:"amount_cents"`
	Currency         string    `gorm:"size:3;not null" json:"currency"`
	Year             int       `gorm:"not null" json:"year"`
	Sequence         int64     `gorm:"not null" json:"sequence"`
	IssuedAt         time.Time `json:"issued_at"`
}

func (Receipt) TableName() string {
	return "receipts"
}

// ReceiptSequence is the per-tenant, per-year receipt counter.
type ReceiptSequence struct {
	ID        uint      `gorm:"primaryKey"`
	TenantID  uint      `gorm:"not null;uniqueIndex:idx_receipt_seq_scope,priority:1"`
	Year      int       `gorm:"not null;uniqueIndex:idx_receipt_seq_scope,priority:2"`
	Counter   int64     `gorm:"not null"`
	UpdatedAt time.Time
}

func (ReceiptSequence) TableName() string {
	return "receipt_sequences"
}
