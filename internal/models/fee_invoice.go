package models

import "time"

// FeeInvoice is owned by the billing subsystem; payments only move PaidCents
// and the derived BalanceCents / Status.
type FeeInvoice struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	TenantID      uint      `gorm:"not null;index" json:"tenant_id"`
	StudentID     uint      `gorm:"not null;index" json:"student_id"`
	InvoiceNumber string    `gorm:"size:64;not null" json:"invoice_number"`
	Currency      string    `gorm:"size:3;not null;default:'KES'" json:"currency"`
	TotalCents    int64     `gorm:"not null" json:"total_cents"`
	PaidCents     int64     `gorm:"not null;default:0" json:"paid_cents"`
	LateFeeCents  int64     `gorm:"not null;default:0" json:"late_fee_cents"`
	BalanceCents  int64     `gorm:"not null" json:"balance_cents"`
	Status        string    `gorm:"size:20;not null;index" json:"status"` // Pending, Partial, Paid, Overdue, Cancelled
	DueDate       time.Time `json:"due_date"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (FeeInvoice) TableName() string {
	return "fee_invoices"
}
