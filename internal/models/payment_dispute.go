package models

import "time"

type PaymentDispute struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	TenantID           uint       `gorm:"not null;index" json:"tenant_id"`
	StudentID          uint       `gorm:"not null;index" json:"student_id"`
	InvoiceID          uint       `gorm:"not null;index" json:"invoice_id"`
	PaymentAttemptID   *uint      `gorm:"index" json:"payment_attempt_id"`
	ClaimedAmountCents int64      `gorm:"not null" json:"claimed_amount_cents"`
	TransactionRef     string     `gorm:"size:128" json:"transaction_ref"`
	Note               string     `gorm:"type:text" json:"note"`
	Status             string     `gorm:"size:20;not null;index" json:"status"` // RAISED, UNDER_REVIEW, RESOLVED, REJECTED
	RaisedBy           string     `gorm:"size:30;not null" json:"raised_by"`
	ResolutionNote     string     `gorm:"type:text" json:"resolution_note"`
	ResolvedBy         *uint      `json:"resolved_by"`
	ResolvedAt         *time.Time `json:"resolved_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (PaymentDispute) TableName() string {
	return "payment_disputes"
}
