package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"schoolpay/internal/domain"
	"schoolpay/internal/models"

	"go.uber.org/zap"
)

// Notifier is told about attempt status changes after they commit. It must
// not block the caller.
type Notifier interface {
	PaymentUpdated(ctx context.Context, a *models.PaymentAttempt, rc *models.Receipt)
}

type nopNotifier struct{}

func (nopNotifier) PaymentUpdated(context.Context, *models.PaymentAttempt, *models.Receipt) {}

// Broadcaster delivers live events to a student's open websocket connections.
type Broadcaster interface {
	BroadcastToStudent(tenantID, studentID uint, payload interface{})
}

// PaymentEvent is the live status message sent to the student.
type PaymentEvent struct {
	Type          string `json:"type"`
	AttemptID     uint   `json:"payment_attempt_id"`
	InvoiceID     uint   `json:"invoice_id"`
	Status        string `json:"status"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	ReceiptNumber string `json:"receipt_number,omitempty"`
}

// NotificationService fans attempt updates out to websocket clients and to
// the student's FCM topic. Either sink may be nil.
type NotificationService struct {
	hub    Broadcaster
	fcm    *FCMService
	logger *zap.Logger
}

func NewNotificationService(hub Broadcaster, fcm *FCMService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{hub: hub, fcm: fcm, logger: logger.Named("notify")}
}

// StudentTopic is the FCM topic a student's app subscribes to.
func StudentTopic(tenantID, studentID uint) string {
	return "tenant-" + strconv.FormatUint(uint64(tenantID), 10) +
		"-student-" + strconv.FormatUint(uint64(studentID), 10)
}

func (s *NotificationService) PaymentUpdated(ctx context.Context, a *models.PaymentAttempt, rc *models.Receipt) {
	ev := PaymentEvent{
		Type:        "payment.status",
		AttemptID:   a.ID,
		InvoiceID:   a.InvoiceID,
		Status:      a.Status,
		AmountCents: a.AmountCents,
		Currency:    a.Currency,
	}
	if rc != nil {
		ev.ReceiptNumber = rc.ReceiptNumber
	}
	if s.hub != nil {
		s.hub.BroadcastToStudent(a.TenantID, a.StudentID, ev)
	}
	if s.fcm == nil || !domain.IsTerminalAttempt(a.Status) {
		return
	}
	title, body := pushText(a, rc)
	data := map[string]string{
		"type":               ev.Type,
		"payment_attempt_id": strconv.FormatUint(uint64(a.ID), 10),
		"invoice_id":         strconv.FormatUint(uint64(a.InvoiceID), 10),
		"status":             a.Status,
		"receipt_number":     ev.ReceiptNumber,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = s.fcm.SendToTopic(ctx, StudentTopic(a.TenantID, a.StudentID), title, body, data)
	}()
}

func pushText(a *models.PaymentAttempt, rc *models.Receipt) (string, string) {
	amount := fmt.Sprintf("%s %d.%02d", a.Currency, a.AmountCents/100, a.AmountCents%100)
	switch a.Status {
	case domain.AttemptSuccess:
		if rc != nil {
			return "Payment received", fmt.Sprintf("%s received. Receipt %s.", amount, rc.ReceiptNumber)
		}
		return "Payment received", amount + " received."
	case domain.AttemptFailed:
		return "Payment failed", fmt.Sprintf("Your payment of %s did not go through.", amount)
	}
	return "Payment under review", fmt.Sprintf("Your payment of %s is being reviewed by the bursar.", amount)
}
