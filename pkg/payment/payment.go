package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Gateway-reported statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
	StatusPending = "PENDING"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Webhook-Signature"

var (
	ErrUnknownStatus    = errors.New("unrecognized gateway status")
	ErrUnknownReference = errors.New("gateway reference not found")
	ErrNotRefundable    = errors.New("transaction is not refundable")
)

type Customer struct {
	StudentID uint
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

type InitiateRequest struct {
	AmountCents int64
	Currency    string
	Reference   string // our idempotency key; the gateway dedupes retried calls on it
	Description string
	Customer    Customer
}

type InitiateResult struct {
	GatewayRefID string
	PaymentURL   string
	Raw          json.RawMessage
}

type StatusResult struct {
	Status string // StatusSuccess, StatusFailed or StatusPending
	Raw    json.RawMessage
}

type RefundResult struct {
	Status      string
	RefundRefID string
	Raw         json.RawMessage
}

// Gateway is the boundary to the external payment processor. The rest of the
// system is written only against this interface.
type Gateway interface {
	Name() string
	InitiatePayment(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	CheckStatus(ctx context.Context, gatewayRefID string) (*StatusResult, error)
	Refund(ctx context.Context, gatewayRefID string, amountCents int64) (*RefundResult, error)
	VerifyWebhookSignature(headers http.Header, rawBody []byte) bool
}

// NormalizeStatus maps provider vocabularies onto SUCCESS / FAILED / PENDING.
func NormalizeStatus(s string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCESS", "COMPLETED", "PAID", "SUCCESSFUL":
		return StatusSuccess, nil
	case "FAILED", "CANCELLED", "CANCELED", "EXPIRED", "DECLINED", "REVERSED":
		return StatusFailed, nil
	case "PENDING", "PROCESSING", "INITIATED", "QUEUED":
		return StatusPending, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// SignPayload returns the hex HMAC-SHA256 of body under secret.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHMAC(secret string, headers http.Header, body []byte) bool {
	if secret == "" {
		return false
	}
	sig := headers.Get(SignatureHeader)
	if sig == "" {
		return false
	}
	expected := SignPayload(secret, body)
	return hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected))
}
