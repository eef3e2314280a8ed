package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"schoolpay/internal/domain"
	"schoolpay/internal/ledger"
	"schoolpay/internal/models"
	"schoolpay/internal/repository"
	"schoolpay/pkg/payment"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type PaymentConfig struct {
	Currency        string
	GatewayTimeout  time.Duration
	EscalationAfter time.Duration // non-terminal attempts older than this are disputed
	InitiatedGrace  time.Duration // INITIATED attempts older than this were interrupted
}

func (c *PaymentConfig) setDefaults() {
	if c.Currency == "" {
		c.Currency = "KES"
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = 30 * time.Second
	}
	if c.EscalationAfter <= 0 {
		c.EscalationAfter = 24 * time.Hour
	}
	if c.InitiatedGrace <= 0 {
		c.InitiatedGrace = 10 * time.Minute
	}
}

// PaymentService creates payment attempts and drives them to a terminal
// status. The reconciler, the status endpoint and the webhook all go through
// pollAttempt so a single step is identical whichever path triggers it.
type PaymentService struct {
	store    *repository.Store
	gateway  payment.Gateway
	notifier Notifier
	cfg      PaymentConfig
	logger   *zap.Logger

	Now func() time.Time
}

func NewPaymentService(store *repository.Store, gateway payment.Gateway, notifier Notifier, cfg PaymentConfig, logger *zap.Logger) *PaymentService {
	cfg.setDefaults()
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{
		store:    store,
		gateway:  gateway,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.Named("payments"),
		Now:      time.Now,
	}
}

type InitiateInput struct {
	InvoiceID      uint
	IdempotencyKey string // optional client key; replays return the same attempt
	Customer       payment.Customer
}

// Initiate commits a new INITIATED attempt, then asks the gateway for a
// payment session outside of any transaction.
func (s *PaymentService) Initiate(ctx context.Context, actor Actor, in InitiateInput) (*models.PaymentAttempt, error) {
	if in.InvoiceID == 0 {
		return nil, domain.Validation("invoice_id is required")
	}
	if !actor.IsAdmin() && actor.StudentID == 0 {
		return nil, domain.Validation("only students can pay invoices")
	}
	clientKey := strings.TrimSpace(in.IdempotencyKey)
	if len(clientKey) > 64 {
		return nil, domain.Validation("idempotency key must be at most 64 characters")
	}
	now := s.Now()
	key := idempotencyKey(in.InvoiceID, clientKey, now)
	if clientKey != "" {
		if existing, err := s.replay(ctx, actor, key); existing != nil || err != nil {
			return existing, err
		}
	}

	source := actor.triggerSource()
	var a *models.PaymentAttempt
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		inv, err := tx.Invoices.GetForUpdate(ctx, actor.TenantID, in.InvoiceID)
		if err != nil {
			return err
		}
		if !actor.owns(inv.StudentID) {
			return domain.NotFound("fee invoice not found")
		}
		if clientKey != "" {
			// the invoice lock serializes requests carrying the same key
			_, err := tx.Attempts.GetByIdempotencyKey(ctx, key)
			switch {
			case err == nil:
				return repository.IdempotencyConflict()
			case !errors.Is(err, domain.ErrNotFound):
				return err
			}
		}
		ledger.Recompute(inv, now)
		switch inv.Status {
		case domain.InvoicePaid:
			return domain.StateConflict("invoice %s is already paid", inv.InvoiceNumber)
		case domain.InvoiceCancelled:
			return domain.StateConflict("invoice %s is cancelled", inv.InvoiceNumber)
		}
		active, err := tx.Attempts.ActiveForInvoice(ctx, inv.ID)
		if err != nil {
			return err
		}
		if active != nil {
			return domain.StateConflict("payment attempt %d for invoice %s is still %s", active.ID, inv.InvoiceNumber, active.Status)
		}
		currency := inv.Currency
		if currency == "" {
			currency = s.cfg.Currency
		}
		invoiceID := inv.ID
		a = &models.PaymentAttempt{
			TenantID:        actor.TenantID,
			IdempotencyKey:  key,
			StudentID:       inv.StudentID,
			InvoiceID:       inv.ID,
			AmountCents:     inv.BalanceCents,
			Currency:        currency,
			Status:          domain.AttemptInitiated,
			ActiveInvoiceID: &invoiceID,
			TriggerSource:   source,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.Attempts.Create(ctx, a); err != nil {
			return err
		}
		return appendAudit(ctx, tx, a, "", transition{
			To:      domain.AttemptInitiated,
			Source:  source,
			ActorID: actor.actorID(),
			Note:    "payment attempt created",
		}, now)
	})
	if errors.Is(err, repository.ErrIdempotencyKeyUsed) {
		// a request with the same key committed while this one waited for the invoice lock
		if existing, rerr := s.replay(ctx, actor, key); existing != nil || rerr != nil {
			return existing, rerr
		}
	}
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.Uint("attempt_id", a.ID), zap.Uint("invoice_id", a.InvoiceID), zap.Uint("tenant_id", a.TenantID))

	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	res, gwErr := s.gateway.InitiatePayment(gctx, payment.InitiateRequest{
		AmountCents: a.AmountCents,
		Currency:    a.Currency,
		Reference:   a.IdempotencyKey,
		Description: fmt.Sprintf("School fees invoice %d", a.InvoiceID),
		Customer:    in.Customer,
	})
	cancel()

	// The attempt is committed; finish its bookkeeping even if the caller went away.
	wctx := context.WithoutCancel(ctx)
	t := transition{To: domain.AttemptProcessing, Source: source, ActorID: actor.actorID(), Note: "gateway session opened"}
	if gwErr != nil {
		t = transition{
			To:      domain.AttemptFailed,
			Source:  source,
			ActorID: actor.actorID(),
			Note:    "gateway initiation failed",
			Fields:  repository.TransitionFields{LastError: gwErr.Error()},
		}
	} else {
		t.Fields = repository.TransitionFields{
			GatewayRefID:    res.GatewayRefID,
			PaymentURL:      res.PaymentURL,
			GatewayResponse: datatypes.JSON(res.Raw),
		}
	}
	err = s.store.Transaction(wctx, func(tx *repository.Store) error {
		_, err := settle(wctx, tx, a, t, s.Now())
		return err
	})
	if err != nil {
		// left INITIATED; the reconciler escalates it after the grace period
		log.Error("record gateway initiation outcome", zap.Error(err), zap.NamedError("gateway_error", gwErr))
		return nil, err
	}
	s.notifier.PaymentUpdated(wctx, a, nil)
	if gwErr != nil {
		log.Warn("gateway initiation failed", zap.Error(gwErr))
		return a, domain.Gateway(gwErr, "payment gateway unavailable")
	}
	log.Info("payment initiated", zap.String("gateway_ref", a.GatewayRefID))
	return a, nil
}

// idempotencyKey scopes a client key to its invoice. Without a client key
// every call gets a fresh key.
func idempotencyKey(invoiceID uint, clientKey string, now time.Time) string {
	if clientKey != "" {
		return fmt.Sprintf("inv-%d-%s", invoiceID, clientKey)
	}
	return fmt.Sprintf("inv-%d-%d-%s", invoiceID, now.UnixNano(), uuid.NewString())
}

// replay returns the attempt already created under key, or nil when there is none.
func (s *PaymentService) replay(ctx context.Context, actor Actor, key string) (*models.PaymentAttempt, error) {
	existing, err := s.store.Attempts.GetByIdempotencyKey(ctx, key)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	case existing.TenantID != actor.TenantID || !actor.owns(existing.StudentID):
		return nil, domain.NotFound("fee invoice not found")
	}
	return existing, nil
}

// CheckStatus returns the attempt, polling the gateway once first when it is
// not yet terminal. Terminal attempts are returned as stored.
func (s *PaymentService) CheckStatus(ctx context.Context, actor Actor, attemptID uint) (*models.PaymentAttempt, error) {
	a, err := s.attemptFor(ctx, actor, attemptID)
	if err != nil {
		return nil, err
	}
	if domain.IsTerminalAttempt(a.Status) {
		return a, nil
	}
	if _, err := s.pollAttempt(ctx, a, actor.triggerSource()); err != nil {
		switch {
		case errors.Is(err, domain.ErrGateway):
			// the stored state is still valid; last_error carries the failure
		case errors.Is(err, domain.ErrStateConflict):
			// a concurrent poll moved it first
		default:
			return nil, err
		}
		return s.store.Attempts.GetByID(ctx, a.ID)
	}
	return a, nil
}

func (s *PaymentService) attemptFor(ctx context.Context, actor Actor, attemptID uint) (*models.PaymentAttempt, error) {
	a, err := s.store.Attempts.GetForTenant(ctx, actor.TenantID, attemptID)
	if err != nil {
		return nil, err
	}
	if !actor.owns(a.StudentID) {
		return nil, domain.NotFound("payment attempt not found")
	}
	return a, nil
}

// PollOutcome is what one reconciliation step did to an attempt.
type PollOutcome string

const (
	PollUnchanged PollOutcome = "unchanged"
	PollSucceeded PollOutcome = "succeeded"
	PollFailed    PollOutcome = "failed"
	PollPending   PollOutcome = "pending"
	PollEscalated PollOutcome = "escalated"
)

// pollAttempt runs one reconciliation step for a non-terminal attempt:
// escalate if it is too old, otherwise ask the gateway and apply the answer.
func (s *PaymentService) pollAttempt(ctx context.Context, a *models.PaymentAttempt, source string) (PollOutcome, error) {
	now := s.Now()
	if domain.IsTerminalAttempt(a.Status) {
		return PollUnchanged, nil
	}
	age := now.Sub(a.CreatedAt)
	if age > s.cfg.EscalationAfter {
		return PollEscalated, s.escalate(ctx, a, source, fmt.Sprintf("auto-disputed after %.0fh without a gateway resolution", s.cfg.EscalationAfter.Hours()))
	}
	if a.Status == domain.AttemptInitiated {
		if age > s.cfg.InitiatedGrace {
			return PollEscalated, s.escalate(ctx, a, source, "initiation interrupted before the gateway outcome was recorded")
		}
		return PollUnchanged, nil
	}

	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	res, err := s.gateway.CheckStatus(gctx, a.GatewayRefID)
	cancel()
	if err == nil {
		switch res.Status {
		case payment.StatusSuccess, payment.StatusFailed, payment.StatusPending:
		default:
			err = fmt.Errorf("%w: %q", payment.ErrUnknownStatus, res.Status)
		}
	}
	if err != nil {
		if perr := s.store.Attempts.RecordPoll(ctx, a.ID, now, err.Error()); perr != nil {
			s.logger.Warn("record poll", zap.Uint("attempt_id", a.ID), zap.Error(perr))
		}
		return PollUnchanged, domain.Gateway(err, "status check for payment attempt %d failed", a.ID)
	}
	if err := s.store.Attempts.RecordPoll(ctx, a.ID, now, ""); err != nil {
		return PollUnchanged, err
	}
	a.PollCount++
	a.LastPolledAt = &now
	a.LastError = ""

	var t transition
	var outcome PollOutcome
	fields := repository.TransitionFields{GatewayResponse: datatypes.JSON(res.Raw)}
	switch {
	case res.Status == payment.StatusSuccess:
		t, outcome = transition{To: domain.AttemptSuccess, Source: source, Note: "gateway confirmed payment", Fields: fields}, PollSucceeded
	case res.Status == payment.StatusFailed:
		t, outcome = transition{To: domain.AttemptFailed, Source: source, Note: "gateway reported failure", Fields: fields}, PollFailed
	case a.Status == domain.AttemptProcessing:
		t, outcome = transition{To: domain.AttemptPending, Source: source, Note: "gateway reports payment pending", Fields: fields}, PollPending
	default:
		return PollPending, nil
	}
	var rc *models.Receipt
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		var err error
		rc, err = settle(ctx, tx, a, t, now)
		return err
	})
	if err != nil {
		return PollUnchanged, err
	}
	s.notifier.PaymentUpdated(ctx, a, rc)
	return outcome, nil
}

// escalate disputes a stuck attempt and opens a dispute record for staff to
// review. The gateway is not contacted.
func (s *PaymentService) escalate(ctx context.Context, a *models.PaymentAttempt, source, note string) error {
	now := s.Now()
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		if _, err := settle(ctx, tx, a, transition{To: domain.AttemptDisputed, Source: source, Note: note}, now); err != nil {
			return err
		}
		attemptID := a.ID
		return tx.Disputes.Create(ctx, &models.PaymentDispute{
			TenantID:           a.TenantID,
			StudentID:          a.StudentID,
			InvoiceID:          a.InvoiceID,
			PaymentAttemptID:   &attemptID,
			ClaimedAmountCents: a.AmountCents,
			TransactionRef:     a.GatewayRefID,
			Note:               note,
			Status:             domain.DisputeRaised,
			RaisedBy:           source,
			CreatedAt:          now,
			UpdatedAt:          now,
		})
	})
	if err != nil {
		return err
	}
	s.logger.Warn("payment attempt escalated", zap.Uint("attempt_id", a.ID), zap.Uint("invoice_id", a.InvoiceID), zap.String("note", note))
	s.notifier.PaymentUpdated(ctx, a, nil)
	return nil
}

// HandleWebhook treats a verified gateway callback as a hint and re-polls the
// referenced attempt. Unknown references are ignored.
func (s *PaymentService) HandleWebhook(ctx context.Context, gatewayRefID string) (*models.PaymentAttempt, error) {
	if gatewayRefID == "" {
		return nil, domain.Validation("gateway reference is required")
	}
	a, err := s.store.Attempts.GetByGatewayRef(ctx, gatewayRefID)
	if err != nil {
		return nil, err
	}
	if domain.IsTerminalAttempt(a.Status) {
		return a, nil
	}
	if _, err := s.pollAttempt(ctx, a, domain.TriggerGatewayWebhook); err != nil {
		return nil, err
	}
	return a, nil
}

// VerifyWebhook checks a callback signature with the wired gateway.
func (s *PaymentService) VerifyWebhook(headers http.Header, body []byte) bool {
	return s.gateway.VerifyWebhookSignature(headers, body)
}

func (s *PaymentService) GetReceipt(ctx context.Context, actor Actor, attemptID uint) (*models.Receipt, error) {
	a, err := s.attemptFor(ctx, actor, attemptID)
	if err != nil {
		return nil, err
	}
	return s.store.Receipts.GetByAttempt(ctx, a.TenantID, a.ID)
}

// AuditTrail returns every transition of an attempt in the order written.
func (s *PaymentService) AuditTrail(ctx context.Context, actor Actor, attemptID uint) ([]models.PaymentAuditLog, error) {
	a, err := s.attemptFor(ctx, actor, attemptID)
	if err != nil {
		return nil, err
	}
	return s.store.Audit.ListByAttempt(ctx, a.TenantID, a.ID)
}

type RefundInput struct {
	AmountCents int64 // zero refunds the full attempt amount
	Note        string
}

// Refund returns money for a SUCCESS attempt through the gateway. Status and
// ledger are left alone; the request is recorded as an audit note.
func (s *PaymentService) Refund(ctx context.Context, actor Actor, attemptID uint, in RefundInput) (*payment.RefundResult, error) {
	a, err := s.attemptFor(ctx, actor, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Status != domain.AttemptSuccess {
		return nil, domain.StateConflict("only successful payments can be refunded, attempt %d is %s", a.ID, a.Status)
	}
	amount := in.AmountCents
	if amount == 0 {
		amount = a.AmountCents
	}
	if amount < 0 || amount > a.AmountCents {
		return nil, domain.Validation("refund amount must be between 1 and %d", a.AmountCents)
	}
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	res, err := s.gateway.Refund(gctx, a.GatewayRefID, amount)
	cancel()
	if err != nil {
		return nil, domain.Gateway(err, "refund of payment attempt %d failed", a.ID)
	}
	note := fmt.Sprintf("refund requested: %d cents, gateway ref %s, status %s", amount, res.RefundRefID, res.Status)
	if in.Note != "" {
		note += ": " + in.Note
	}
	err = s.store.Audit.Append(context.WithoutCancel(ctx), &models.PaymentAuditLog{
		TenantID:         a.TenantID,
		PaymentAttemptID: a.ID,
		PreviousStatus:   a.Status,
		NewStatus:        a.Status,
		TriggerSource:    domain.TriggerAdminManual,
		ActorID:          actor.actorID(),
		Note:             note,
		CreatedAt:        s.Now(),
	})
	if err != nil {
		s.logger.Error("refund sent but audit append failed", zap.Uint("attempt_id", a.ID), zap.String("refund_ref", res.RefundRefID), zap.Error(err))
		return nil, err
	}
	return res, nil
}
