package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"schoolpay/internal/domain"
	"schoolpay/internal/ledger"
	"schoolpay/internal/models"
	"schoolpay/internal/repository"

	"go.uber.org/zap"
)

// DisputeService handles payment disputes: students raise them, staff review
// and resolve them. Resolution is the only path that can finalize a DISPUTED
// attempt.
type DisputeService struct {
	store    *repository.Store
	notifier Notifier
	logger   *zap.Logger

	Now func() time.Time
}

func NewDisputeService(store *repository.Store, notifier Notifier, logger *zap.Logger) *DisputeService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DisputeService{store: store, notifier: notifier, logger: logger.Named("disputes"), Now: time.Now}
}

type RaiseDisputeInput struct {
	InvoiceID          uint
	PaymentAttemptID   *uint
	ClaimedAmountCents int64
	TransactionRef     string
	Note               string
}

func (in RaiseDisputeInput) validate() error {
	switch {
	case in.InvoiceID == 0:
		return domain.Validation("invoice_id is required")
	case in.ClaimedAmountCents <= 0:
		return domain.Validation("claimed_amount_cents must be positive")
	case strings.TrimSpace(in.Note) == "":
		return domain.Validation("note is required")
	case len(in.TransactionRef) > 128:
		return domain.Validation("transaction_ref must be at most 128 characters")
	}
	return nil
}

// Raise opens a dispute on an invoice. A linked attempt that is still in
// flight is moved to DISPUTED in the same transaction, which stops polling.
func (s *DisputeService) Raise(ctx context.Context, actor Actor, in RaiseDisputeInput) (*models.PaymentDispute, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := s.Now()
	source := actor.triggerSource()
	var d *models.PaymentDispute
	var disputed *models.PaymentAttempt
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		inv, err := tx.Invoices.Get(ctx, actor.TenantID, in.InvoiceID)
		if err != nil {
			return err
		}
		if !actor.owns(inv.StudentID) {
			return domain.NotFound("fee invoice not found")
		}
		var a *models.PaymentAttempt
		if in.PaymentAttemptID != nil {
			if a, err = tx.Attempts.GetForTenant(ctx, actor.TenantID, *in.PaymentAttemptID); err != nil {
				return err
			}
			if a.InvoiceID != inv.ID {
				return domain.Validation("payment attempt %d does not belong to invoice %d", a.ID, inv.ID)
			}
		}
		d = &models.PaymentDispute{
			TenantID:           actor.TenantID,
			StudentID:          inv.StudentID,
			InvoiceID:          inv.ID,
			PaymentAttemptID:   in.PaymentAttemptID,
			ClaimedAmountCents: in.ClaimedAmountCents,
			TransactionRef:     strings.TrimSpace(in.TransactionRef),
			Note:               strings.TrimSpace(in.Note),
			Status:             domain.DisputeRaised,
			RaisedBy:           source,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := tx.Disputes.Create(ctx, d); err != nil {
			return err
		}
		if a == nil || domain.IsTerminalAttempt(a.Status) {
			return nil
		}
		_, err = settle(ctx, tx, a, transition{
			To:      domain.AttemptDisputed,
			Source:  source,
			ActorID: actor.actorID(),
			Note:    fmt.Sprintf("dispute %d raised", d.ID),
		}, now)
		disputed = a
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("dispute raised", zap.Uint("dispute_id", d.ID), zap.Uint("invoice_id", d.InvoiceID), zap.Uint("tenant_id", d.TenantID))
	if disputed != nil {
		s.notifier.PaymentUpdated(ctx, disputed, nil)
	}
	return d, nil
}

// Review marks a RAISED dispute as being looked at.
func (s *DisputeService) Review(ctx context.Context, actor Actor, disputeID uint) (*models.PaymentDispute, error) {
	var d *models.PaymentDispute
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		var err error
		if d, err = tx.Disputes.GetForUpdate(ctx, actor.TenantID, disputeID); err != nil {
			return err
		}
		if d.Status != domain.DisputeRaised {
			return domain.StateConflict("dispute %d is %s, only RAISED disputes can be reviewed", d.ID, d.Status)
		}
		return tx.Disputes.UpdateStatus(ctx, d, domain.DisputeUnderReview, s.Now())
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

type ResolveInput struct {
	Action string // APPROVE or REJECTED
	Note   string
}

type ResolveResult struct {
	Dispute *models.PaymentDispute `json:"dispute"`
	Attempt *models.PaymentAttempt `json:"payment_attempt,omitempty"`
	Receipt *models.Receipt        `json:"receipt,omitempty"`
}

// Resolve finalizes a dispute and, in the same transaction, its linked
// attempt and the invoice ledger. Approving settles a linked attempt that is
// not yet SUCCESS (FAILED included) as SUCCESS with a receipt; rejecting marks
// a non-terminal one FAILED. An approval with no linked attempt credits the
// claimed amount directly.
func (s *DisputeService) Resolve(ctx context.Context, actor Actor, disputeID uint, in ResolveInput) (*ResolveResult, error) {
	action, ok := domain.NormalizeDisputeAction(strings.ToUpper(strings.TrimSpace(in.Action)))
	if !ok {
		return nil, domain.Validation("action must be APPROVE or REJECTED")
	}
	note := strings.TrimSpace(in.Note)
	if note == "" {
		return nil, domain.Validation("note is required")
	}
	now := s.Now()
	approve := action == domain.DisputeActionApprove
	res := &ResolveResult{}
	var settled bool
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		d, err := tx.Disputes.GetForUpdate(ctx, actor.TenantID, disputeID)
		if err != nil {
			return err
		}
		if domain.IsFinalDispute(d.Status) {
			return domain.StateConflict("dispute %d is already %s", d.ID, d.Status)
		}
		to := domain.DisputeRejected
		if approve {
			to = domain.DisputeResolved
		}
		if err := tx.Disputes.Finalize(ctx, d, to, note, actor.UserID, now); err != nil {
			return err
		}
		res.Dispute = d

		credit := approve
		if d.PaymentAttemptID != nil {
			a, err := tx.Attempts.GetForTenant(ctx, actor.TenantID, *d.PaymentAttemptID)
			if err != nil {
				return err
			}
			res.Attempt = a
			switch {
			case a.Status == domain.AttemptSuccess:
				// already settled and credited
				credit = false
			case a.Status == domain.AttemptFailed && !approve:
				// nothing to undo
			default:
				target := domain.AttemptFailed
				if approve {
					target = domain.AttemptSuccess
				}
				res.Receipt, err = settle(ctx, tx, a, transition{
					To:      target,
					Source:  domain.TriggerAdminManual,
					ActorID: actor.actorID(),
					Note:    fmt.Sprintf("dispute %d %s: %s", d.ID, strings.ToLower(to), note),
				}, now)
				if err != nil {
					return err
				}
				settled = true
				credit = false
			}
		}
		if !credit {
			return nil
		}
		inv, err := tx.Invoices.GetForUpdate(ctx, d.TenantID, d.InvoiceID)
		if err != nil {
			return err
		}
		ledger.ApplyPayment(inv, d.ClaimedAmountCents, now)
		return tx.Invoices.SaveLedger(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("dispute resolved",
		zap.Uint("dispute_id", res.Dispute.ID),
		zap.String("status", res.Dispute.Status),
		zap.Uint("resolved_by", actor.UserID))
	if settled {
		s.notifier.PaymentUpdated(ctx, res.Attempt, res.Receipt)
	}
	return res, nil
}
