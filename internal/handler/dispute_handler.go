package handler

import (
	"net/http"

	"schoolpay/internal/middleware"
	"schoolpay/internal/service"

	"github.com/gin-gonic/gin"
)

type DisputeHandler struct {
	disputes *service.DisputeService
}

func NewDisputeHandler(disputes *service.DisputeService) *DisputeHandler {
	return &DisputeHandler{disputes: disputes}
}

// Raise handles POST /disputes.
func (h *DisputeHandler) Raise(c *gin.Context) {
	var req struct {
		InvoiceID          uint   `json:"invoice_id" binding:"required"`
		ClaimedAmountCents int64  `json:"claimed_amount_cents" binding:"required,min=1"`
		Note               string `json:"note" binding:"required"`
		PaymentAttemptID   *uint  `json:"payment_attempt_id"`
		TransactionRef     string `json:"transaction_ref"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := h.disputes.Raise(c.Request.Context(), middleware.GetActor(c), service.RaiseDisputeInput{
		InvoiceID:          req.InvoiceID,
		PaymentAttemptID:   req.PaymentAttemptID,
		ClaimedAmountCents: req.ClaimedAmountCents,
		TransactionRef:     req.TransactionRef,
		Note:               req.Note,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// Review handles POST /admin/disputes/:id/review.
func (h *DisputeHandler) Review(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	d, err := h.disputes.Review(c.Request.Context(), middleware.GetActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// Resolve handles POST /admin/disputes/:id/resolve.
func (h *DisputeHandler) Resolve(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req struct {
		Action string `json:"action" binding:"required"`
		Note   string `json:"note" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.disputes.Resolve(c.Request.Context(), middleware.GetActor(c), id, service.ResolveInput{
		Action: req.Action,
		Note:   req.Note,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
