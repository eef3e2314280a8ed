package handler

import (
	"errors"
	"net/http"

	"schoolpay/internal/middleware"
	"schoolpay/internal/service"

	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	payments   *service.PaymentService
	reconciler *service.Reconciler
}

func NewAdminHandler(payments *service.PaymentService, reconciler *service.Reconciler) *AdminHandler {
	return &AdminHandler{payments: payments, reconciler: reconciler}
}

// AuditTrail handles GET /admin/payments/:id/audit.
func (h *AdminHandler) AuditTrail(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	rows, err := h.payments.AuditTrail(c.Request.Context(), middleware.GetActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment_attempt_id": id, "entries": rows})
}

// Refund handles POST /admin/payments/:id/refund.
func (h *AdminHandler) Refund(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req struct {
		AmountCents int64  `json:"amount_cents" binding:"min=0"`
		Note        string `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.payments.Refund(c.Request.Context(), middleware.GetActor(c), id, service.RefundInput{
		AmountCents: req.AmountCents,
		Note:        req.Note,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": res.Status, "refund_ref_id": res.RefundRefID})
}

// RunReconciliation runs one reconciliation cycle immediately.
func (h *AdminHandler) RunReconciliation(c *gin.Context) {
	report, err := h.reconciler.RunCycle(c.Request.Context())
	if errors.Is(err, service.ErrCycleRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
