package handler

import (
	"errors"
	"net/http"

	"schoolpay/internal/domain"
	"schoolpay/internal/middleware"
	"schoolpay/internal/service"
	"schoolpay/pkg/payment"

	"github.com/gin-gonic/gin"
)

type PaymentHandler struct {
	payments *service.PaymentService
}

func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// Initiate handles POST /payments/initiate.
func (h *PaymentHandler) Initiate(c *gin.Context) {
	var req struct {
		InvoiceID uint   `json:"invoice_id" binding:"required"`
		Phone     string `json:"phone"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor := middleware.GetActor(c)
	a, err := h.payments.Initiate(c.Request.Context(), actor, service.InitiateInput{
		InvoiceID:      req.InvoiceID,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
		Customer: payment.Customer{
			StudentID: actor.StudentID,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Email:     req.Email,
			Phone:     req.Phone,
		},
	})
	if err != nil {
		if a != nil && errors.Is(err, domain.ErrGateway) {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":              domain.PublicMessage(err),
				"payment_attempt_id": a.ID,
				"status":             a.Status,
			})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"payment_attempt_id": a.ID,
		"payment_url":        a.PaymentURL,
		"gateway_ref_id":     a.GatewayRefID,
		"status":             a.Status,
		"amount_cents":       a.AmountCents,
		"currency":           a.Currency,
	})
}

// Status handles GET /payments/:id/status. Non-terminal attempts are polled first.
func (h *PaymentHandler) Status(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	a, err := h.payments.CheckStatus(c.Request.Context(), middleware.GetActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// Receipt handles GET /payments/:id/receipt.
func (h *PaymentHandler) Receipt(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	rc, err := h.payments.GetReceipt(c.Request.Context(), middleware.GetActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rc)
}
