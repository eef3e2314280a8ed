package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"schoolpay/internal/domain"
	"schoolpay/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PaymentWebhookHandler struct {
	payments *service.PaymentService
	logger   *zap.Logger
}

func NewPaymentWebhookHandler(payments *service.PaymentService, logger *zap.Logger) *PaymentWebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentWebhookHandler{payments: payments, logger: logger.Named("webhook")}
}

// Handle accepts gateway callbacks. The body only names the transaction; the
// attempt is re-polled so the gateway's status endpoint stays authoritative.
// Accepted payloads: {"uuid": "..."}, {"gateway_ref_id": "..."} or {"reference": "..."}.
func (h *PaymentWebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if !h.payments.VerifyWebhook(c.Request.Header, body) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	var payload struct {
		UUID         string `json:"uuid"`
		GatewayRefID string `json:"gateway_ref_id"`
		Reference    string `json:"reference"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ref := payload.GatewayRefID
	if ref == "" {
		ref = payload.UUID
	}
	if ref == "" {
		ref = payload.Reference
	}
	if ref == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reference required"})
		return
	}
	a, err := h.payments.HandleWebhook(c.Request.Context(), ref)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.logger.Info("webhook for unknown reference", zap.String("gateway_ref", ref))
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	case errors.Is(err, domain.ErrGateway), errors.Is(err, domain.ErrStateConflict):
		// the reconciler will pick it up
		h.logger.Warn("webhook re-poll", zap.String("gateway_ref", ref), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	case err != nil:
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "status": a.Status})
}
