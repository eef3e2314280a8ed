package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"schoolpay/config"
	"schoolpay/internal/auth"
	"schoolpay/internal/domain"
	"schoolpay/internal/models"
	"schoolpay/internal/repository"
	"schoolpay/internal/service"
	"schoolpay/internal/ws"
	"schoolpay/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const webhookSecret = "whsec_test"

var dbSeq atomic.Int64

type testServer struct {
	t      *testing.T
	cfg    *config.Config
	engine *gin.Engine
	store  *repository.Store
	gw     *payment.MockGateway
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := fmt.Sprintf("file:router_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(
		&models.FeeInvoice{}, &models.PaymentAttempt{}, &models.PaymentAuditLog{},
		&models.ReceiptSequence{}, &models.Receipt{}, &models.PaymentDispute{},
	))

	cfg := &config.Config{
		Server: config.ServerConfig{Env: "test"},
		JWT:    config.JWTConfig{AccessSecret: "router-test-secret", AccessExpiry: time.Hour, Issuer: "schoolpay"},
	}
	store := repository.NewStore(db)
	gw := payment.NewMockGateway(payment.MockConfig{PendingWeight: 1, Seed: 1, WebhookSecret: webhookSecret})
	hub := ws.NewHub()
	notifier := service.NewNotificationService(hub, nil, zap.NewNop())
	payments := service.NewPaymentService(store, gw, notifier, service.PaymentConfig{GatewayTimeout: time.Second}, zap.NewNop())
	disputes := service.NewDisputeService(store, notifier, zap.NewNop())
	reconciler := service.NewReconciler(payments, nil, service.ReconcilerConfig{}, zap.NewNop())

	engine := Setup(cfg, Deps{
		Payments:   payments,
		Disputes:   disputes,
		Reconciler: reconciler,
		Hub:        hub,
		Logger:     zap.NewNop(),
	})
	return &testServer{t: t, cfg: cfg, engine: engine, store: store, gw: gw}
}

func (s *testServer) token(userID, studentID uint, role string) string {
	s.t.Helper()
	tok, err := auth.GenerateAccessToken(&s.cfg.JWT, userID, 1, studentID, role)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) studentToken() string { return s.token(100, 7, domain.RoleStudent) }
func (s *testServer) adminToken() string   { return s.token(1, 0, domain.RoleAdmin) }

func (s *testServer) invoice(totalCents int64) *models.FeeInvoice {
	s.t.Helper()
	inv := &models.FeeInvoice{
		TenantID:      1,
		StudentID:     7,
		InvoiceNumber: fmt.Sprintf("INV-%d", dbSeq.Add(1)),
		Currency:      "KES",
		TotalCents:    totalCents,
		BalanceCents:  totalCents,
		Status:        domain.InvoicePending,
		DueDate:       time.Now().Add(30 * 24 * time.Hour),
	}
	require.NoError(s.t, s.store.Invoices.Create(context.Background(), inv))
	return inv
}

func (s *testServer) do(method, path, token string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case []byte:
			buf.Write(b)
		default:
			require.NoError(s.t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func (s *testServer) initiate(invoiceID uint) map[string]any {
	s.t.Helper()
	w, body := s.do(http.MethodPost, "/api/v1/payments/initiate", s.studentToken(),
		map[string]any{"invoice_id": invoiceID, "phone": "254700000000"})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	return body
}

func TestInitiateRequiresStudentToken(t *testing.T) {
	s := newTestServer(t)
	inv := s.invoice(250050)

	w, _ := s.do(http.MethodPost, "/api/v1/payments/initiate", "", map[string]any{"invoice_id": inv.ID})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/payments/initiate", s.adminToken(), map[string]any{"invoice_id": inv.ID})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/payments/initiate", s.studentToken(), map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	inv := s.invoice(250050)

	body := s.initiate(inv.ID)
	assert.Equal(t, domain.AttemptProcessing, body["status"])
	assert.NotEmpty(t, body["payment_url"])
	ref := body["gateway_ref_id"].(string)
	id := uint(body["payment_attempt_id"].(float64))

	// one active attempt per invoice
	w, conflict := s.do(http.MethodPost, "/api/v1/payments/initiate", s.studentToken(), map[string]any{"invoice_id": inv.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, conflict["error"])

	w, _ = s.do(http.MethodGet, fmt.Sprintf("/api/v1/payments/%d/receipt", id), s.studentToken(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	s.gw.Script(ref, payment.StatusSuccess)
	w, status := s.do(http.MethodGet, fmt.Sprintf("/api/v1/payments/%d/status", id), s.studentToken(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.AttemptSuccess, status["status"])

	w, rc := s.do(http.MethodGet, fmt.Sprintf("/api/v1/payments/%d/receipt", id), s.studentToken(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Regexp(t, `^RCP-STU-\d{4}-00001$`, rc["receipt_number"])
	assert.Equal(t, float64(250050), rc["amount_cents"])

	// another student cannot see it
	w, _ = s.do(http.MethodGet, fmt.Sprintf("/api/v1/payments/%d/status", id), s.token(101, 8, domain.RoleStudent), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(http.MethodGet, fmt.Sprintf("/api/v1/admin/payments/%d/audit", id), s.studentToken(), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, trail := s.do(http.MethodGet, fmt.Sprintf("/api/v1/admin/payments/%d/audit", id), s.adminToken(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, trail["entries"], 3)
}

func TestStatusBadAndUnknownID(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(http.MethodGet, "/api/v1/payments/abc/status", s.studentToken(), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/payments/999/status", s.studentToken(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookSignatureAndSettlement(t *testing.T) {
	s := newTestServer(t)
	inv := s.invoice(10000)
	body := s.initiate(inv.ID)
	ref := body["gateway_ref_id"].(string)

	payload := []byte(fmt.Sprintf(`{"uuid":%q}`, ref))
	w, _ := s.do(http.MethodPost, "/api/v1/webhooks/payments", "", payload)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/webhooks/payments", "", payload, payment.SignatureHeader, "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	s.gw.Script(ref, payment.StatusFailed)
	w, ack := s.do(http.MethodPost, "/api/v1/webhooks/payments", "", payload,
		payment.SignatureHeader, payment.SignPayload(webhookSecret, payload))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, ack["received"])
	assert.Equal(t, domain.AttemptFailed, ack["status"])

	unknown := []byte(`{"reference":"mock_nope"}`)
	w, ack = s.do(http.MethodPost, "/api/v1/webhooks/payments", "", unknown,
		payment.SignatureHeader, payment.SignPayload(webhookSecret, unknown))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, ack["received"])

	empty := []byte(`{}`)
	w, _ = s.do(http.MethodPost, "/api/v1/webhooks/payments", "", empty,
		payment.SignatureHeader, payment.SignPayload(webhookSecret, empty))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGatewayFailureReturnsBadGateway(t *testing.T) {
	s := newTestServer(t)
	inv := s.invoice(10000)
	s.gw.FailInitiate(fmt.Errorf("connection refused"))

	w, body := s.do(http.MethodPost, "/api/v1/payments/initiate", s.studentToken(), map[string]any{"invoice_id": inv.ID})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, domain.AttemptFailed, body["status"])
	assert.Contains(t, body["error"], "payment gateway unavailable")
}

func TestDisputeFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	inv := s.invoice(50000)
	body := s.initiate(inv.ID)
	id := uint(body["payment_attempt_id"].(float64))

	w, d := s.do(http.MethodPost, "/api/v1/disputes", s.studentToken(), map[string]any{
		"invoice_id":           inv.ID,
		"payment_attempt_id":   id,
		"claimed_amount_cents": 50000,
		"transaction_ref":      "QGH7XYZ",
		"note":                 "money left my account",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	disputeID := uint(d["id"].(float64))

	w, _ = s.do(http.MethodPost, fmt.Sprintf("/api/v1/admin/disputes/%d/resolve", disputeID), s.studentToken(),
		map[string]any{"action": "APPROVE", "note": "ok"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(http.MethodPost, fmt.Sprintf("/api/v1/admin/disputes/%d/resolve", disputeID), s.adminToken(),
		map[string]any{"action": "MAYBE", "note": "hmm"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPost, fmt.Sprintf("/api/v1/admin/disputes/%d/review", disputeID), s.adminToken(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, res := s.do(http.MethodPost, fmt.Sprintf("/api/v1/admin/disputes/%d/resolve", disputeID), s.adminToken(),
		map[string]any{"action": "APPROVE", "note": "confirmed on statement"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotNil(t, res["receipt"])

	w, _ = s.do(http.MethodPost, fmt.Sprintf("/api/v1/admin/disputes/%d/resolve", disputeID), s.adminToken(),
		map[string]any{"action": "REJECT", "note": "again"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRunReconciliation(t *testing.T) {
	s := newTestServer(t)
	inv := s.invoice(10000)
	body := s.initiate(inv.ID)
	s.gw.Script(body["gateway_ref_id"].(string), payment.StatusSuccess)

	w, report := s.do(http.MethodPost, "/api/v1/admin/reconciliation/run", s.adminToken(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), report["scanned"])
	assert.Equal(t, float64(1), report["succeeded"])
}

func TestDisputeRaisesDoNotSpendInitiationBudget(t *testing.T) {
	s := newTestServer(t)
	inv := s.invoice(10000)

	for i := 0; i < 10; i++ {
		w, _ := s.do(http.MethodPost, "/api/v1/disputes", s.studentToken(), map[string]any{})
		require.Equal(t, http.StatusBadRequest, w.Code)
	}
	w, _ := s.do(http.MethodPost, "/api/v1/disputes", s.studentToken(), map[string]any{})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	s.initiate(inv.ID)
}
