package payment

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MockConfig struct {
	SuccessWeight int
	FailureWeight int
	PendingWeight int
	Seed          int64 // 0 seeds from the clock
	WebhookSecret string
}

type mockSession struct {
	ref         string
	reference   string
	amountCents int64
	status      string
	queued      []string
}

// MockGateway is an in-memory gateway. Unscripted sessions resolve randomly
// according to the configured weights; once a session reports SUCCESS or
// FAILED it keeps reporting it.
type MockGateway struct {
	mu          sync.Mutex
	cfg         MockConfig
	rng         *rand.Rand
	sessions    map[string]*mockSession
	byReference map[string]string

	initiateErr error
	statusErr   error

	initiateCalls int
	statusCalls   map[string]int
}

func NewMockGateway(cfg MockConfig) *MockGateway {
	if cfg.SuccessWeight+cfg.FailureWeight+cfg.PendingWeight <= 0 {
		cfg.SuccessWeight, cfg.FailureWeight, cfg.PendingWeight = 70, 15, 15
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &MockGateway{
		cfg:         cfg,
		rng:         rand.New(rand.NewSource(seed)),
		sessions:    make(map[string]*mockSession),
		byReference: make(map[string]string),
		statusCalls: make(map[string]int),
	}
}

func (m *MockGateway) Name() string { return "mock" }

func (m *MockGateway) InitiatePayment(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initiateCalls++
	if m.initiateErr != nil {
		return nil, m.initiateErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref, ok := m.byReference[req.Reference]; ok {
		return m.initiateResult(m.sessions[ref]), nil
	}
	s := &mockSession{
		ref:         "mock_" + uuid.NewString(),
		reference:   req.Reference,
		amountCents: req.AmountCents,
		status:      StatusPending,
	}
	m.sessions[s.ref] = s
	m.byReference[req.Reference] = s.ref
	return m.initiateResult(s), nil
}

func (m *MockGateway) initiateResult(s *mockSession) *InitiateResult {
	raw, _ := json.Marshal(map[string]interface{}{
		"ref":          s.ref,
		"reference":    s.reference,
		"amount_cents": s.amountCents,
		"status":       "PENDING",
	})
	return &InitiateResult{
		GatewayRefID: s.ref,
		PaymentURL:   "https://mock-gateway.local/pay/" + s.ref,
		Raw:          raw,
	}
}

func (m *MockGateway) CheckStatus(ctx context.Context, gatewayRefID string) (*StatusResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCalls[gatewayRefID]++
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, ok := m.sessions[gatewayRefID]
	if !ok {
		return nil, ErrUnknownReference
	}
	if s.status == StatusPending {
		if len(s.queued) > 0 {
			s.status = s.queued[0]
			s.queued = s.queued[1:]
		} else {
			s.status = m.roll()
		}
	}
	raw, _ := json.Marshal(map[string]string{"ref": s.ref, "status": s.status})
	return &StatusResult{Status: s.status, Raw: raw}, nil
}

func (m *MockGateway) roll() string {
	total := m.cfg.SuccessWeight + m.cfg.FailureWeight + m.cfg.PendingWeight
	n := m.rng.Intn(total)
	switch {
	case n < m.cfg.SuccessWeight:
		return StatusSuccess
	case n < m.cfg.SuccessWeight+m.cfg.FailureWeight:
		return StatusFailed
	}
	return StatusPending
}

func (m *MockGateway) Refund(ctx context.Context, gatewayRefID string, amountCents int64) (*RefundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[gatewayRefID]
	if !ok {
		return nil, ErrUnknownReference
	}
	if s.status != StatusSuccess {
		return nil, ErrNotRefundable
	}
	refundRef := "mock_rf_" + uuid.NewString()
	raw, _ := json.Marshal(map[string]interface{}{"ref": refundRef, "amount_cents": amountCents, "status": "COMPLETED"})
	return &RefundResult{Status: StatusSuccess, RefundRefID: refundRef, Raw: raw}, nil
}

func (m *MockGateway) VerifyWebhookSignature(headers http.Header, rawBody []byte) bool {
	return verifyHMAC(m.cfg.WebhookSecret, headers, rawBody)
}

// Script queues the statuses the next polls of gatewayRefID will report, in
// order, before falling back to random outcomes.
func (m *MockGateway) Script(gatewayRefID string, statuses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[gatewayRefID]; ok {
		s.queued = append(s.queued, statuses...)
	}
}

// FailInitiate makes every InitiatePayment call return err (nil clears it).
func (m *MockGateway) FailInitiate(err error) {
	m.mu.Lock()
	m.initiateErr = err
	m.mu.Unlock()
}

// FailStatus makes every CheckStatus call return err (nil clears it).
func (m *MockGateway) FailStatus(err error) {
	m.mu.Lock()
	m.statusErr = err
	m.mu.Unlock()
}

func (m *MockGateway) InitiateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initiateCalls
}

func (m *MockGateway) StatusCalls(gatewayRefID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCalls[gatewayRefID]
}
