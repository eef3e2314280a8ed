package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// LiberecGateway collects fees by M-Pesa STK push through TheLiberec Card
// API. Refunds are paid back to the original phone number as a B2C transfer.
type LiberecGateway struct {
	baseURL       string
	email         string
	password      string
	webhookSecret string
	callbackURL   string
	client        *http.Client
	logger        *zap.Logger
}

func NewLiberecGateway(opts Options, logger *zap.Logger) *LiberecGateway {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://card-api.theliberec.com"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiberecGateway{
		baseURL:       baseURL,
		email:         opts.Email,
		password:      opts.Password,
		webhookSecret: opts.WebhookSecret,
		callbackURL:   opts.CallbackURL,
		client:        &http.Client{Timeout: timeout},
		logger:        logger.Named("liberec"),
	}
}

func (g *LiberecGateway) Name() string { return "liberec" }

// token logs in and returns a fresh bearer token; the API expects one per transaction.
func (g *LiberecGateway) token(ctx context.Context) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	body := map[string]string{"email": g.email, "password": g.password}
	if _, err := g.do(ctx, http.MethodPost, "/api/v1/merchants/login", "", body, &out); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if out.Token == "" {
		return "", errors.New("login: empty token")
	}
	return out.Token, nil
}

// do sends a JSON request and decodes a 200/201 response into out. The raw
// response body is returned for auditing.
func (g *LiberecGateway) do(ctx context.Context, method, path, token string, in, out interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	g.logger.Debug("gateway response", zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return raw, ErrUnknownReference
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return raw, fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, string(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return raw, nil
}

type stkPushRequest struct {
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	Description       string `json:"description"`
	CustomerPhone     string `json:"customer_phone"`
	CustomerFirstName string `json:"customer_first_name"`
	CustomerLastName  string `json:"customer_last_name"`
	CustomerEmail     string `json:"customer_email"`
	CallbackURL       string `json:"callback_url"`
	OrderID           string `json:"order_id"`
}

type liberecTransaction struct {
	UUID              string `json:"uuid"`
	OrderID           string `json:"order_id"`
	CheckoutRequestID string `json:"checkout_request_id"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	Status            string `json:"status"`
	CustomerPhone     string `json:"customer_phone"`
	CustomerMessage   string `json:"customer_message"`
}

// wholeUnits converts cents to the whole currency units M-Pesa accepts,
// rounding sub-unit amounts up to 1.
func wholeUnits(cents int64) string {
	if cents > 0 && cents < 100 {
		return "1"
	}
	return strconv.FormatInt(cents/100, 10)
}

func (g *LiberecGateway) InitiatePayment(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}
	payload := stkPushRequest{
		Amount:            wholeUnits(req.AmountCents),
		Currency:          req.Currency,
		Description:       req.Description,
		CustomerPhone:     req.Customer.Phone,
		CustomerFirstName: req.Customer.FirstName,
		CustomerLastName:  req.Customer.LastName,
		CustomerEmail:     req.Customer.Email,
		CallbackURL:       g.callbackURL,
		OrderID:           req.Reference,
	}
	if payload.Currency == "" {
		payload.Currency = "KES"
	}
	var out liberecTransaction
	raw, err := g.do(ctx, http.MethodPost, "/api/v1/transactions/mpesa", token, payload, &out)
	if err != nil {
		return nil, fmt.Errorf("stk push: %w", err)
	}
	ref := out.UUID
	if ref == "" {
		ref = out.CheckoutRequestID
	}
	if ref == "" {
		return nil, errors.New("stk push: response carried no transaction reference")
	}
	g.logger.Info("stk push sent", zap.String("order_id", req.Reference), zap.String("gateway_ref", ref))
	return &InitiateResult{GatewayRefID: ref, Raw: raw}, nil
}

func (g *LiberecGateway) CheckStatus(ctx context.Context, gatewayRefID string) (*StatusResult, error) {
	tx, raw, err := g.transaction(ctx, gatewayRefID)
	if err != nil {
		return nil, err
	}
	status, err := NormalizeStatus(tx.Status)
	if err != nil {
		return nil, err
	}
	return &StatusResult{Status: status, Raw: raw}, nil
}

func (g *LiberecGateway) transaction(ctx context.Context, gatewayRefID string) (*liberecTransaction, json.RawMessage, error) {
	token, err := g.token(ctx)
	if err != nil {
		return nil, nil, err
	}
	var out liberecTransaction
	raw, err := g.do(ctx, http.MethodGet, "/api/v1/transactions/"+gatewayRefID, token, nil, &out)
	if err != nil {
		return nil, raw, fmt.Errorf("transaction %s: %w", gatewayRefID, err)
	}
	return &out, raw, nil
}

type b2cResponse struct {
	UUID                string `json:"uuid"`
	OrderID             string `json:"order_id"`
	ConversationID      string `json:"conversation_id"`
	Status              string `json:"status"`
	ResponseDescription string `json:"response_description"`
}

// Refund sends amountCents back to the phone that paid gatewayRefID.
func (g *LiberecGateway) Refund(ctx context.Context, gatewayRefID string, amountCents int64) (*RefundResult, error) {
	tx, _, err := g.transaction(ctx, gatewayRefID)
	if err != nil {
		return nil, err
	}
	if st, _ := NormalizeStatus(tx.Status); st != StatusSuccess {
		return nil, ErrNotRefundable
	}
	if tx.CustomerPhone == "" {
		return nil, fmt.Errorf("refund %s: no customer phone on transaction", gatewayRefID)
	}
	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}
	body := map[string]string{
		"amount":       wholeUnits(amountCents),
		"phone_number": tx.CustomerPhone,
		"description":  "School fee refund",
		"remarks":      "Refund of " + gatewayRefID,
		"order_id":     "rf-" + gatewayRefID,
		"callback_url": g.callbackURL,
	}
	var out b2cResponse
	raw, err := g.do(ctx, http.MethodPost, "/api/v1/transactions/mpesa/b2c", token, body, &out)
	if err != nil {
		return nil, fmt.Errorf("b2c refund: %w", err)
	}
	status, err := NormalizeStatus(out.Status)
	if err != nil {
		status = StatusPending
	}
	ref := out.UUID
	if ref == "" {
		ref = out.ConversationID
	}
	return &RefundResult{Status: status, RefundRefID: ref, Raw: raw}, nil
}

func (g *LiberecGateway) VerifyWebhookSignature(headers http.Header, rawBody []byte) bool {
	return verifyHMAC(g.webhookSecret, headers, rawBody)
}
