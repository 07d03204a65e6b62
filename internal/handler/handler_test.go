package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"

	"github.com/Stan7771213/paytapper-sub000/internal/connect"
	"github.com/Stan7771213/paytapper-sub000/internal/metrics"
	"github.com/Stan7771213/paytapper-sub000/internal/middleware"
	"github.com/Stan7771213/paytapper-sub000/internal/model"
	"github.com/Stan7771213/paytapper-sub000/internal/repository"
	"github.com/Stan7771213/paytapper-sub000/internal/service"
)

const testWebhookSecret = "whsec_test_secret"

type stubService struct {
	registerClientID int64
	registerErr      error

	authClientID int64
	authErr      error

	checkoutResult *service.CheckoutResult
	checkoutErr    error

	connectStatus *service.ConnectStatus
	connectErr    error

	onboarding *service.Onboarding

	payments    []model.Payment
	paymentsErr error

	resetErr        error
	resetConfirmErr error

	webhookEvents  []stripe.Event
	webhookOutcome service.WebhookOutcome
	webhookErr     error
}

func (s *stubService) RegisterClient(ctx context.Context, login, password, displayName string) (int64, error) {
	return s.registerClientID, s.registerErr
}

func (s *stubService) AuthenticateClient(ctx context.Context, login, password string) (int64, error) {
	return s.authClientID, s.authErr
}

func (s *stubService) CreateCheckout(ctx context.Context, clientID, amountCents int64) (*service.CheckoutResult, error) {
	return s.checkoutResult, s.checkoutErr
}

func (s *stubService) GetConnectStatus(ctx context.Context, clientID int64) (*service.ConnectStatus, error) {
	return s.connectStatus, s.connectErr
}

func (s *stubService) StartOnboarding(ctx context.Context, clientID int64) (*service.Onboarding, error) {
	return s.onboarding, nil
}

func (s *stubService) ListClientPayments(ctx context.Context, clientID int64) ([]model.Payment, error) {
	return s.payments, s.paymentsErr
}

func (s *stubService) CreatePasswordReset(ctx context.Context, login string) error {
	return s.resetErr
}

func (s *stubService) ConfirmPasswordReset(ctx context.Context, rawToken, newPassword string) error {
	return s.resetConfirmErr
}

func (s *stubService) ProcessWebhookEvent(ctx context.Context, event stripe.Event) (service.WebhookOutcome, error) {
	s.webhookEvents = append(s.webhookEvents, event)
	return s.webhookOutcome, s.webhookErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	sessions := middleware.NewSessionManager("test-secret")
	m := metrics.New("paytapper_test")

	return NewHandler(svc, logger, sessions, m, testWebhookSecret)
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{registerClientID: 42}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Login:    "client",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/client/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(res.Cookies()) == 0 {
		t.Fatalf("session cookie not set on register")
	}
}

func TestRegister_Conflict(t *testing.T) {
	svc := &stubService{registerErr: repository.ErrClientExists}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{Login: "client", Password: "pass"})
	req := httptest.NewRequest(http.MethodPost, "/api/client/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := &stubService{authErr: service.ErrInvalidCredentials}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{Login: "client", Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/client/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestCreateCheckout_Success(t *testing.T) {
	svc := &stubService{
		checkoutResult: &service.CheckoutResult{
			Decision: model.RoutingDecision{
				Mode:                 model.RoutingModeConnect,
				DestinationAccountID: "acct_1",
				ApplicationFeeCents:  200,
			},
			SessionID: "cs_test_1",
			URL:       "https://checkout.example/cs_test_1",
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(checkoutRequest{ClientID: 1, AmountCents: 1999})
	req := httptest.NewRequest(http.MethodPost, "/api/checkout", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateCheckout(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp checkoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID != "cs_test_1" || resp.URL == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Mode != "connect" || resp.ApplicationFeeCents != 200 {
		t.Fatalf("routing not reported: %+v", resp)
	}
}

func TestCreateCheckout_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantState  string
	}{
		{
			name:       "invalid amount",
			err:        service.ErrInvalidAmount,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown client",
			err:        repository.ErrClientNotFound,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "direct without account",
			err:        &service.DirectNotReadyError{},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "direct restricted",
			err:        &service.DirectNotReadyError{State: connect.StateRestricted},
			wantStatus: http.StatusConflict,
			wantState:  "restricted",
		},
		{
			name:       "provider failure",
			err:        context.DeadlineExceeded,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{checkoutErr: tt.err})

			body, _ := json.Marshal(checkoutRequest{ClientID: 1, AmountCents: 1000})
			req := httptest.NewRequest(http.MethodPost, "/api/checkout", bytes.NewReader(body))
			rec := httptest.NewRecorder()

			h.CreateCheckout(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantState != "" {
				var resp errorResponse
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
					t.Fatalf("decode response: %v", err)
				}
				if resp.State != tt.wantState {
					t.Fatalf("state = %q, want %q", resp.State, tt.wantState)
				}
			}
		})
	}
}

func TestGetConnectStatus(t *testing.T) {
	svc := &stubService{
		connectStatus: &service.ConnectStatus{
			State:            connect.StateActive,
			Connected:        true,
			ChargesEnabled:   true,
			DetailsSubmitted: true,
		},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/client/7/connect/status", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp connectStatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.State != "active" || !resp.Connected {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGetConnectStatus_BadClientID(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/client/abc/connect/status", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func authedRequest(t *testing.T, h *Handler, method, target string) *http.Request {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.sessions.SetAuthCookie(rec, 7)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestExportPayments_CSV(t *testing.T) {
	paidAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := &stubService{
		payments: []model.Payment{
			{
				SettlementID:   "pi_123",
				ClientID:       7,
				AmountCents:    1999,
				NetAmountCents: 1799,
				Currency:       "usd",
				Status:         model.PaymentStatusPaid,
				CreatedAt:      paidAt,
				PaidAt:         &paidAt,
			},
		},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := authedRequest(t, h, http.MethodGet, "/api/client/export")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content type = %q, want text/csv", ct)
	}

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv lines = %d, want 2: %q", len(lines), rec.Body.String())
	}
	if lines[0] != "date,status,gross,net,settlement_id" {
		t.Fatalf("header = %q", lines[0])
	}
	want := "2025-06-01T12:00:00Z,paid,19.99,17.99,pi_123"
	if lines[1] != want {
		t.Fatalf("row = %q, want %q", lines[1], want)
	}
}

func TestExportPayments_Unauthorized(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/client/export", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestGetPayments_NoContent(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	req := authedRequest(t, h, http.MethodGet, "/api/client/payments")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestRequestPasswordReset_AlwaysOK(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	body, _ := json.Marshal(resetRequest{Login: "ghost"})
	req := httptest.NewRequest(http.MethodPost, "/api/client/password/reset", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.RequestPasswordReset(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestConfirmPasswordReset_InvalidToken(t *testing.T) {
	h := newTestHandler(t, &stubService{resetConfirmErr: repository.ErrResetTokenInvalid})

	body, _ := json.Marshal(resetConfirmRequest{Token: "bogus", Password: "new"})
	req := httptest.NewRequest(http.MethodPost, "/api/client/password/reset/confirm", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ConfirmPasswordReset(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

// stripeSignature строит заголовок Stripe-Signature по схеме v1:
// HMAC-SHA256(secret, "<timestamp>.<payload>").
func stripeSignature(t *testing.T, payload []byte, secret string, at time.Time) string {
	t.Helper()

	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func webhookPayload(t *testing.T) []byte {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"id":          "evt_test_1",
		"type":        "checkout.session.completed",
		"api_version": stripe.APIVersion,
		"created":     time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":           "cs_test_1",
				"amount_total": 1999,
				"currency":     "usd",
				"metadata":     map[string]string{"client_id": "7"},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return payload
}

func TestStripeWebhook_ValidSignature(t *testing.T) {
	svc := &stubService{webhookOutcome: service.WebhookOutcomeRecorded}
	h := newTestHandler(t, svc)

	payload := webhookPayload(t)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", stripeSignature(t, payload, testWebhookSecret, time.Now()))
	rec := httptest.NewRecorder()

	h.StripeWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if len(svc.webhookEvents) != 1 {
		t.Fatalf("processed events = %d, want 1", len(svc.webhookEvents))
	}
	if svc.webhookEvents[0].Type != "checkout.session.completed" {
		t.Fatalf("event type = %s", svc.webhookEvents[0].Type)
	}
}

func TestStripeWebhook_BadSignature(t *testing.T) {
	svc := &stubService{webhookOutcome: service.WebhookOutcomeRecorded}
	h := newTestHandler(t, svc)

	payload := webhookPayload(t)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", stripeSignature(t, payload, "whsec_wrong", time.Now()))
	rec := httptest.NewRecorder()

	h.StripeWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if len(svc.webhookEvents) != 0 {
		t.Fatalf("unverified event must not reach processing")
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("cs_test_1")) {
		t.Fatalf("response must not echo unverified payload")
	}
}

func TestStripeWebhook_MissingSignature(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", bytes.NewReader(webhookPayload(t)))
	rec := httptest.NewRecorder()

	h.StripeWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestStripeWebhook_TamperedPayload(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	payload := webhookPayload(t)
	header := stripeSignature(t, payload, testWebhookSecret, time.Now())

	tampered := bytes.Replace(payload, []byte(`"client_id":"7"`), []byte(`"client_id":"8"`), 1)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", bytes.NewReader(tampered))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()

	h.StripeWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestStripeWebhook_ProcessingErrorReturns500(t *testing.T) {
	svc := &stubService{webhookErr: context.DeadlineExceeded}
	h := newTestHandler(t, svc)

	payload := webhookPayload(t)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", stripeSignature(t, payload, testWebhookSecret, time.Now()))
	rec := httptest.NewRecorder()

	h.StripeWebhook(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestMajorUnits(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{99, "0.99"},
		{100, "1.00"},
		{1999, "19.99"},
		{-250, "-2.50"},
	}

	for _, tt := range tests {
		if got := majorUnits(tt.cents); got != tt.want {
			t.Fatalf("majorUnits(%d) = %q, want %q", tt.cents, got, tt.want)
		}
	}
}
