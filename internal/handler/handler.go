// Package handler содержит HTTP-обработчики API сервиса paytapper.
package handler

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"

	"github.com/Stan7771213/paytapper-sub000/internal/connect"
	"github.com/Stan7771213/paytapper-sub000/internal/metrics"
	"github.com/Stan7771213/paytapper-sub000/internal/middleware"
	"github.com/Stan7771213/paytapper-sub000/internal/model"
	"github.com/Stan7771213/paytapper-sub000/internal/repository"
	"github.com/Stan7771213/paytapper-sub000/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterClient(ctx context.Context, login, password, displayName string) (int64, error)
	AuthenticateClient(ctx context.Context, login, password string) (int64, error)
	CreateCheckout(ctx context.Context, clientID, amountCents int64) (*service.CheckoutResult, error)
	GetConnectStatus(ctx context.Context, clientID int64) (*service.ConnectStatus, error)
	StartOnboarding(ctx context.Context, clientID int64) (*service.Onboarding, error)
	ListClientPayments(ctx context.Context, clientID int64) ([]model.Payment, error)
	CreatePasswordReset(ctx context.Context, login string) error
	ConfirmPasswordReset(ctx context.Context, rawToken, newPassword string) error
	ProcessWebhookEvent(ctx context.Context, event stripe.Event) (service.WebhookOutcome, error)
}

// Handler реализует HTTP-обработчики API сервиса paytapper.
type Handler struct {
	service       Service
	logger        *zap.Logger
	sessions      *middleware.SessionManager
	metrics       *metrics.Metrics
	webhookSecret string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, sessions *middleware.SessionManager, m *metrics.Metrics, webhookSecret string) *Handler {
	return &Handler{
		service:       s,
		logger:        logger,
		sessions:      sessions,
		metrics:       m,
		webhookSecret: webhookSecret,
	}
}

type credentialsRequest struct {
	Login       string `json:"login"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

// Register обрабатывает регистрацию нового клиента платформы.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	clientID, err := h.service.RegisterClient(r.Context(), req.Login, req.Password, req.DisplayName)
	if err != nil {
		if errors.Is(err, repository.ErrClientExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register client error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.sessions.SetAuthCookie(w, clientID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию клиента и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	clientID, err := h.service.AuthenticateClient(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrClientNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login client error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.sessions.SetAuthCookie(w, clientID)
	w.WriteHeader(http.StatusOK)
}

// Logout завершает сессию клиента.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.ClearAuthCookie(w)
	w.WriteHeader(http.StatusOK)
}

type checkoutRequest struct {
	ClientID    int64 `json:"client_id"`
	AmountCents int64 `json:"amount_cents"`
}

type checkoutResponse struct {
	SessionID           string `json:"session_id"`
	URL                 string `json:"url"`
	Mode                string `json:"mode"`
	ApplicationFeeCents int64  `json:"application_fee_cents,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	State string `json:"state,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// CreateCheckout создаёт платёжную сессию для чаевых указанному клиенту.
// Вызывается неаутентифицированным плательщиком.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	result, err := h.service.CreateCheckout(r.Context(), req.ClientID, req.AmountCents)
	if err != nil {
		var notReady *service.DirectNotReadyError
		switch {
		case errors.Is(err, service.ErrInvalidAmount):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_amount"})
		case errors.Is(err, repository.ErrClientNotFound):
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "client_not_found"})
		case errors.As(err, &notReady):
			writeJSON(w, http.StatusConflict, errorResponse{
				Error: "direct_not_ready",
				State: string(notReady.State),
			})
		default:
			h.logger.Error("create checkout error", zap.Error(err), zap.Int64("client_id", req.ClientID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.metrics.RoutingDecisions.WithLabelValues(string(result.Decision.Mode)).Inc()

	writeJSON(w, http.StatusOK, checkoutResponse{
		SessionID:           result.SessionID,
		URL:                 result.URL,
		Mode:                string(result.Decision.Mode),
		ApplicationFeeCents: result.Decision.ApplicationFeeCents,
	})
}

type connectStatusResponse struct {
	State            string          `json:"state"`
	Connected        bool            `json:"connected"`
	AccountID        string          `json:"account_id,omitempty"`
	ChargesEnabled   bool            `json:"charges_enabled"`
	DetailsSubmitted bool            `json:"details_submitted"`
	Signals          connect.Signals `json:"signals"`
}

// GetConnectStatus возвращает состояние онбординга подключённого счёта клиента.
func (h *Handler) GetConnectStatus(w http.ResponseWriter, r *http.Request) {
	clientID, err := strconv.ParseInt(chi.URLParam(r, "clientID"), 10, 64)
	if err != nil || clientID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	status, err := h.service.GetConnectStatus(r.Context(), clientID)
	if err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("connect status error", zap.Error(err), zap.Int64("client_id", clientID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, connectStatusResponse{
		State:            string(status.State),
		Connected:        status.Connected,
		AccountID:        status.AccountID,
		ChargesEnabled:   status.ChargesEnabled,
		DetailsSubmitted: status.DetailsSubmitted,
		Signals:          status.Signals,
	})
}

type onboardResponse struct {
	AccountID string `json:"account_id"`
	URL       string `json:"url"`
}

// StartOnboarding запускает онбординг подключённого счёта текущего клиента.
func (h *Handler) StartOnboarding(w http.ResponseWriter, r *http.Request) {
	clientID, ok := middleware.GetClientIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	onboarding, err := h.service.StartOnboarding(r.Context(), clientID)
	if err != nil {
		h.logger.Error("start onboarding error", zap.Error(err), zap.Int64("client_id", clientID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, onboardResponse{
		AccountID: onboarding.AccountID,
		URL:       onboarding.URL,
	})
}

type paymentResponse struct {
	SettlementID   string `json:"settlement_id"`
	AmountCents    int64  `json:"amount_cents"`
	NetAmountCents int64  `json:"net_amount_cents"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	PaidAt         string `json:"paid_at,omitempty"`
}

// GetPayments возвращает платежи текущего клиента.
func (h *Handler) GetPayments(w http.ResponseWriter, r *http.Request) {
	clientID, ok := middleware.GetClientIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	payments, err := h.service.ListClientPayments(r.Context(), clientID)
	if err != nil {
		h.logger.Error("list payments error", zap.Error(err), zap.Int64("client_id", clientID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(payments) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		item := paymentResponse{
			SettlementID:   p.SettlementID,
			AmountCents:    p.AmountCents,
			NetAmountCents: p.NetAmountCents,
			Currency:       p.Currency,
			Status:         string(p.Status),
			CreatedAt:      p.CreatedAt.Format(time.RFC3339),
		}
		if p.PaidAt != nil {
			item.PaidAt = p.PaidAt.Format(time.RFC3339)
		}
		resp = append(resp, item)
	}

	writeJSON(w, http.StatusOK, resp)
}

// majorUnits форматирует сумму в центах как строку в основных единицах валюты.
func majorUnits(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return sign + strconv.FormatInt(cents/100, 10) + "." + pad2(cents%100)
}

func pad2(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}

// ExportPayments выгружает платежи текущего клиента в CSV.
func (h *Handler) ExportPayments(w http.ResponseWriter, r *http.Request) {
	clientID, ok := middleware.GetClientIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	payments, err := h.service.ListClientPayments(r.Context(), clientID)
	if err != nil {
		h.logger.Error("export payments error", zap.Error(err), zap.Int64("client_id", clientID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="payments.csv"`)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"date", "status", "gross", "net", "settlement_id"})
	for _, p := range payments {
		date := p.CreatedAt
		if p.PaidAt != nil {
			date = *p.PaidAt
		}
		_ = cw.Write([]string{
			date.Format(time.RFC3339),
			string(p.Status),
			majorUnits(p.AmountCents),
			majorUnits(p.NetAmountCents),
			p.SettlementID,
		})
	}
	cw.Flush()
}

type resetRequest struct {
	Login string `json:"login"`
}

// RequestPasswordReset создаёт токен сброса пароля.
// Ответ всегда 200, чтобы не раскрывать существование учётной записи.
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Login == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.CreatePasswordReset(r.Context(), req.Login); err != nil {
		h.logger.Error("password reset error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type resetConfirmRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ConfirmPasswordReset гасит токен сброса и устанавливает новый пароль.
func (h *Handler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.ConfirmPasswordReset(r.Context(), req.Token, req.Password); err != nil {
		if errors.Is(err, repository.ErrResetTokenInvalid) {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid_reset_token"})
			return
		}
		h.logger.Error("password reset confirm error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
