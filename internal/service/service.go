// Package service реализует бизнес-логику сервиса paytapper.
package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"

	"github.com/Stan7771213/paytapper-sub000/internal/connect"
	"github.com/Stan7771213/paytapper-sub000/internal/fee"
	"github.com/Stan7771213/paytapper-sub000/internal/model"
	"github.com/Stan7771213/paytapper-sub000/internal/provider"
	"github.com/Stan7771213/paytapper-sub000/internal/repository"
)

const (
	defaultCurrency = "usd"
	resetTokenTTL   = 1 * time.Hour

	// maxAmountCents ограничивает сумму одного платежа сверху.
	// Проверка выполняется до расчёта комиссии, чтобы целочисленная
	// арифметика комиссии не переполнялась.
	maxAmountCents = 100_000_000 // 1 000 000.00 в основных единицах
)

// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidAmount возвращается при недопустимой сумме платежа.
	ErrInvalidAmount = errors.New("amount out of range")
)

// DirectNotReadyError возвращается, когда прямые выплаты клиенту недоступны.
// State пустой, если подключённый счёт ещё не создавался.
type DirectNotReadyError struct {
	State connect.State
}

func (e *DirectNotReadyError) Error() string {
	if e.State == "" {
		return "direct payouts not ready: account not created"
	}
	return fmt.Sprintf("direct payouts not ready: account state %s", e.State)
}

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateClient(ctx context.Context, login string, passwordHash []byte, displayName string) (int64, error)
	GetClientByLogin(ctx context.Context, login string) (*model.Client, error)
	GetClientByID(ctx context.Context, id int64) (*model.Client, error)
	GetClientByAccountID(ctx context.Context, accountID string) (*model.Client, error)
	SetClientAccountID(ctx context.Context, clientID int64, accountID string) error
	SetClientPassword(ctx context.Context, clientID int64, passwordHash []byte) error
	MarkClientReadyNotified(ctx context.Context, clientID int64, at time.Time) error
	UpsertPaymentBySettlementID(ctx context.Context, p model.Payment) error
	ListPayments(ctx context.Context) ([]model.Payment, error)
	ListPaymentsByClient(ctx context.Context, clientID int64) ([]model.Payment, error)
	CreateResetToken(ctx context.Context, clientID int64, tokenHash []byte, expiresAt time.Time) error
	ConsumeResetToken(ctx context.Context, tokenHash []byte, now time.Time) (int64, error)
}

// Provider описывает контракт платёжного провайдера, используемый сервисом.
type Provider interface {
	GetAccount(ctx context.Context, accountID string) (*stripe.Account, error)
	CreateAccount(ctx context.Context, clientID int64) (string, error)
	CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error)
	CreateCheckoutSession(ctx context.Context, p provider.CheckoutParams) (*provider.CheckoutSession, error)
}

// Notifier описывает контракт доставки уведомлений клиенту.
// Сама доставка (почта и т.п.) — внешний компонент.
type Notifier interface {
	NotifyReadyToReceive(ctx context.Context, client *model.Client) error
	DeliverResetToken(ctx context.Context, client *model.Client, rawToken string) error
}

// Service содержит бизнес-логику сервиса paytapper.
type Service struct {
	repo       Repository
	provider   Provider
	notifier   Notifier
	logger     *zap.Logger
	feePercent int64
	baseURL    string
}

// NewService создаёт новый сервис с указанными зависимостями.
func NewService(repo Repository, prov Provider, notifier Notifier, logger *zap.Logger, feePercent int64, baseURL string) *Service {
	return &Service{
		repo:       repo,
		provider:   prov,
		notifier:   notifier,
		logger:     logger,
		feePercent: feePercent,
		baseURL:    baseURL,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterClient регистрирует нового клиента платформы.
func (s *Service) RegisterClient(ctx context.Context, login, password, displayName string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateClient(ctx, login, hashed, displayName)
	if err != nil {
		if errors.Is(err, repository.ErrClientExists) {
			return 0, repository.ErrClientExists
		}
		return 0, err
	}
	return id, nil
}

// AuthenticateClient проверяет логин и пароль клиента и возвращает его идентификатор.
func (s *Service) AuthenticateClient(ctx context.Context, login, password string) (int64, error) {
	c, err := s.repo.GetClientByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(login, password)
	if !hmac.Equal(hashed, c.PasswordHash) {
		return 0, ErrInvalidCredentials
	}

	return c.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// ResolveRoute принимает решение о маршрутизации платежа для клиента.
// Состояние подключённого счёта запрашивается заново при каждом вызове:
// решение о прямой выплате нельзя принимать по кэшированным данным.
// Запись данных метод не выполняет.
func (s *Service) ResolveRoute(ctx context.Context, clientID, amountCents int64) (*model.RoutingDecision, error) {
	if amountCents <= 0 || amountCents > maxAmountCents {
		return nil, ErrInvalidAmount
	}

	client, err := s.repo.GetClientByID(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if client.PayoutMode != model.PayoutModeDirect {
		return &model.RoutingDecision{Mode: model.RoutingModePlatform}, nil
	}

	if client.StripeAccountID == "" {
		return nil, &DirectNotReadyError{}
	}

	acct, err := s.provider.GetAccount(ctx, client.StripeAccountID)
	if err != nil {
		return nil, fmt.Errorf("fetch account state: %w", err)
	}

	state := connect.DeriveState(connect.ExtractSignals(acct, client.StripeAccountID))
	if state != connect.StateActive {
		return nil, &DirectNotReadyError{State: state}
	}

	feeCents, _ := fee.Split(amountCents, s.feePercent)
	return &model.RoutingDecision{
		Mode:                 model.RoutingModeConnect,
		DestinationAccountID: client.StripeAccountID,
		ApplicationFeeCents:  feeCents,
	}, nil
}

// CheckoutResult содержит решение о маршрутизации и созданную сессию оплаты.
type CheckoutResult struct {
	Decision  model.RoutingDecision
	SessionID string
	URL       string
}

// CreateCheckout принимает решение о маршрутизации и создаёт сессию оплаты у провайдера.
func (s *Service) CreateCheckout(ctx context.Context, clientID, amountCents int64) (*CheckoutResult, error) {
	decision, err := s.ResolveRoute(ctx, clientID, amountCents)
	if err != nil {
		return nil, err
	}

	client, err := s.repo.GetClientByID(ctx, clientID)
	if err != nil {
		return nil, err
	}

	params := provider.CheckoutParams{
		ClientID:    clientID,
		AmountCents: amountCents,
		Currency:    defaultCurrency,
		Description: "Tip for " + displayName(client),
		SuccessURL:  s.baseURL + "/tip/success",
		CancelURL:   s.baseURL + "/tip/cancel",
	}
	if decision.Mode == model.RoutingModeConnect {
		params.ApplicationFeeCents = decision.ApplicationFeeCents
		params.DestinationAccountID = decision.DestinationAccountID
	}

	session, err := s.provider.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	return &CheckoutResult{
		Decision:  *decision,
		SessionID: session.ID,
		URL:       session.URL,
	}, nil
}

func displayName(c *model.Client) string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Login
}

// ConnectStatus содержит состояние онбординга подключённого счёта клиента.
type ConnectStatus struct {
	State            connect.State
	Connected        bool
	AccountID        string
	ChargesEnabled   bool
	DetailsSubmitted bool
	Signals          connect.Signals
}

// GetConnectStatus возвращает свежесть состояния подключённого счёта клиента.
// Сигналы извлекаются из живого снимка счёта и не кэшируются.
func (s *Service) GetConnectStatus(ctx context.Context, clientID int64) (*ConnectStatus, error) {
	client, err := s.repo.GetClientByID(ctx, clientID)
	if err != nil {
		return nil, err
	}

	var acct *stripe.Account
	if client.StripeAccountID != "" {
		acct, err = s.provider.GetAccount(ctx, client.StripeAccountID)
		if err != nil {
			return nil, fmt.Errorf("fetch account state: %w", err)
		}
	}

	signals := connect.ExtractSignals(acct, client.StripeAccountID)
	state := connect.DeriveState(signals)

	return &ConnectStatus{
		State:            state,
		Connected:        state == connect.StateActive,
		AccountID:        client.StripeAccountID,
		ChargesEnabled:   signals.ChargesEnabled,
		DetailsSubmitted: signals.DetailsSubmitted,
		Signals:          signals,
	}, nil
}

// Onboarding содержит идентификатор подключённого счёта и ссылку онбординга.
type Onboarding struct {
	AccountID string
	URL       string
}

// StartOnboarding создаёт подключённый счёт при первом вызове
// и возвращает свежую ссылку онбординга.
func (s *Service) StartOnboarding(ctx context.Context, clientID int64) (*Onboarding, error) {
	client, err := s.repo.GetClientByID(ctx, clientID)
	if err != nil {
		return nil, err
	}

	accountID := client.StripeAccountID
	if accountID == "" {
		accountID, err = s.provider.CreateAccount(ctx, clientID)
		if err != nil {
			return nil, fmt.Errorf("create connected account: %w", err)
		}
		if err := s.repo.SetClientAccountID(ctx, clientID, accountID); err != nil {
			return nil, err
		}
	}

	url, err := s.provider.CreateAccountLink(ctx, accountID,
		s.baseURL+"/dashboard/connect/refresh",
		s.baseURL+"/dashboard/connect/return",
	)
	if err != nil {
		return nil, fmt.Errorf("create onboarding link: %w", err)
	}

	return &Onboarding{AccountID: accountID, URL: url}, nil
}

// ListClientPayments возвращает платежи клиента из леджера.
func (s *Service) ListClientPayments(ctx context.Context, clientID int64) ([]model.Payment, error) {
	return s.repo.ListPaymentsByClient(ctx, clientID)
}

// CreatePasswordReset создаёт токен сброса пароля и передаёт его в доставку.
// Для неизвестного логина ошибка не возвращается, чтобы не раскрывать
// существование учётной записи.
func (s *Service) CreatePasswordReset(ctx context.Context, login string) error {
	client, err := s.repo.GetClientByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			return nil
		}
		return err
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	rawToken := base64.RawURLEncoding.EncodeToString(raw)

	hash := hashResetToken(rawToken)
	if err := s.repo.CreateResetToken(ctx, client.ID, hash, time.Now().Add(resetTokenTTL)); err != nil {
		return err
	}

	if err := s.notifier.DeliverResetToken(ctx, client, rawToken); err != nil {
		return fmt.Errorf("deliver reset token: %w", err)
	}
	return nil
}

// ConfirmPasswordReset погашает токен сброса и устанавливает новый пароль.
// Токен гасится до смены пароля: повторное предъявление того же токена
// завершается ошибкой, даже если первый запрос ещё не ответил.
func (s *Service) ConfirmPasswordReset(ctx context.Context, rawToken, newPassword string) error {
	clientID, err := s.repo.ConsumeResetToken(ctx, hashResetToken(rawToken), time.Now())
	if err != nil {
		return err
	}

	client, err := s.repo.GetClientByID(ctx, clientID)
	if err != nil {
		return err
	}

	return s.repo.SetClientPassword(ctx, clientID, hashPassword(client.Login, newPassword))
}

func hashResetToken(rawToken string) []byte {
	sum := sha256.Sum256([]byte(rawToken))
	return sum[:]
}

// WebhookOutcome описывает результат обработки события вебхука.
type WebhookOutcome string

const (
	// WebhookOutcomeRecorded — платёж записан в леджер.
	WebhookOutcomeRecorded WebhookOutcome = "recorded"
	// WebhookOutcomeIgnored — тип события не используется, доставка подтверждена.
	WebhookOutcomeIgnored WebhookOutcome = "ignored"
	// WebhookOutcomeUnattributed — платёж не удалось отнести к клиенту, доставка подтверждена.
	WebhookOutcomeUnattributed WebhookOutcome = "unattributed"
	// WebhookOutcomeAccountChecked — обработано обновление подключённого счёта.
	WebhookOutcomeAccountChecked WebhookOutcome = "account_checked"
)

// ProcessWebhookEvent обрабатывает одно проверенное событие провайдера.
// Запись в леджер выполняет только событие завершённого расчёта;
// остальные типы подтверждаются без записи.
func (s *Service) ProcessWebhookEvent(ctx context.Context, event stripe.Event) (WebhookOutcome, error) {
	switch event.Type {
	case "checkout.session.completed":
		return s.processSettlement(ctx, event)
	case "account.updated":
		return s.processAccountUpdated(ctx, event)
	default:
		return WebhookOutcomeIgnored, nil
	}
}

func (s *Service) processSettlement(ctx context.Context, event stripe.Event) (WebhookOutcome, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return "", fmt.Errorf("parse checkout session: %w", err)
	}

	clientID, ok := clientIDFromMetadata(session.Metadata)
	if !ok {
		// Платёж нельзя отнести к клиенту; доставку подтверждаем,
		// иначе провайдер будет повторять её бесконечно.
		s.logger.Warn("settlement without client attribution",
			zap.String("session_id", session.ID))
		return WebhookOutcomeUnattributed, nil
	}

	client, err := s.repo.GetClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			s.logger.Warn("settlement for unknown client",
				zap.Int64("client_id", clientID),
				zap.String("session_id", session.ID))
			return WebhookOutcomeUnattributed, nil
		}
		return "", err
	}

	gross := session.AmountTotal
	if gross <= 0 {
		s.logger.Warn("settlement with non-positive amount",
			zap.Int64("amount", gross),
			zap.String("session_id", session.ID))
		return WebhookOutcomeIgnored, nil
	}

	settlementID := session.ID
	paymentIntentID := ""
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		settlementID = session.PaymentIntent.ID
		paymentIntentID = session.PaymentIntent.ID
	}

	feeCents, netCents := fee.Split(gross, s.feePercent)
	now := time.Now()

	payment := model.Payment{
		SettlementID:      settlementID,
		ClientID:          client.ID,
		AmountCents:       gross,
		Currency:          string(session.Currency),
		PlatformFeeCents:  feeCents,
		NetAmountCents:    netCents,
		Status:            model.PaymentStatusPaid,
		PaymentIntentID:   paymentIntentID,
		CheckoutSessionID: session.ID,
		PaidAt:            &now,
	}

	if err := s.repo.UpsertPaymentBySettlementID(ctx, payment); err != nil {
		return "", err
	}

	s.maybeNotifyReady(ctx, client, nil)

	return WebhookOutcomeRecorded, nil
}

func (s *Service) processAccountUpdated(ctx context.Context, event stripe.Event) (WebhookOutcome, error) {
	var acct stripe.Account
	if err := json.Unmarshal(event.Data.Raw, &acct); err != nil {
		return "", fmt.Errorf("parse account: %w", err)
	}

	client, err := s.repo.GetClientByAccountID(ctx, acct.ID)
	if err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			return WebhookOutcomeIgnored, nil
		}
		return "", err
	}

	s.maybeNotifyReady(ctx, client, &acct)

	return WebhookOutcomeAccountChecked, nil
}

// maybeNotifyReady один раз уведомляет клиента о готовности счёта к прямым выплатам.
// Отметка ставится только после успешной доставки уведомления; при сбое
// доставки отметки нет и повторная попытка произойдёт на следующем событии.
func (s *Service) maybeNotifyReady(ctx context.Context, client *model.Client, acct *stripe.Account) {
	if client.ReadyNotifiedAt != nil ||
		client.PayoutMode != model.PayoutModeDirect ||
		client.StripeAccountID == "" {
		return
	}

	if acct == nil {
		var err error
		acct, err = s.provider.GetAccount(ctx, client.StripeAccountID)
		if err != nil {
			s.logger.Warn("ready check: account fetch failed",
				zap.Error(err), zap.Int64("client_id", client.ID))
			return
		}
	}

	state := connect.DeriveState(connect.ExtractSignals(acct, client.StripeAccountID))
	if state != connect.StateActive {
		return
	}

	if err := s.notifier.NotifyReadyToReceive(ctx, client); err != nil {
		s.logger.Warn("ready notification failed",
			zap.Error(err), zap.Int64("client_id", client.ID))
		return
	}

	if err := s.repo.MarkClientReadyNotified(ctx, client.ID, time.Now()); err != nil {
		s.logger.Error("mark ready notified failed",
			zap.Error(err), zap.Int64("client_id", client.ID))
	}
}

func clientIDFromMetadata(metadata map[string]string) (int64, bool) {
	raw, ok := metadata["client_id"]
	if !ok || raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
