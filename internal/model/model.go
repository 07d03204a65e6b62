// Package model содержит доменные сущности сервиса paytapper.
package model

import "time"

// PayoutMode определяет способ расчётов с клиентом.
type PayoutMode string

const (
	// PayoutModePlatform — платёж остаётся на счёте платформы.
	PayoutModePlatform PayoutMode = "platform"
	// PayoutModeDirect — платёж уходит на подключённый счёт клиента.
	PayoutModeDirect PayoutMode = "direct"
)

// Client представляет зарегистрированного клиента платформы чаевых.
type Client struct {
	ID              int64
	Login           string
	PasswordHash    []byte
	DisplayName     string
	PayoutMode      PayoutMode
	StripeAccountID string
	ReadyNotifiedAt *time.Time
	CreatedAt       time.Time
}

// PaymentStatus описывает статус платежа в леджере.
type PaymentStatus string

const (
	PaymentStatusCreated  PaymentStatus = "created"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Payment описывает один завершённый платёж.
// SettlementID — уникальный идентификатор расчёта от провайдера,
// он же ключ идемпотентности и не меняется после первой записи.
type Payment struct {
	SettlementID      string
	ClientID          int64
	AmountCents       int64
	Currency          string
	PlatformFeeCents  int64
	NetAmountCents    int64
	Status            PaymentStatus
	PaymentIntentID   string
	CheckoutSessionID string
	CreatedAt         time.Time
	PaidAt            *time.Time
}

// RoutingMode определяет выбранный маршрут платежа.
type RoutingMode string

const (
	RoutingModePlatform RoutingMode = "platform"
	RoutingModeConnect  RoutingMode = "connect"
)

// RoutingDecision содержит решение о маршрутизации платежа.
// Для режима connect DestinationAccountID непустой, а состояние
// счёта на момент решения было active.
type RoutingDecision struct {
	Mode                 RoutingMode
	DestinationAccountID string
	ApplicationFeeCents  int64
}
