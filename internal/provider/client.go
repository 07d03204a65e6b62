// Package provider предоставляет клиент для платёжного провайдера Stripe.
package provider

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v82"
)

const requestTimeout = 5 * time.Second

// Client инкапсулирует обращения к API Stripe.
type Client struct {
	sc *stripe.Client
}

// NewClient создаёт клиент Stripe с указанным секретным ключом.
func NewClient(secretKey string) *Client {
	return &Client{
		sc: stripe.NewClient(secretKey),
	}
}

// CheckoutParams описывает параметры создания сессии оплаты.
// Для режима connect заполняются ApplicationFeeCents и DestinationAccountID,
// и провайдер переводит остаток на подключённый счёт.
type CheckoutParams struct {
	ClientID             int64
	AmountCents          int64
	Currency             string
	Description          string
	SuccessURL           string
	CancelURL            string
	ApplicationFeeCents  int64
	DestinationAccountID string
}

// CheckoutSession содержит результат создания сессии оплаты.
type CheckoutSession struct {
	ID  string
	URL string
}

// GetAccount запрашивает свежий снимок подключённого счёта.
// Результат не кэшируется: состояние счёта может измениться в любой момент.
func (c *Client) GetAccount(ctx context.Context, accountID string) (*stripe.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	acct, err := c.sc.V1Accounts.GetByID(ctx, accountID, &stripe.AccountRetrieveParams{})
	if err != nil {
		return nil, fmt.Errorf("retrieve account %s: %w", accountID, err)
	}
	return acct, nil
}

// CreateAccount создаёт подключённый счёт Express для клиента платформы.
func (c *Client) CreateAccount(ctx context.Context, clientID int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	params := &stripe.AccountCreateParams{
		Type: stripe.String(string(stripe.AccountTypeExpress)),
		Metadata: map[string]string{
			"client_id": strconv.FormatInt(clientID, 10),
		},
	}

	acct, err := c.sc.V1Accounts.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("create account: %w", err)
	}
	return acct.ID, nil
}

// CreateAccountLink создаёт одноразовую ссылку онбординга для подключённого счёта.
func (c *Client) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	params := &stripe.AccountLinkCreateParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String("account_onboarding"),
	}

	link, err := c.sc.V1AccountLinks.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("create account link: %w", err)
	}
	return link.URL, nil
}

// CreateCheckoutSession создаёт сессию оплаты чаевых.
func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	metadata := map[string]string{
		"client_id": strconv.FormatInt(p.ClientID, 10),
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		Metadata:   metadata,
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{{
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency: stripe.String(p.Currency),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripe.String(p.Description),
				},
				UnitAmount: stripe.Int64(p.AmountCents),
			},
			Quantity: stripe.Int64(1),
		}},
		PaymentIntentData: &stripe.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: metadata,
		},
	}

	if p.DestinationAccountID != "" {
		params.PaymentIntentData.ApplicationFeeAmount = stripe.Int64(p.ApplicationFeeCents)
		params.PaymentIntentData.TransferData = &stripe.CheckoutSessionCreatePaymentIntentDataTransferDataParams{
			Destination: stripe.String(p.DestinationAccountID),
		}
	}

	session, err := c.sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	return &CheckoutSession{
		ID:  session.ID,
		URL: session.URL,
	}, nil
}
