// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/Stan7771213/paytapper-sub000/internal/model"
	"github.com/Stan7771213/paytapper-sub000/internal/validation"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrClientExists возвращается при попытке создать клиента с уже существующим логином.
var (
	ErrClientExists = errors.New("client already exists")
	// ErrClientNotFound возвращается, если клиент не найден.
	ErrClientNotFound = errors.New("client not found")
	// ErrMalformedSettlementID возвращается при недопустимом формате идентификатора расчёта.
	ErrMalformedSettlementID = errors.New("malformed settlement id")
	// ErrResetTokenInvalid возвращается, если токен сброса не найден, уже использован или истёк.
	ErrResetTokenInvalid = errors.New("reset token invalid")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateClient создаёт нового клиента платформы.
func (r *PostgresRepository) CreateClient(ctx context.Context, login string, passwordHash []byte, displayName string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO clients (login, password_hash, display_name) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, displayName,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrClientExists, login)
		}
		return 0, fmt.Errorf("create client: %w", err)
	}
	return id, nil
}

const clientColumns = `id, login, password_hash, display_name, payout_mode,
	 COALESCE(stripe_account_id, ''), ready_notified_at, created_at`

func scanClient(row pgx.Row) (*model.Client, error) {
	var c model.Client
	err := row.Scan(&c.ID, &c.Login, &c.PasswordHash, &c.DisplayName, &c.PayoutMode,
		&c.StripeAccountID, &c.ReadyNotifiedAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("scan client: %w", err)
	}
	return &c, nil
}

// GetClientByLogin возвращает клиента по логину.
func (r *PostgresRepository) GetClientByLogin(ctx context.Context, login string) (*model.Client, error) {
	return scanClient(r.pool.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE login = $1`,
		login,
	))
}

// GetClientByID возвращает клиента по идентификатору.
func (r *PostgresRepository) GetClientByID(ctx context.Context, id int64) (*model.Client, error) {
	return scanClient(r.pool.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1`,
		id,
	))
}

// GetClientByAccountID возвращает клиента по идентификатору подключённого счёта.
func (r *PostgresRepository) GetClientByAccountID(ctx context.Context, accountID string) (*model.Client, error) {
	return scanClient(r.pool.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE stripe_account_id = $1`,
		accountID,
	))
}

// SetClientAccountID сохраняет идентификатор подключённого счёта клиента.
func (r *PostgresRepository) SetClientAccountID(ctx context.Context, clientID int64, accountID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE clients SET stripe_account_id = $2 WHERE id = $1`,
		clientID, accountID,
	)
	if err != nil {
		return fmt.Errorf("set account id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

// SetClientPassword обновляет хэш пароля клиента.
func (r *PostgresRepository) SetClientPassword(ctx context.Context, clientID int64, passwordHash []byte) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE clients SET password_hash = $2 WHERE id = $1`,
		clientID, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

// MarkClientReadyNotified устанавливает отметку об отправленном уведомлении о готовности счёта.
// Отметка ставится один раз; повторные вызовы ничего не меняют.
func (r *PostgresRepository) MarkClientReadyNotified(ctx context.Context, clientID int64, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE clients SET ready_notified_at = $2 WHERE id = $1 AND ready_notified_at IS NULL`,
		clientID, at,
	)
	if err != nil {
		return fmt.Errorf("mark ready notified: %w", err)
	}
	return nil
}

// UpsertPaymentBySettlementID атомарно записывает платёж по ключу идентификатора расчёта.
// Повторная доставка того же идентификатора не создаёт второй записи,
// не сбрасывает created_at и не перезаписывает уже установленный paid_at.
func (r *PostgresRepository) UpsertPaymentBySettlementID(ctx context.Context, p model.Payment) error {
	if !validation.IsValidSettlementID(p.SettlementID) {
		return fmt.Errorf("%w: %q", ErrMalformedSettlementID, p.SettlementID)
	}

	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO payments (settlement_id, client_id, amount_cents, currency,
			                       platform_fee_cents, net_amount_cents, status,
			                       payment_intent_id, checkout_session_id, paid_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (settlement_id) DO UPDATE SET
			     status = EXCLUDED.status,
			     amount_cents = EXCLUDED.amount_cents,
			     currency = EXCLUDED.currency,
			     platform_fee_cents = EXCLUDED.platform_fee_cents,
			     net_amount_cents = EXCLUDED.net_amount_cents,
			     payment_intent_id = CASE WHEN payments.payment_intent_id = ''
			                              THEN EXCLUDED.payment_intent_id
			                              ELSE payments.payment_intent_id END,
			     checkout_session_id = CASE WHEN payments.checkout_session_id = ''
			                                THEN EXCLUDED.checkout_session_id
			                                ELSE payments.checkout_session_id END,
			     paid_at = COALESCE(payments.paid_at, EXCLUDED.paid_at)`,
			p.SettlementID, p.ClientID, p.AmountCents, p.Currency,
			p.PlatformFeeCents, p.NetAmountCents, string(p.Status),
			p.PaymentIntentID, p.CheckoutSessionID, p.PaidAt,
		)
		if err != nil {
			return fmt.Errorf("upsert payment: %w", err)
		}
		return nil
	})
}

const paymentColumns = `settlement_id, client_id, amount_cents, currency,
	 platform_fee_cents, net_amount_cents, status,
	 payment_intent_id, checkout_session_id, created_at, paid_at`

func scanPayments(rows pgx.Rows) ([]model.Payment, error) {
	defer rows.Close()

	var res []model.Payment
	for rows.Next() {
		var (
			p      model.Payment
			status string
		)
		if err := rows.Scan(&p.SettlementID, &p.ClientID, &p.AmountCents, &p.Currency,
			&p.PlatformFeeCents, &p.NetAmountCents, &status,
			&p.PaymentIntentID, &p.CheckoutSessionID, &p.CreatedAt, &p.PaidAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.Status = model.PaymentStatus(status)
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListPayments возвращает все платежи леджера.
func (r *PostgresRepository) ListPayments(ctx context.Context) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	return scanPayments(rows)
}

// ListPaymentsByClient возвращает платежи указанного клиента.
func (r *PostgresRepository) ListPaymentsByClient(ctx context.Context, clientID int64) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE client_id = $1 ORDER BY created_at DESC`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("select payments by client: %w", err)
	}
	return scanPayments(rows)
}

// CreateResetToken сохраняет хэш токена сброса пароля и срок его действия.
// Сырой токен в хранилище не попадает.
func (r *PostgresRepository) CreateResetToken(ctx context.Context, clientID int64, tokenHash []byte, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO reset_tokens (client_id, token_hash, expires_at) VALUES ($1, $2, $3)`,
		clientID, tokenHash, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("create reset token: %w", err)
	}
	return nil
}

// ConsumeResetToken одноразово погашает токен сброса по его хэшу.
// Обновление строки — точка линеаризации: второй вызов с тем же хэшем
// не найдёт непогашенной строки и вернёт ErrResetTokenInvalid.
func (r *PostgresRepository) ConsumeResetToken(ctx context.Context, tokenHash []byte, now time.Time) (int64, error) {
	var clientID int64
	err := r.pool.QueryRow(ctx,
		`UPDATE reset_tokens
		 SET used_at = $2
		 WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		 RETURNING client_id`,
		tokenHash, now,
	).Scan(&clientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrResetTokenInvalid
		}
		return 0, fmt.Errorf("consume reset token: %w", err)
	}
	return clientID, nil
}
