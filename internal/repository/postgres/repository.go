package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/shestoi/paygate/internal/repository"
)

// Repository реализует repository.Repository используя PostgreSQL
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository создаёт новый PostgreSQL репозиторий
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool: pool,
	}
}

const orderColumns = `id, user_id, amount::text, currency, status, created_at, updated_at`

const transactionColumns = `id, order_id, payment_provider, COALESCE(provider_ref, ''), status, response_data, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (repository.Order, error) {
	var (
		order  repository.Order
		amount string
		status string
	)
	if err := row.Scan(&order.ID, &order.UserID, &amount, &order.Currency, &status, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return repository.Order{}, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return repository.Order{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	order.Amount = parsed
	order.Status = repository.OrderStatus(status)
	return order, nil
}

func scanTransaction(row rowScanner) (repository.Transaction, error) {
	var (
		tx     repository.Transaction
		status string
		raw    []byte
	)
	if err := row.Scan(&tx.ID, &tx.OrderID, &tx.Provider, &tx.ProviderRef, &status, &raw, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
		return repository.Transaction{}, err
	}
	tx.Status = repository.TransactionStatus(status)
	tx.ResponseData = repository.ResponseData{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &tx.ResponseData); err != nil {
			return repository.Transaction{}, fmt.Errorf("decode response_data of %s: %w", tx.ID, err)
		}
	}
	return tx, nil
}

// CreateOrder сохраняет заказ в PostgreSQL
func (r *Repository) CreateOrder(ctx context.Context, order repository.Order) error {
	createdAt := order.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO orders (id, user_id, amount, currency, status, created_at, updated_at)
		 VALUES ($1, $2, $3::numeric, $4, $5, $6, $6)`,
		order.ID, order.UserID, order.Amount.String(), order.Currency, string(order.Status), createdAt)
	return err
}

// GetOrder получает заказ по ID из PostgreSQL
func (r *Repository) GetOrder(ctx context.Context, id string) (repository.Order, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Order{}, repository.ErrNotFound
		}
		return repository.Order{}, err
	}
	return order, nil
}

// ListOrders возвращает заказы по фильтру, от новых к старым
func (r *Repository) ListOrders(ctx context.Context, filter repository.OrderFilter) ([]repository.Order, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	// пустые фильтры отключаются через ($n = '')
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE ($1 = '' OR user_id = $1)
		   AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3 OFFSET $4`,
		filter.UserID, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]repository.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// BeginAttempt блокирует заказ и создаёт pending транзакцию
// Проверка статуса и вставка идут под SELECT ... FOR UPDATE, поэтому два
// параллельных запроса не создадут попытку для уже оплаченного заказа
func (r *Repository) BeginAttempt(ctx context.Context, t repository.Transaction) (repository.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return repository.Order{}, err
	}
	defer tx.Rollback(ctx)

	order, err := scanOrder(tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, t.OrderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Order{}, repository.ErrNotFound
		}
		return repository.Order{}, err
	}
	if order.Status != repository.OrderStatusPending {
		return order, repository.ErrOrderNotPending
	}

	data, err := json.Marshal(t.ResponseData.Merge(nil))
	if err != nil {
		return repository.Order{}, fmt.Errorf("encode response_data: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO transactions (id, order_id, payment_provider, status, response_data)
		 VALUES ($1, $2, $3, $4, $5::jsonb)`,
		t.ID, t.OrderID, t.Provider, string(repository.TransactionStatusPending), string(data))
	if err != nil {
		return repository.Order{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return repository.Order{}, err
	}
	return order, nil
}

// CompleteAttempt применяет терминальный переход к транзакции по id
func (r *Repository) CompleteAttempt(ctx context.Context, transactionID string, t repository.Transition) (repository.Outcome, error) {
	return r.ReconcileByID(ctx, transactionID, func(tx repository.Transaction, order repository.Order) (*repository.Transition, error) {
		if tx.Status.IsTerminal() {
			return nil, nil
		}
		return &t, nil
	})
}

// Reconcile находит транзакцию по ссылке провайдера и применяет решение fn
func (r *Repository) Reconcile(ctx context.Context, providerRef string, fn repository.ReconcileFunc) (repository.Outcome, error) {
	return r.reconcile(ctx, `t.provider_ref = $1`, providerRef, fn)
}

// ReconcileByID находит транзакцию по id и применяет решение fn
func (r *Repository) ReconcileByID(ctx context.Context, transactionID string, fn repository.ReconcileFunc) (repository.Outcome, error) {
	return r.reconcile(ctx, `t.id = $1`, transactionID, fn)
}

// reconcile блокирует строку транзакции и строку заказа одним запросом,
// вызывает fn и пишет транзакцию, заказ и событие outbox в одной транзакции БД
func (r *Repository) reconcile(ctx context.Context, where string, key string, fn repository.ReconcileFunc) (repository.Outcome, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return repository.Outcome{}, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT t.id, t.order_id, t.payment_provider, COALESCE(t.provider_ref, ''), t.status, t.response_data, t.created_at, t.updated_at,
		        o.id, o.user_id, o.amount::text, o.currency, o.status, o.created_at, o.updated_at
		 FROM transactions t
		 JOIN orders o ON o.id = t.order_id
		 WHERE `+where+`
		 FOR UPDATE OF t, o`, key)

	var (
		current  repository.Transaction
		order    repository.Order
		txStatus string
		raw      []byte
		amount   string
		orderSt  string
	)
	err = row.Scan(&current.ID, &current.OrderID, &current.Provider, &current.ProviderRef, &txStatus, &raw, &current.CreatedAt, &current.UpdatedAt,
		&order.ID, &order.UserID, &amount, &order.Currency, &orderSt, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Outcome{}, repository.ErrNotFound
		}
		return repository.Outcome{}, err
	}
	current.Status = repository.TransactionStatus(txStatus)
	order.Status = repository.OrderStatus(orderSt)
	if order.Amount, err = decimal.NewFromString(amount); err != nil {
		return repository.Outcome{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	current.ResponseData = repository.ResponseData{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &current.ResponseData); err != nil {
			return repository.Outcome{}, fmt.Errorf("decode response_data of %s: %w", current.ID, err)
		}
	}

	transition, err := fn(current, order)
	if err != nil {
		return repository.Outcome{}, err
	}
	if transition == nil {
		return repository.Outcome{Transaction: current, Order: order, Applied: false}, nil
	}

	now := time.Now().UTC()
	updatedTx, updatedOrder := transition.Apply(current, order, now)

	data, err := json.Marshal(updatedTx.ResponseData)
	if err != nil {
		return repository.Outcome{}, fmt.Errorf("encode response_data: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE transactions
		 SET status = $2, provider_ref = NULLIF($3, ''), response_data = $4::jsonb, updated_at = $5
		 WHERE id = $1`,
		updatedTx.ID, string(updatedTx.Status), updatedTx.ProviderRef, string(data), now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return repository.Outcome{}, repository.ErrDuplicateProviderRef
		}
		return repository.Outcome{}, err
	}

	if updatedOrder.Status != order.Status {
		_, err = tx.Exec(ctx,
			`UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`,
			updatedOrder.ID, string(updatedOrder.Status), now)
		if err != nil {
			return repository.Outcome{}, err
		}
	}

	if transition.Event != nil {
		ev := transition.Event
		_, err = tx.Exec(ctx,
			`INSERT INTO outbox_events (event_id, aggregate_id, topic, event_type, payload, status, created_at)
			 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)`,
			ev.EventID, ev.AggregateID, ev.Topic, ev.EventType, string(ev.Payload), repository.OutboxStatusPending, now)
		if err != nil {
			return repository.Outcome{}, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return repository.Outcome{}, err
	}
	return repository.Outcome{Transaction: updatedTx, Order: updatedOrder, Applied: true}, nil
}

// GetTransaction получает транзакцию по ID
func (r *Repository) GetTransaction(ctx context.Context, id string) (repository.Transaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Transaction{}, repository.ErrNotFound
		}
		return repository.Transaction{}, err
	}
	return t, nil
}

// ListTransactionsByOrder возвращает попытки заказа от старых к новым
func (r *Repository) ListTransactionsByOrder(ctx context.Context, orderID string) ([]repository.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE order_id = $1
		 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]repository.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPendingOutboxEvents возвращает до limit pending событий в порядке создания.
// Строки не захватываются: рассчитано на один диспетчер на базу.
func (r *Repository) GetPendingOutboxEvents(ctx context.Context, limit int) ([]repository.OutboxEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT event_id, aggregate_id, topic, event_type, payload::text, status, attempts, COALESCE(last_error, ''), created_at
		 FROM outbox_events
		 WHERE status = $1
		 ORDER BY created_at
		 LIMIT $2`,
		repository.OutboxStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]repository.OutboxEvent, 0)
	for rows.Next() {
		var (
			ev      repository.OutboxEvent
			payload string
		)
		if err := rows.Scan(&ev.EventID, &ev.AggregateID, &ev.Topic, &ev.EventType, &payload, &ev.Status, &ev.Attempts, &ev.LastError, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Payload = []byte(payload)
		events = append(events, ev)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// MarkOutboxEventSent отмечает событие отправленным
func (r *Repository) MarkOutboxEventSent(ctx context.Context, eventID string) error {
	return r.execOutbox(ctx,
		`UPDATE outbox_events SET status = 'sent', sent_at = now() WHERE event_id = $1`, eventID)
}

// MarkOutboxEventFailed отмечает событие проваленным и запоминает ошибку
func (r *Repository) MarkOutboxEventFailed(ctx context.Context, eventID string, errMsg string) error {
	return r.execOutbox(ctx,
		`UPDATE outbox_events SET status = 'failed', attempts = attempts + 1, last_error = $2 WHERE event_id = $1`, eventID, errMsg)
}

// ResetOutboxEventPending возвращает событие в очередь
func (r *Repository) ResetOutboxEventPending(ctx context.Context, eventID string) error {
	return r.execOutbox(ctx,
		`UPDATE outbox_events SET status = 'pending' WHERE event_id = $1`, eventID)
}

func (r *Repository) execOutbox(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
