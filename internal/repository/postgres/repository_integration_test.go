//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	_ "github.com/jackc/pgx/v5/stdlib" //для goose миграций

	"github.com/shestoi/paygate/internal/repository"
	"github.com/shestoi/paygate/migrations"
)

func TestRepository_Integration(t *testing.T) {
	ctx := context.Background()

	// Поднимаем PostgreSQL контейнер через testcontainers
	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("payments"),
		postgres.WithUsername("payment_user"),
		postgres.WithPassword("payment_password"),
	)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, postgresContainer.Terminate(ctx))
	}()

	dsn, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	// Ждём готовности БД через ping с retry
	var pingErr error
	for i := 0; i < 10; i++ {
		pingErr = db.PingContext(ctx)
		if pingErr == nil {
			break
		}
		time.Sleep(1 * time.Second)
	}
	require.NoError(t, pingErr, "Failed to ping database after retries")

	// Миграции встроены в бинарник, путь к каталогу не нужен
	require.NoError(t, migrations.UpDB(ctx, db), "Failed to run migrations")

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	repo := NewRepository(pool)

	newOrder := func(t *testing.T, id string) {
		t.Helper()
		require.NoError(t, repo.CreateOrder(ctx, repository.Order{
			ID:       id,
			UserID:   "user-1",
			Amount:   decimal.RequireFromString("99.99"),
			Currency: "eur",
			Status:   repository.OrderStatusPending,
		}))
	}

	t.Run("CreateOrder and GetOrder", func(t *testing.T) {
		newOrder(t, "order-1")

		got, err := repo.GetOrder(ctx, "order-1")
		require.NoError(t, err)
		require.Equal(t, "user-1", got.UserID)
		require.True(t, decimal.RequireFromString("99.99").Equal(got.Amount))
		require.Equal(t, repository.OrderStatusPending, got.Status)
	})

	t.Run("GetOrder_NotFound", func(t *testing.T) {
		_, err := repo.GetOrder(ctx, "missing")
		require.True(t, errors.Is(err, repository.ErrNotFound), "Expected ErrNotFound, got: %v", err)
	})

	t.Run("attempt lifecycle writes outbox event", func(t *testing.T) {
		newOrder(t, "order-2")

		_, err := repo.BeginAttempt(ctx, repository.Transaction{
			ID:           "tx-2",
			OrderID:      "order-2",
			Provider:     "stripe",
			ResponseData: repository.ResponseData{"payment_method": "card"},
		})
		require.NoError(t, err)

		outcome, err := repo.CompleteAttempt(ctx, "tx-2", repository.Transition{
			TransactionStatus: repository.TransactionStatusSuccess,
			ProviderRef:       "pi_2",
			Merge:             repository.ResponseData{"payment_response": map[string]any{"status": "succeeded"}},
			OrderStatus:       repository.OrderStatusPaid,
			Event: &repository.OutboxEvent{
				EventID:     "evt-2",
				AggregateID: "order-2",
				Topic:       "payments.events",
				EventType:   "payment.succeeded",
				Payload:     []byte(`{"order_id":"order-2"}`),
			},
		})
		require.NoError(t, err)
		require.True(t, outcome.Applied)

		got, err := repo.GetTransaction(ctx, "tx-2")
		require.NoError(t, err)
		require.Equal(t, repository.TransactionStatusSuccess, got.Status)
		require.Equal(t, "pi_2", got.ProviderRef)
		require.Equal(t, "card", got.ResponseData["payment_method"])

		order, err := repo.GetOrder(ctx, "order-2")
		require.NoError(t, err)
		require.Equal(t, repository.OrderStatusPaid, order.Status)

		// повторная попытка по оплаченному заказу отклоняется
		_, err = repo.BeginAttempt(ctx, repository.Transaction{ID: "tx-2b", OrderID: "order-2", Provider: "stripe"})
		require.ErrorIs(t, err, repository.ErrOrderNotPending)

		events, err := repo.GetPendingOutboxEvents(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.JSONEq(t, `{"order_id":"order-2"}`, string(events[0].Payload))

		// строка, заблокированная чужой транзакцией, всё равно видна диспетчеру
		lockTx, err := pool.Begin(ctx)
		require.NoError(t, err)
		_, err = lockTx.Exec(ctx, `SELECT 1 FROM outbox_events WHERE event_id = $1 FOR UPDATE`, "evt-2")
		require.NoError(t, err)
		events, err = repo.GetPendingOutboxEvents(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.NoError(t, lockTx.Rollback(ctx))

		require.NoError(t, repo.MarkOutboxEventFailed(ctx, "evt-2", "broker down"))
		require.NoError(t, repo.ResetOutboxEventPending(ctx, "evt-2"))
		require.NoError(t, repo.MarkOutboxEventSent(ctx, "evt-2"))
		events, err = repo.GetPendingOutboxEvents(ctx, 10)
		require.NoError(t, err)
		require.Empty(t, events)
	})

	t.Run("Reconcile by provider reference is applied once", func(t *testing.T) {
		newOrder(t, "order-3")
		_, err := repo.BeginAttempt(ctx, repository.Transaction{ID: "tx-3", OrderID: "order-3", Provider: "stripe"})
		require.NoError(t, err)
		_, err = repo.ReconcileByID(ctx, "tx-3", func(repository.Transaction, repository.Order) (*repository.Transition, error) {
			return &repository.Transition{TransactionStatus: repository.TransactionStatusPending, ProviderRef: "pi_3"}, nil
		})
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			applied int
		)
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcome, err := repo.Reconcile(ctx, "pi_3", func(tx repository.Transaction, _ repository.Order) (*repository.Transition, error) {
					if tx.Status.IsTerminal() {
						return nil, nil
					}
					return &repository.Transition{TransactionStatus: repository.TransactionStatusFailed, OrderStatus: repository.OrderStatusFailed}, nil
				})
				require.NoError(t, err)
				if outcome.Applied {
					mu.Lock()
					applied++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		require.Equal(t, 1, applied)

		_, err = repo.Reconcile(ctx, "pi_unknown", func(repository.Transaction, repository.Order) (*repository.Transition, error) {
			return nil, nil
		})
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("ListOrders filters by user and status", func(t *testing.T) {
		orders, err := repo.ListOrders(ctx, repository.OrderFilter{UserID: "user-1", Status: repository.OrderStatusPaid})
		require.NoError(t, err)
		require.Len(t, orders, 1)
		require.Equal(t, "order-2", orders[0].ID)

		txs, err := repo.ListTransactionsByOrder(ctx, "order-2")
		require.NoError(t, err)
		require.Len(t, txs, 1)
	})
}
