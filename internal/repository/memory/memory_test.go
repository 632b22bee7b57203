package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/shestoi/paygate/internal/repository"
)

func seedOrder(t *testing.T, repo *MemoryRepository, id string, status repository.OrderStatus) {
	t.Helper()
	require.NoError(t, repo.CreateOrder(context.Background(), repository.Order{
		ID:       id,
		UserID:   "user-1",
		Amount:   decimal.RequireFromString("99.99"),
		Currency: "eur",
		Status:   status,
	}))
}

func TestMemoryRepository_BeginAttempt(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seedOrder(t, repo, "order-1", repository.OrderStatusPending)
	seedOrder(t, repo, "order-2", repository.OrderStatusPaid)

	t.Run("pending order gets a pending transaction", func(t *testing.T) {
		order, err := repo.BeginAttempt(ctx, repository.Transaction{
			ID:           "tx-1",
			OrderID:      "order-1",
			Provider:     "stripe",
			ResponseData: repository.ResponseData{"payment_method": "card"},
		})
		require.NoError(t, err)
		require.Equal(t, "order-1", order.ID)

		tx, err := repo.GetTransaction(ctx, "tx-1")
		require.NoError(t, err)
		require.Equal(t, repository.TransactionStatusPending, tx.Status)
		require.Equal(t, "card", tx.ResponseData["payment_method"])
	})

	t.Run("paid order is rejected without a transaction", func(t *testing.T) {
		order, err := repo.BeginAttempt(ctx, repository.Transaction{ID: "tx-2", OrderID: "order-2"})
		require.ErrorIs(t, err, repository.ErrOrderNotPending)
		require.Equal(t, repository.OrderStatusPaid, order.Status)

		_, err = repo.GetTransaction(ctx, "tx-2")
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("missing order", func(t *testing.T) {
		_, err := repo.BeginAttempt(ctx, repository.Transaction{ID: "tx-3", OrderID: "missing"})
		require.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestMemoryRepository_CompleteAttempt(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seedOrder(t, repo, "order-1", repository.OrderStatusPending)
	_, err := repo.BeginAttempt(ctx, repository.Transaction{ID: "tx-1", OrderID: "order-1"})
	require.NoError(t, err)

	success := repository.Transition{
		TransactionStatus: repository.TransactionStatusSuccess,
		ProviderRef:       "pi_123",
		Merge:             repository.ResponseData{"payment_response": map[string]any{"amount": 9999}},
		OrderStatus:       repository.OrderStatusPaid,
		Event:             &repository.OutboxEvent{EventID: "evt-1", AggregateID: "order-1", EventType: "payment.succeeded"},
	}

	outcome, err := repo.CompleteAttempt(ctx, "tx-1", success)
	require.NoError(t, err)
	require.True(t, outcome.Applied)
	require.Equal(t, repository.TransactionStatusSuccess, outcome.Transaction.Status)
	require.Equal(t, repository.OrderStatusPaid, outcome.Order.Status)

	// повтор по уже терминальной транзакции ничего не меняет
	failed := repository.Transition{
		TransactionStatus: repository.TransactionStatusFailed,
		OrderStatus:       repository.OrderStatusFailed,
		Event:             &repository.OutboxEvent{EventID: "evt-2"},
	}
	outcome, err = repo.CompleteAttempt(ctx, "tx-1", failed)
	require.NoError(t, err)
	require.False(t, outcome.Applied)
	require.Equal(t, repository.TransactionStatusSuccess, outcome.Transaction.Status)

	order, err := repo.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, repository.OrderStatusPaid, order.Status)

	events, err := repo.GetPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "evt-1", events[0].EventID)

	// ссылка провайдера теперь ищется через Reconcile
	outcome, err = repo.Reconcile(ctx, "pi_123", func(tx repository.Transaction, order repository.Order) (*repository.Transition, error) {
		require.Equal(t, "tx-1", tx.ID)
		return nil, nil
	})
	require.NoError(t, err)
	require.False(t, outcome.Applied)
}

func TestMemoryRepository_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown reference", func(t *testing.T) {
		repo := NewMemoryRepository()
		_, err := repo.Reconcile(ctx, "pi_missing", func(repository.Transaction, repository.Order) (*repository.Transition, error) {
			t.Fatal("fn must not be called")
			return nil, nil
		})
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("fn error rolls back", func(t *testing.T) {
		repo := NewMemoryRepository()
		seedOrder(t, repo, "order-1", repository.OrderStatus("pending"))
		_, err := repo.BeginAttempt(ctx, repository.Transaction{ID: "tx-1", OrderID: "order-1"})
		require.NoError(t, err)

		boom := errors.New("boom")
		_, err = repo.ReconcileByID(ctx, "tx-1", func(repository.Transaction, repository.Order) (*repository.Transition, error) {
			return nil, boom
		})
		require.ErrorIs(t, err, boom)

		tx, err := repo.GetTransaction(ctx, "tx-1")
		require.NoError(t, err)
		require.Equal(t, repository.TransactionStatusPending, tx.Status)
	})

	t.Run("terminal order is not overwritten", func(t *testing.T) {
		repo := NewMemoryRepository()
		seedOrder(t, repo, "order-1", repository.OrderStatusPending)
		_, err := repo.BeginAttempt(ctx, repository.Transaction{ID: "tx-old", OrderID: "order-1"})
		require.NoError(t, err)
		_, err = repo.BeginAttempt(ctx, repository.Transaction{ID: "tx-new", OrderID: "order-1"})
		require.NoError(t, err)

		_, err = repo.CompleteAttempt(ctx, "tx-new", repository.Transition{
			TransactionStatus: repository.TransactionStatusFailed,
			OrderStatus:       repository.OrderStatusFailed,
		})
		require.NoError(t, err)

		outcome, err := repo.CompleteAttempt(ctx, "tx-old", repository.Transition{
			TransactionStatus: repository.TransactionStatusSuccess,
			OrderStatus:       repository.OrderStatusPaid,
		})
		require.NoError(t, err)
		require.True(t, outcome.Applied)
		require.Equal(t, repository.TransactionStatusSuccess, outcome.Transaction.Status)
		require.Equal(t, repository.OrderStatusFailed, outcome.Order.Status)
	})

	t.Run("provider reference is unique", func(t *testing.T) {
		repo := NewMemoryRepository()
		seedOrder(t, repo, "order-1", repository.OrderStatusPending)
		seedOrder(t, repo, "order-2", repository.OrderStatusPending)
		_, err := repo.BeginAttempt(ctx, repository.Transaction{ID: "tx-1", OrderID: "order-1"})
		require.NoError(t, err)
		_, err = repo.BeginAttempt(ctx, repository.Transaction{ID: "tx-2", OrderID: "order-2"})
		require.NoError(t, err)

		_, err = repo.CompleteAttempt(ctx, "tx-1", repository.Transition{TransactionStatus: repository.TransactionStatusSuccess, ProviderRef: "pi_1"})
		require.NoError(t, err)
		_, err = repo.CompleteAttempt(ctx, "tx-2", repository.Transition{TransactionStatus: repository.TransactionStatusSuccess, ProviderRef: "pi_1"})
		require.ErrorIs(t, err, repository.ErrDuplicateProviderRef)
	})
}

func TestMemoryRepository_ConcurrentCompletionAppliesOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seedOrder(t, repo, "order-1", repository.OrderStatusPending)
	_, err := repo.BeginAttempt(ctx, repository.Transaction{ID: "tx-1", OrderID: "order-1"})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := repository.TransactionStatusSuccess
			orderStatus := repository.OrderStatusPaid
			if i%2 == 1 {
				status = repository.TransactionStatusFailed
				orderStatus = repository.OrderStatusFailed
			}
			outcome, err := repo.CompleteAttempt(ctx, "tx-1", repository.Transition{TransactionStatus: status, OrderStatus: orderStatus})
			require.NoError(t, err)
			if outcome.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, applied)

	tx, err := repo.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	order, err := repo.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	// транзакция и заказ всегда согласованы
	if tx.Status == repository.TransactionStatusSuccess {
		require.Equal(t, repository.OrderStatusPaid, order.Status)
	} else {
		require.Equal(t, repository.OrderStatusFailed, order.Status)
	}
}

func TestMemoryRepository_ListOrders(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, status := range []repository.OrderStatus{repository.OrderStatusPending, repository.OrderStatusPaid, repository.OrderStatusPending} {
		require.NoError(t, repo.CreateOrder(ctx, repository.Order{
			ID:        string(rune('a' + i)),
			UserID:    "user-1",
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	orders, err := repo.ListOrders(ctx, repository.OrderFilter{UserID: "user-1", Status: repository.OrderStatusPending})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, "c", orders[0].ID)
	require.Equal(t, "a", orders[1].ID)

	orders, err = repo.ListOrders(ctx, repository.OrderFilter{UserID: "user-1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, "b", orders[0].ID)

	orders, err = repo.ListOrders(ctx, repository.OrderFilter{UserID: "someone-else"})
	require.NoError(t, err)
	require.Empty(t, orders)
}
