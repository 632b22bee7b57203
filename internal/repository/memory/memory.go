package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shestoi/paygate/internal/repository"
)

// MemoryRepository реализует repository.Repository используя in-memory хранилище.
// Используется для разработки (STORAGE=memory) и тестов сервисного слоя.
// Один мьютекс на всё хранилище даёт ту же атомарность "прочитать, решить, записать",
// что и SELECT ... FOR UPDATE в PostgreSQL.
type MemoryRepository struct {
	mu           sync.Mutex
	orders       map[string]repository.Order
	transactions map[string]repository.Transaction
	byRef        map[string]string // provider_ref -> transaction id
	outbox       []repository.OutboxEvent
	now          func() time.Time
}

// NewMemoryRepository создаёт новый in-memory репозиторий
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:       make(map[string]repository.Order),
		transactions: make(map[string]repository.Transaction),
		byRef:        make(map[string]string),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder сохраняет заказ в памяти
func (r *MemoryRepository) CreateOrder(ctx context.Context, order repository.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	now := r.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt
	r.orders[order.ID] = order
	return nil
}

// GetOrder получает заказ по ID
func (r *MemoryRepository) GetOrder(ctx context.Context, id string) (repository.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, exists := r.orders[id]
	if !exists {
		return repository.Order{}, repository.ErrNotFound
	}
	return order, nil
}

// ListOrders возвращает заказы по фильтру, от новых к старым
func (r *MemoryRepository) ListOrders(ctx context.Context, filter repository.OrderFilter) ([]repository.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]repository.Order, 0)
	for _, o := range r.orders {
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Offset >= len(out) {
		return []repository.Order{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// BeginAttempt создаёт pending транзакцию, если заказ в pending
func (r *MemoryRepository) BeginAttempt(ctx context.Context, tx repository.Transaction) (repository.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, exists := r.orders[tx.OrderID]
	if !exists {
		return repository.Order{}, repository.ErrNotFound
	}
	if order.Status != repository.OrderStatusPending {
		return order, repository.ErrOrderNotPending
	}
	if _, exists := r.transactions[tx.ID]; exists {
		return repository.Order{}, fmt.Errorf("transaction %s already exists", tx.ID)
	}

	now := r.now()
	tx.Status = repository.TransactionStatusPending
	tx.CreatedAt = now
	tx.UpdatedAt = now
	tx.ResponseData = tx.ResponseData.Merge(nil)
	r.transactions[tx.ID] = tx
	return order, nil
}

// CompleteAttempt применяет терминальный переход к транзакции по id
func (r *MemoryRepository) CompleteAttempt(ctx context.Context, transactionID string, t repository.Transition) (repository.Outcome, error) {
	return r.ReconcileByID(ctx, transactionID, func(tx repository.Transaction, order repository.Order) (*repository.Transition, error) {
		if tx.Status.IsTerminal() {
			return nil, nil
		}
		return &t, nil
	})
}

// Reconcile находит транзакцию по ссылке провайдера и применяет решение fn
func (r *MemoryRepository) Reconcile(ctx context.Context, providerRef string, fn repository.ReconcileFunc) (repository.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, exists := r.byRef[providerRef]
	if !exists {
		return repository.Outcome{}, repository.ErrNotFound
	}
	return r.reconcileLocked(id, fn)
}

// ReconcileByID находит транзакцию по id и применяет решение fn
func (r *MemoryRepository) ReconcileByID(ctx context.Context, transactionID string, fn repository.ReconcileFunc) (repository.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.reconcileLocked(transactionID, fn)
}

func (r *MemoryRepository) reconcileLocked(transactionID string, fn repository.ReconcileFunc) (repository.Outcome, error) {
	tx, exists := r.transactions[transactionID]
	if !exists {
		return repository.Outcome{}, repository.ErrNotFound
	}
	order, exists := r.orders[tx.OrderID]
	if !exists {
		return repository.Outcome{}, fmt.Errorf("order %s of transaction %s: %w", tx.OrderID, tx.ID, repository.ErrNotFound)
	}

	t, err := fn(tx, order)
	if err != nil {
		return repository.Outcome{}, err
	}
	if t == nil {
		return repository.Outcome{Transaction: tx, Order: order, Applied: false}, nil
	}

	if t.ProviderRef != "" {
		if owner, taken := r.byRef[t.ProviderRef]; taken && owner != tx.ID {
			return repository.Outcome{}, repository.ErrDuplicateProviderRef
		}
	}

	now := r.now()
	tx, order = t.Apply(tx, order, now)
	r.transactions[tx.ID] = tx
	r.orders[order.ID] = order
	if tx.ProviderRef != "" {
		r.byRef[tx.ProviderRef] = tx.ID
	}
	if t.Event != nil {
		ev := *t.Event
		ev.Status = repository.OutboxStatusPending
		ev.CreatedAt = now
		r.outbox = append(r.outbox, ev)
	}

	return repository.Outcome{Transaction: tx, Order: order, Applied: true}, nil
}

// GetTransaction получает транзакцию по ID
func (r *MemoryRepository) GetTransaction(ctx context.Context, id string) (repository.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, exists := r.transactions[id]
	if !exists {
		return repository.Transaction{}, repository.ErrNotFound
	}
	return tx, nil
}

// ListTransactionsByOrder возвращает попытки заказа от старых к новым
func (r *MemoryRepository) ListTransactionsByOrder(ctx context.Context, orderID string) ([]repository.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]repository.Transaction, 0)
	for _, tx := range r.transactions {
		if tx.OrderID == orderID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetPendingOutboxEvents возвращает до limit pending событий в порядке создания
func (r *MemoryRepository) GetPendingOutboxEvents(ctx context.Context, limit int) ([]repository.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]repository.OutboxEvent, 0)
	for _, ev := range r.outbox {
		if ev.Status != repository.OutboxStatusPending {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkOutboxEventSent отмечает событие отправленным
func (r *MemoryRepository) MarkOutboxEventSent(ctx context.Context, eventID string) error {
	return r.updateOutbox(eventID, func(ev *repository.OutboxEvent) {
		ev.Status = repository.OutboxStatusSent
	})
}

// MarkOutboxEventFailed отмечает событие проваленным и запоминает ошибку
func (r *MemoryRepository) MarkOutboxEventFailed(ctx context.Context, eventID string, errMsg string) error {
	return r.updateOutbox(eventID, func(ev *repository.OutboxEvent) {
		ev.Status = repository.OutboxStatusFailed
		ev.Attempts++
		ev.LastError = errMsg
	})
}

// ResetOutboxEventPending возвращает событие в очередь
func (r *MemoryRepository) ResetOutboxEventPending(ctx context.Context, eventID string) error {
	return r.updateOutbox(eventID, func(ev *repository.OutboxEvent) {
		ev.Status = repository.OutboxStatusPending
	})
}

func (r *MemoryRepository) updateOutbox(eventID string, fn func(ev *repository.OutboxEvent)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.outbox {
		if r.outbox[i].EventID == eventID {
			fn(&r.outbox[i])
			return nil
		}
	}
	return repository.ErrNotFound
}
