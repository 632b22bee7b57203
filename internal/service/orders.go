package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shestoi/paygate/internal/provider"
	"github.com/shestoi/paygate/internal/repository"
	"github.com/shestoi/paygate/platform/observability"
)

// DefaultPageSize размер страницы списка заказов по умолчанию
const DefaultPageSize = 15

// MaxPageSize ограничивает limit в списке заказов
const MaxPageSize = 100

// OrderService создание заказов и read-модели заказов и транзакций
type OrderService struct {
	repo     repository.Repository
	webhooks *Reconciler
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrderService создаёт OrderService. webhooks нужен только для истории событий и может быть nil
func NewOrderService(repo repository.Repository, webhooks *Reconciler, logger *zap.Logger) *OrderService {
	return &OrderService{
		repo:     repo,
		webhooks: webhooks,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrderInput данные нового заказа
type CreateOrderInput struct {
	UserID   string
	Amount   decimal.Decimal
	Currency string
}

// OrderDetails заказ вместе с попытками оплаты
type OrderDetails struct {
	Order        repository.Order
	Transactions []repository.Transaction
}

// TransactionDetails транзакция вместе с заказом
type TransactionDetails struct {
	Transaction repository.Transaction
	Order       repository.Order
}

// CreateOrder создаёт заказ в статусе pending
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (repository.Order, error) {
	if in.UserID == "" {
		return repository.Order{}, &ValidationError{Message: invalidDataMessage, Reason: "user_id: required"}
	}
	if !in.Amount.GreaterThanOrEqual(decimal.RequireFromString("0.01")) {
		return repository.Order{}, &ValidationError{Message: invalidDataMessage, Reason: "amount: must be at least 0.01"}
	}
	if !in.Amount.Equal(in.Amount.Round(2)) {
		return repository.Order{}, &ValidationError{Message: invalidDataMessage, Reason: "amount: at most 2 decimal places"}
	}
	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = provider.DefaultCurrency
	}
	if len(currency) != 3 {
		return repository.Order{}, &ValidationError{Message: invalidDataMessage, Reason: "currency: must be a 3-letter ISO code"}
	}

	order := repository.Order{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		Amount:    in.Amount,
		Currency:  currency,
		Status:    repository.OrderStatusPending,
		CreatedAt: s.now(),
	}
	order.UpdatedAt = order.CreatedAt
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return repository.Order{}, &PersistenceError{Op: "create order", Err: err}
	}

	observability.L(ctx, s.logger).Info("order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.String("amount", order.Amount.StringFixed(2)),
	)
	return order, nil
}

// ListOrders возвращает заказы пользователя, от новых к старым
func (s *OrderService) ListOrders(ctx context.Context, filter repository.OrderFilter) ([]repository.Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &ValidationError{Message: invalidDataMessage, Reason: "status: must be one of pending, paid, failed"}
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultPageSize
	}
	if filter.Limit > MaxPageSize {
		filter.Limit = MaxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	orders, err := s.repo.ListOrders(ctx, filter)
	if err != nil {
		return nil, &PersistenceError{Op: "list orders", Err: err}
	}
	return orders, nil
}

// GetOrder возвращает заказ пользователя с его транзакциями
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID string) (OrderDetails, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return OrderDetails{}, &NotFoundError{Entity: "Order", ID: orderID}
		}
		return OrderDetails{}, &PersistenceError{Op: "get order", Err: err}
	}
	if userID != "" && order.UserID != userID {
		return OrderDetails{}, &NotFoundError{Entity: "Order", ID: orderID}
	}

	txs, err := s.repo.ListTransactionsByOrder(ctx, orderID)
	if err != nil {
		return OrderDetails{}, &PersistenceError{Op: "list transactions", Err: err}
	}
	return OrderDetails{Order: order, Transactions: txs}, nil
}

// GetTransaction возвращает транзакцию пользователя вместе с заказом
func (s *OrderService) GetTransaction(ctx context.Context, userID, transactionID string) (TransactionDetails, error) {
	tx, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return TransactionDetails{}, &NotFoundError{Entity: "Transaction", ID: transactionID}
		}
		return TransactionDetails{}, &PersistenceError{Op: "get transaction", Err: err}
	}
	order, err := s.repo.GetOrder(ctx, tx.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return TransactionDetails{}, &NotFoundError{Entity: "Transaction", ID: transactionID}
		}
		return TransactionDetails{}, &PersistenceError{Op: "get order", Err: err}
	}
	if userID != "" && order.UserID != userID {
		return TransactionDetails{}, &NotFoundError{Entity: "Transaction", ID: transactionID}
	}
	return TransactionDetails{Transaction: tx, Order: order}, nil
}

// TransactionWebhooks возвращает архив webhook событий по транзакции пользователя
func (s *OrderService) TransactionWebhooks(ctx context.Context, userID, transactionID string) ([]repository.WebhookRecord, error) {
	details, err := s.GetTransaction(ctx, userID, transactionID)
	if err != nil {
		return nil, err
	}
	if s.webhooks == nil {
		return []repository.WebhookRecord{}, nil
	}
	return s.webhooks.WebhookHistory(ctx, details.Transaction.ProviderRef)
}
