package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus статус заказа. paid и failed терминальные
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusPaid    OrderStatus = "paid"
	OrderStatusFailed  OrderStatus = "failed"
)

func (s OrderStatus) String() string {
	return string(s)
}

// IsTerminal сообщает, что из статуса больше нет переходов
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusFailed
}

// Valid проверяет, что статус из допустимого набора
func (s OrderStatus) Valid() bool {
	return s == OrderStatusPending || s.IsTerminal()
}

// TransactionStatus статус платёжной попытки. success и failed терминальные
type TransactionStatus string

const (
	TransactionStatusPending TransactionStatus = "pending"
	TransactionStatusSuccess TransactionStatus = "success"
	TransactionStatusFailed  TransactionStatus = "failed"
)

// IsTerminal сообщает, что из статуса больше нет переходов
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusSuccess || s == TransactionStatusFailed
}

// Order оплачиваемый заказ
type Order struct {
	ID        string
	UserID    string
	Amount    decimal.Decimal
	Currency  string
	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transaction одна попытка оплаты заказа
type Transaction struct {
	ID      string
	OrderID string
	// Provider имя платёжного провайдера (stripe)
	Provider string
	// ProviderRef id payment intent у провайдера, пустой до ответа провайдера
	ProviderRef  string
	Status       TransactionStatus
	ResponseData ResponseData
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ResponseData произвольные данные запроса/ответа провайдера для аудита
type ResponseData map[string]any

// sensitiveKeys никогда не отдаются наружу
var sensitiveKeys = map[string]struct{}{
	"card_number": {},
	"cvv":         {},
	"cvc":         {},
}

// Merge возвращает новую карту: d, поверх которой записан other
func (d ResponseData) Merge(other ResponseData) ResponseData {
	out := make(ResponseData, len(d)+len(other))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Redacted возвращает копию без номеров карт и CVV на любой глубине вложенности
func (d ResponseData) Redacted() ResponseData {
	if d == nil {
		return nil
	}
	return redactMap(d)
}

func redactMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, ok := sensitiveKeys[strings.ToLower(k)]; ok {
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return redactMap(val)
	case ResponseData:
		return ResponseData(redactMap(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}

// Transition терминальный переход попытки оплаты, применяемый атомарно:
// транзакция, заказ и событие outbox пишутся в одной транзакции БД
type Transition struct {
	TransactionStatus TransactionStatus
	// ProviderRef записывается, если не пустой
	ProviderRef string
	// Merge дописывается в response_data
	Merge ResponseData
	// OrderStatus применяется, только пока заказ в pending
	OrderStatus OrderStatus
	// Event публикуется через outbox, если не nil
	Event *OutboxEvent
}

// Apply возвращает транзакцию и заказ после перехода.
// Заказ меняется, только если он ещё pending: терминальный статус заказа не перезаписывается.
func (t Transition) Apply(tx Transaction, order Order, now time.Time) (Transaction, Order) {
	tx.Status = t.TransactionStatus
	if t.ProviderRef != "" {
		tx.ProviderRef = t.ProviderRef
	}
	if len(t.Merge) > 0 {
		tx.ResponseData = tx.ResponseData.Merge(t.Merge)
	}
	tx.UpdatedAt = now

	if order.Status == OrderStatusPending && t.OrderStatus != "" && t.OrderStatus != OrderStatusPending {
		order.Status = t.OrderStatus
		order.UpdatedAt = now
	}
	return tx, order
}

// Outcome результат применения перехода
type Outcome struct {
	Transaction Transaction
	Order       Order
	// Applied == false: транзакция уже была терминальной, ничего не изменено
	Applied bool
}

// ReconcileFunc решает, какой переход применить к найденной транзакции.
// Вызывается под блокировкой строк; nil означает "ничего не менять".
type ReconcileFunc func(tx Transaction, order Order) (*Transition, error)

// OrderFilter фильтр списка заказов
type OrderFilter struct {
	UserID string
	Status OrderStatus
	Limit  int
	Offset int
}

// OutboxEvent событие для публикации в Kafka (transactional outbox)
type OutboxEvent struct {
	EventID     string
	AggregateID string
	Topic       string
	EventType   string
	Payload     []byte
	Status      string
	Attempts    int
	LastError   string
	CreatedAt   time.Time
}

const (
	OutboxStatusPending = "pending"
	OutboxStatusSent    = "sent"
	OutboxStatusFailed  = "failed"
)

// WebhookRecord сырой webhook провайдера и результат его обработки, для аудита
type WebhookRecord struct {
	EventID     string
	EventType   string
	ProviderRef string
	// Result applied, noop, duplicate или ignored
	Result     string
	Payload    []byte
	ReceivedAt time.Time
}

// OrderRepository хранилище заказов
type OrderRepository interface {
	// CreateOrder сохраняет новый заказ
	CreateOrder(ctx context.Context, order Order) error
	// GetOrder возвращает ErrNotFound, если заказа нет
	GetOrder(ctx context.Context, id string) (Order, error)
	// ListOrders возвращает заказы от новых к старым
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
}

// TransactionRepository журнал платёжных попыток.
// Все методы, меняющие статусы, выполняются одной транзакцией БД с блокировкой строк.
type TransactionRepository interface {
	// BeginAttempt блокирует заказ и создаёт pending транзакцию.
	// ErrOrderNotPending (вместе с текущим заказом), если заказ уже не pending; ErrNotFound, если заказа нет.
	BeginAttempt(ctx context.Context, tx Transaction) (Order, error)

	// CompleteAttempt применяет терминальный переход к транзакции по её id.
	// Если транзакция уже терминальна — Outcome.Applied == false и ничего не меняется.
	CompleteAttempt(ctx context.Context, transactionID string, t Transition) (Outcome, error)

	// Reconcile находит транзакцию по ссылке провайдера, блокирует её и заказ,
	// вызывает fn и применяет возвращённый переход. ErrNotFound, если транзакции нет.
	Reconcile(ctx context.Context, providerRef string, fn ReconcileFunc) (Outcome, error)

	// ReconcileByID то же, что Reconcile, но поиск по id транзакции
	ReconcileByID(ctx context.Context, transactionID string, fn ReconcileFunc) (Outcome, error)

	// GetTransaction возвращает ErrNotFound, если транзакции нет
	GetTransaction(ctx context.Context, id string) (Transaction, error)

	// ListTransactionsByOrder возвращает попытки заказа от старых к новым
	ListTransactionsByOrder(ctx context.Context, orderID string) ([]Transaction, error)
}

// OutboxRepository очередь исходящих событий
type OutboxRepository interface {
	// GetPendingOutboxEvents возвращает до limit pending событий в порядке создания
	GetPendingOutboxEvents(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkOutboxEventSent(ctx context.Context, eventID string) error
	MarkOutboxEventFailed(ctx context.Context, eventID string, errMsg string) error
	ResetOutboxEventPending(ctx context.Context, eventID string) error
}

// Repository объединяет все хранилища сервиса
type Repository interface {
	OrderRepository
	TransactionRepository
	OutboxRepository
}

var (
	// ErrNotFound возвращается, когда заказ или транзакция не найдены
	ErrNotFound = errors.New("not found")
	// ErrOrderNotPending возвращается BeginAttempt, если заказ уже оплачен или провален
	ErrOrderNotPending = errors.New("order is not pending")
	// ErrDuplicateProviderRef ссылка провайдера уже принадлежит другой транзакции
	ErrDuplicateProviderRef = errors.New("provider reference already assigned")
)
