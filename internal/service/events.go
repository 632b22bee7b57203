package service

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/shestoi/paygate/internal/repository"
)

// Типы событий, публикуемых через outbox
const (
	EventTypePaymentSucceeded = "payment.succeeded"
	EventTypePaymentFailed    = "payment.failed"
)

// PaymentEvent payload событий payment.succeeded / payment.failed
type PaymentEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	EventVersion  int       `json:"event_version"`
	OccurredAt    time.Time `json:"occurred_at"`
	OrderID       string    `json:"order_id"`
	UserID        string    `json:"user_id"`
	TransactionID string    `json:"transaction_id"`
	ProviderRef   string    `json:"provider_ref,omitempty"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	// Source кто завершил попытку: job, webhook или verify
	Source string `json:"source"`
	Error  string `json:"error,omitempty"`
}

// newPaymentEvent собирает событие outbox для терминального перехода
func newPaymentEvent(topic string, eventType string, tx repository.Transaction, order repository.Order, providerRef, source, errMsg string, now time.Time) *repository.OutboxEvent {
	ev := PaymentEvent{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    now.UTC(),
		OrderID:       order.ID,
		UserID:        order.UserID,
		TransactionID: tx.ID,
		ProviderRef:   providerRef,
		Amount:        order.Amount.StringFixed(2),
		Currency:      order.Currency,
		Source:        source,
		Error:         errMsg,
	}
	// PaymentEvent состоит только из сериализуемых полей
	payload, _ := json.Marshal(ev)

	return &repository.OutboxEvent{
		EventID:     ev.EventID,
		AggregateID: order.ID,
		Topic:       topic,
		EventType:   eventType,
		Payload:     payload,
	}
}
