package provider

import (
	"encoding/json"
	"fmt"
)

// Типы webhook событий, которые меняют состояние платежа
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
)

// UnknownFailureReason подставляется, если провайдер не прислал причину отказа
const UnknownFailureReason = "Unknown failure reason"

// Event webhook событие провайдера
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object map[string]any `json:"object"`
	} `json:"data"`
}

// ParseEvent разбирает тело webhook
func ParseEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode webhook event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("webhook event has no type")
	}
	return &ev, nil
}

// ObjectID возвращает id объекта события (ссылку на payment intent)
func (e *Event) ObjectID() string {
	id, _ := e.Data.Object["id"].(string)
	return id
}

// FailureReason возвращает last_payment_error.message или UnknownFailureReason
func (e *Event) FailureReason() string {
	lastErr, ok := e.Data.Object["last_payment_error"].(map[string]any)
	if !ok {
		return UnknownFailureReason
	}
	msg, _ := lastErr["message"].(string)
	if msg == "" {
		return UnknownFailureReason
	}
	return msg
}
