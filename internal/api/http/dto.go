package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/shestoi/paygate/internal/repository"
	"github.com/shestoi/paygate/internal/service"
)

// CreateOrderRequest тело POST /orders
type CreateOrderRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// PayRequest тело POST /orders/{id}/pay
type PayRequest struct {
	PaymentMethod  string                 `json:"payment_method"`
	PaymentDetails service.PaymentDetails `json:"payment_details"`
}

// OrderResponse заказ в ответах API
type OrderResponse struct {
	ID           string                `json:"id"`
	UserID       string                `json:"user_id"`
	Amount       string                `json:"amount"`
	Currency     string                `json:"currency"`
	Status       string                `json:"status"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
	Transactions []TransactionResponse `json:"transactions,omitempty"`
}

// TransactionResponse транзакция в ответах API. response_data без номера карты и CVV
type TransactionResponse struct {
	ID              string                  `json:"id"`
	OrderID         string                  `json:"order_id"`
	PaymentProvider string                  `json:"payment_provider"`
	ProviderRef     string                  `json:"provider_ref,omitempty"`
	Status          string                  `json:"status"`
	ResponseData    repository.ResponseData `json:"response_data,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
	Order           *OrderResponse          `json:"order,omitempty"`
}

// WebhookRecordResponse запись архива webhook событий
type WebhookRecordResponse struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	Result     string    `json:"result"`
	ReceivedAt time.Time `json:"received_at"`
}

// PayResponseData data ответа 202 на запрос оплаты
type PayResponseData struct {
	Order  OrderResponse `json:"order"`
	Status string        `json:"status"`
}

type dataResponse struct {
	Data any `json:"data"`
}

type listMeta struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type listResponse struct {
	Data any      `json:"data"`
	Meta listMeta `json:"meta"`
}

type messageResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type errorResponse struct {
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

func toOrderResponse(o repository.Order) OrderResponse {
	return OrderResponse{
		ID:        o.ID,
		UserID:    o.UserID,
		Amount:    o.Amount.StringFixed(2),
		Currency:  o.Currency,
		Status:    string(o.Status),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func toTransactionResponse(tx repository.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:              tx.ID,
		OrderID:         tx.OrderID,
		PaymentProvider: tx.Provider,
		ProviderRef:     tx.ProviderRef,
		Status:          string(tx.Status),
		ResponseData:    tx.ResponseData.Redacted(),
		CreatedAt:       tx.CreatedAt,
		UpdatedAt:       tx.UpdatedAt,
	}
}

func toOrderDetailsResponse(d service.OrderDetails) OrderResponse {
	resp := toOrderResponse(d.Order)
	resp.Transactions = make([]TransactionResponse, 0, len(d.Transactions))
	for _, tx := range d.Transactions {
		resp.Transactions = append(resp.Transactions, toTransactionResponse(tx))
	}
	return resp
}

func toTransactionDetailsResponse(tx repository.Transaction, order repository.Order) TransactionResponse {
	resp := toTransactionResponse(tx)
	o := toOrderResponse(order)
	resp.Order = &o
	return resp
}
