package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/paygate/internal/provider"
	"github.com/shestoi/paygate/internal/repository"
	"github.com/shestoi/paygate/internal/repository/memory"
	"github.com/shestoi/paygate/internal/service"
	"github.com/shestoi/paygate/internal/service/mocks"
)

var (
	jwtSecret     = []byte("test-jwt-secret")
	webhookSecret = "whsec_test"
)

type apiFixture struct {
	repo   *memory.MemoryRepository
	jobs   *mocks.JobPublisher
	router http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := zap.NewNop()
	repo := memory.NewMemoryRepository()
	jobs := mocks.NewJobPublisher(t)
	client := provider.NewClient(provider.Config{WebhookSecret: webhookSecret}, logger, nil)

	payments := service.NewPaymentService(repo, client, jobs, nil, logger, service.PaymentConfig{EventsTopic: "payments.events"})
	reconciler := service.NewReconciler(repo, client, memory.NewProcessedEventsStore(), nil, nil, logger, service.ReconcilerConfig{EventsTopic: "payments.events"})
	orders := service.NewOrderService(repo, reconciler, logger)

	handler := NewHandler(orders, payments, reconciler, logger)
	router := NewRouter(handler, RouterConfig{JWTSecret: jwtSecret, RateLimitPerMinute: 60}, logger)
	return &apiFixture{repo: repo, jobs: jobs, router: router}
}

func (f *apiFixture) seedOrder(t *testing.T, id string, status repository.OrderStatus) {
	t.Helper()
	require.NoError(t, f.repo.CreateOrder(context.Background(), repository.Order{
		ID:       id,
		UserID:   "user-1",
		Amount:   decimal.RequireFromString("99.99"),
		Currency: "eur",
		Status:   status,
	}))
}

func token(t *testing.T, userID string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwtSecret)
	require.NoError(t, err)
	return signed
}

func (f *apiFixture) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func cardPayload() map[string]any {
	return map[string]any{
		"payment_method": "card",
		"payment_details": map[string]any{
			"number": "4242424242424242",
			"expiry": "12/25",
			"cvv":    "123",
		},
	}
}

func TestPayOrder(t *testing.T) {
	t.Run("pending order is accepted", func(t *testing.T) {
		f := newAPIFixture(t)
		f.seedOrder(t, "order-1", repository.OrderStatusPending)
		f.jobs.On("PublishPaymentJob", mock.Anything, mock.MatchedBy(func(job service.PaymentJob) bool {
			return job.OrderID == "order-1" && job.Details.CVV == "123"
		})).Return(nil).Once()

		rec := f.do(t, http.MethodPost, "/orders/order-1/pay", "user-1", cardPayload())
		require.Equal(t, http.StatusAccepted, rec.Code)

		body := decodeBody(t, rec)
		require.Equal(t, "Payment processing initiated", body["message"])
		data := body["data"].(map[string]any)
		require.Equal(t, "processing", data["status"])
		require.Equal(t, "order-1", data["order"].(map[string]any)["id"])
		require.Equal(t, "99.99", data["order"].(map[string]any)["amount"])
	})

	t.Run("paid order is rejected without transaction or job", func(t *testing.T) {
		f := newAPIFixture(t)
		f.seedOrder(t, "order-1", repository.OrderStatusPaid)

		rec := f.do(t, http.MethodPost, "/orders/order-1/pay", "user-1", cardPayload())
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		body := decodeBody(t, rec)
		require.Equal(t, "Order cannot be processed", body["message"])
		require.Equal(t, "Current status: paid", body["reason"])

		f.jobs.AssertNotCalled(t, "PublishPaymentJob", mock.Anything, mock.Anything)
		txs, err := f.repo.ListTransactionsByOrder(context.Background(), "order-1")
		require.NoError(t, err)
		require.Empty(t, txs)
	})

	t.Run("invalid card details", func(t *testing.T) {
		f := newAPIFixture(t)
		f.seedOrder(t, "order-1", repository.OrderStatusPending)

		rec := f.do(t, http.MethodPost, "/orders/order-1/pay", "user-1", map[string]any{"payment_method": "card"})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		require.Equal(t, "The given data was invalid.", decodeBody(t, rec)["message"])
	})

	t.Run("missing token", func(t *testing.T) {
		f := newAPIFixture(t)
		f.seedOrder(t, "order-1", repository.OrderStatusPending)

		rec := f.do(t, http.MethodPost, "/orders/order-1/pay", "", cardPayload())
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("foreign order", func(t *testing.T) {
		f := newAPIFixture(t)
		f.seedOrder(t, "order-1", repository.OrderStatusPending)

		rec := f.do(t, http.MethodPost, "/orders/order-1/pay", "user-2", cardPayload())
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestPaymentWebhook(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) *apiFixture {
		f := newAPIFixture(t)
		f.seedOrder(t, "order-1", repository.OrderStatusPending)
		_, err := f.repo.BeginAttempt(ctx, repository.Transaction{ID: "tx-1", OrderID: "order-1", Provider: provider.Name})
		require.NoError(t, err)
		_, err = f.repo.ReconcileByID(ctx, "tx-1", func(repository.Transaction, repository.Order) (*repository.Transition, error) {
			return &repository.Transition{TransactionStatus: repository.TransactionStatusPending, ProviderRef: "pi_1"}, nil
		})
		require.NoError(t, err)
		return f
	}

	send := func(f *apiFixture, payload []byte, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(payload))
		req.Header.Set(provider.SignatureHeaderName, signature)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		return rec
	}

	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)

	t.Run("valid signature settles the transaction", func(t *testing.T) {
		f := setup(t)
		rec := send(f, payload, provider.SignatureHeader(payload, webhookSecret, time.Now()))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "Webhook processed successfully", decodeBody(t, rec)["message"])

		order, err := f.repo.GetOrder(ctx, "order-1")
		require.NoError(t, err)
		require.Equal(t, repository.OrderStatusPaid, order.Status)

		// повторная доставка тоже подтверждается
		rec = send(f, payload, provider.SignatureHeader(payload, webhookSecret, time.Now()))
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("bad signature", func(t *testing.T) {
		f := setup(t)
		rec := send(f, payload, provider.SignatureHeader(payload, "whsec_other", time.Now()))
		require.Equal(t, http.StatusInternalServerError, rec.Code)

		body := decodeBody(t, rec)
		require.Equal(t, "Webhook processing failed", body["message"])
		require.Contains(t, body["error"], "invalid webhook signature")

		tx, err := f.repo.GetTransaction(ctx, "tx-1")
		require.NoError(t, err)
		require.Equal(t, repository.TransactionStatusPending, tx.Status)
	})

	t.Run("unknown reference", func(t *testing.T) {
		f := setup(t)
		other := []byte(`{"id":"evt_2","type":"payment_intent.succeeded","data":{"object":{"id":"pi_unknown"}}}`)
		rec := send(f, other, provider.SignatureHeader(other, webhookSecret, time.Now()))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.Equal(t, "Webhook processing failed", decodeBody(t, rec)["message"])
	})
}

func TestOrderReads(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(t)
	f.seedOrder(t, "order-1", repository.OrderStatusPending)
	_, err := f.repo.BeginAttempt(ctx, repository.Transaction{
		ID:       "tx-1",
		OrderID:  "order-1",
		Provider: provider.Name,
		ResponseData: repository.ResponseData{
			"payment_method": "card",
			"card_number":    "4242424242424242",
			"cvv":            "123",
		},
	})
	require.NoError(t, err)

	t.Run("order with transactions is redacted", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/orders/order-1", "user-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotContains(t, rec.Body.String(), "4242424242424242")
		require.NotContains(t, rec.Body.String(), `"cvv"`)

		data := decodeBody(t, rec)["data"].(map[string]any)
		txs := data["transactions"].([]any)
		require.Len(t, txs, 1)
		require.Equal(t, "card", txs[0].(map[string]any)["response_data"].(map[string]any)["payment_method"])
	})

	t.Run("transaction with order is redacted", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/transactions/tx-1", "user-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotContains(t, rec.Body.String(), "4242424242424242")

		data := decodeBody(t, rec)["data"].(map[string]any)
		require.Equal(t, "order-1", data["order"].(map[string]any)["id"])
	})

	t.Run("list is scoped to the user", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/orders?status=pending&limit=5", "user-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		require.Len(t, body["data"], 1)
		require.Equal(t, float64(5), body["meta"].(map[string]any)["limit"])

		rec = f.do(t, http.MethodGet, "/orders", "user-2", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Empty(t, decodeBody(t, rec)["data"])
	})

	t.Run("bad query", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/orders?limit=abc", "user-1", nil)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		rec = f.do(t, http.MethodGet, "/orders?status=refunded", "user-1", nil)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("foreign transaction", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/transactions/tx-1", "user-2", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("verify without provider reference", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/transactions/tx-1/verify", "user-1", nil)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestCreateOrder(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/orders", "user-1", map[string]any{"amount": "99.99"})
	require.Equal(t, http.StatusCreated, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]any)
	require.Equal(t, "99.99", data["amount"])
	require.Equal(t, "eur", data["currency"])
	require.Equal(t, "pending", data["status"])
	require.Equal(t, "user-1", data["user_id"])

	rec = f.do(t, http.MethodPost, "/orders", "user-1", map[string]any{"amount": 0})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRateLimit(t *testing.T) {
	logger := zap.NewNop()
	repo := memory.NewMemoryRepository()
	orders := service.NewOrderService(repo, nil, logger)
	handler := NewHandler(orders, nil, nil, logger)
	router := NewRouter(handler, RouterConfig{JWTSecret: jwtSecret, RateLimitPerMinute: 2}, logger)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req.Header.Set("Authorization", "Bearer "+token(t, "user-1"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// другой пользователь не затронут
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "user-2"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
