package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"github.com/shestoi/paygate/internal/authctx"
	"github.com/shestoi/paygate/internal/provider"
	"github.com/shestoi/paygate/internal/repository"
	"github.com/shestoi/paygate/internal/service"
	"github.com/shestoi/paygate/platform/observability"
)

// maxWebhookBody ограничивает размер тела webhook
const maxWebhookBody = 1 << 20

// Handler содержит HTTP-обработчики платёжного сервиса
type Handler struct {
	orders   *service.OrderService
	payments *service.PaymentService
	webhooks *service.Reconciler
	logger   *zap.Logger
}

// NewHandler создаёт новый HTTP handler
func NewHandler(orders *service.OrderService, payments *service.PaymentService, webhooks *service.Reconciler, logger *zap.Logger) *Handler {
	return &Handler{
		orders:   orders,
		payments: payments,
		webhooks: webhooks,
		logger:   logger,
	}
}

// ListOrders обрабатывает GET /orders?status=&limit=&offset=
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, _ := authctx.UserIDFromContext(r.Context())

	var (
		status string
		limit  int
		offset int
	)
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "status", query, &status); err != nil {
		invalidData(w, "status: "+err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &limit); err != nil {
		invalidData(w, "limit: must be an integer")
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", query, &offset); err != nil {
		invalidData(w, "offset: must be an integer")
		return
	}

	filter := repository.OrderFilter{UserID: userID, Status: repository.OrderStatus(status), Limit: limit, Offset: offset}
	orders, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}

	data := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		data = append(data, toOrderResponse(o))
	}
	if limit <= 0 {
		limit = service.DefaultPageSize
	}
	if limit > service.MaxPageSize {
		limit = service.MaxPageSize
	}
	writeJSON(w, http.StatusOK, listResponse{Data: data, Meta: listMeta{Limit: limit, Offset: offset}})
}

// CreateOrder обрабатывает POST /orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := authctx.UserIDFromContext(r.Context())

	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		invalidData(w, "invalid JSON: "+err.Error())
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), service.CreateOrderInput{
		UserID:   userID,
		Amount:   req.Amount,
		Currency: req.Currency,
	})
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusCreated, dataResponse{Data: toOrderResponse(order)})
}

// GetOrder обрабатывает GET /orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	userID, _ := authctx.UserIDFromContext(r.Context())

	details, err := h.orders.GetOrder(r.Context(), userID, id)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: toOrderDetailsResponse(details)})
}

// PayOrder обрабатывает POST /orders/{id}/pay: ставит оплату в очередь и сразу отвечает 202
func (h *Handler) PayOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	userID, _ := authctx.UserIDFromContext(r.Context())

	var req PayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		invalidData(w, "invalid JSON: "+err.Error())
		return
	}

	order, err := h.payments.RequestPayment(r.Context(), service.RequestPaymentInput{
		OrderID: id,
		UserID:  userID,
		Method:  req.PaymentMethod,
		Details: req.PaymentDetails,
	})
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}

	writeJSON(w, http.StatusAccepted, messageResponse{
		Message: "Payment processing initiated",
		Data: PayResponseData{
			Order:  toOrderResponse(order),
			Status: "processing",
		},
	})
}

// GetTransaction обрабатывает GET /transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	userID, _ := authctx.UserIDFromContext(r.Context())

	details, err := h.orders.GetTransaction(r.Context(), userID, id)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: toTransactionDetailsResponse(details.Transaction, details.Order)})
}

// VerifyTransaction обрабатывает POST /transactions/{id}/verify
func (h *Handler) VerifyTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	userID, _ := authctx.UserIDFromContext(r.Context())

	outcome, err := h.payments.VerifyPayment(r.Context(), userID, id)
	if err != nil {
		var perr *provider.ProviderError
		if errors.As(err, &perr) {
			writeJSON(w, http.StatusBadGateway, errorResponse{Message: "Payment verification failed", Error: perr.Message})
			return
		}
		writeError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: toTransactionDetailsResponse(outcome.Transaction, outcome.Order)})
}

// TransactionWebhooks обрабатывает GET /transactions/{id}/webhooks
func (h *Handler) TransactionWebhooks(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	userID, _ := authctx.UserIDFromContext(r.Context())

	records, err := h.orders.TransactionWebhooks(r.Context(), userID, id)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}
	data := make([]WebhookRecordResponse, 0, len(records))
	for _, rec := range records {
		data = append(data, WebhookRecordResponse{
			EventID:    rec.EventID,
			EventType:  rec.EventType,
			Result:     rec.Result,
			ReceivedAt: rec.ReceivedAt,
		})
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: data})
}

// PaymentWebhook обрабатывает POST /webhooks/payment.
// Любая ошибка — 500, чтобы провайдер доставил событие повторно
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	logger := h.log(r)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "Webhook processing failed", Error: err.Error()})
		return
	}

	result, err := h.webhooks.HandleWebhook(r.Context(), payload, r.Header.Get(provider.SignatureHeaderName))
	if err != nil {
		logger.Error("webhook processing failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "Webhook processing failed", Error: err.Error()})
		return
	}

	logger.Info("webhook acknowledged",
		zap.String("event_id", result.EventID),
		zap.String("outcome", string(result.Outcome)),
	)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Webhook processed successfully"})
}

func (h *Handler) log(r *http.Request) *zap.Logger {
	return observability.L(r.Context(), h.logger)
}

// pathID связывает параметр {id} пути; при ошибке пишет 404
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil || id == "" {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "Not found"})
		return "", false
	}
	return id, true
}
