package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/shestoi/paygate/internal/metrics"
	"github.com/shestoi/paygate/internal/provider"
	"github.com/shestoi/paygate/internal/repository"
	"github.com/shestoi/paygate/platform/logging"
	"github.com/shestoi/paygate/platform/observability"
)

// PaymentConfig настройки оркестратора
type PaymentConfig struct {
	// EventsTopic топик событий payment.succeeded / payment.failed
	EventsTopic string
}

// PaymentService содержит бизнес-логику оплаты заказов
type PaymentService struct {
	repo    repository.Repository
	gateway Gateway
	jobs    JobPublisher
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
	cfg     PaymentConfig
	now     func() time.Time
}

// NewPaymentService создаёт новый экземпляр PaymentService
func NewPaymentService(repo repository.Repository, gateway Gateway, jobs JobPublisher, m *metrics.Metrics, logger *zap.Logger, cfg PaymentConfig) *PaymentService {
	return &PaymentService{
		repo:    repo,
		gateway: gateway,
		jobs:    jobs,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("paygate/service"),
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RequestPaymentInput запрос на оплату заказа
type RequestPaymentInput struct {
	OrderID string
	// UserID владелец заказа; пустой — без проверки владельца
	UserID  string
	Method  string
	Details PaymentDetails
}

// RequestPayment проверяет заказ и ставит платёжную задачу в очередь.
// Транзакция здесь не создаётся: её создаёт ProcessPayment.
func (s *PaymentService) RequestPayment(ctx context.Context, in RequestPaymentInput) (repository.Order, error) {
	logger := observability.L(ctx, s.logger)

	order, err := s.loadOrder(ctx, in.OrderID, in.UserID)
	if err != nil {
		return repository.Order{}, err
	}

	// Статус проверяется до полей карты: оплаченный заказ отклоняется при любом теле запроса
	if order.Status != repository.OrderStatusPending {
		logger.Info("payment rejected, order is not pending",
			zap.String("order_id", order.ID),
			zap.String("status", string(order.Status)),
		)
		return order, orderNotPending(order.Status)
	}

	if err := validatePaymentMethod(in.Method, in.Details); err != nil {
		return order, err
	}

	job := PaymentJob{
		JobID:       uuid.NewString(),
		OrderID:     order.ID,
		UserID:      order.UserID,
		Method:      in.Method,
		Details:     in.Details,
		Attempt:     1,
		RequestedAt: s.now(),
	}
	if err := s.jobs.PublishPaymentJob(ctx, job); err != nil {
		logger.Error("failed to enqueue payment job",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
		return order, fmt.Errorf("enqueue payment job: %w", err)
	}

	logger.Info("payment job enqueued",
		zap.String("order_id", order.ID),
		zap.String("job_id", job.JobID),
		zap.String("payment_method", job.Method),
		logging.CardTail(in.Details.Number),
	)
	return order, nil
}

// ProcessPayment выполняет одну попытку оплаты: pending транзакция, вызов провайдера
// без блокировок, затем атомарное обновление транзакции и заказа.
// Ошибки провайдера превращаются в терминальный статус и наружу не выходят.
func (s *PaymentService) ProcessPayment(ctx context.Context, job PaymentJob) (repository.Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "payment.process", trace.WithAttributes(
		attribute.String("order.id", job.OrderID),
		attribute.Int("job.attempt", job.Attempt),
	))
	defer span.End()

	logger := observability.L(ctx, s.logger).With(
		zap.String("order_id", job.OrderID),
		zap.String("job_id", job.JobID),
		zap.Int("attempt", job.Attempt),
	)

	attempt := repository.Transaction{
		ID:           uuid.NewString(),
		OrderID:      job.OrderID,
		Provider:     provider.Name,
		ResponseData: repository.ResponseData{"payment_method": job.Method},
	}
	order, err := s.repo.BeginAttempt(ctx, attempt)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotPending):
			logger.Info("payment job skipped, order is not pending", zap.String("status", string(order.Status)))
			return repository.Outcome{Order: order}, orderNotPending(order.Status)
		case errors.Is(err, repository.ErrNotFound):
			return repository.Outcome{}, &NotFoundError{Entity: "Order", ID: job.OrderID}
		default:
			logger.Error("failed to create pending transaction", zap.Error(err))
			return repository.Outcome{}, &PersistenceError{Op: "begin attempt", Err: err}
		}
	}
	logger = logger.With(zap.String("transaction_id", attempt.ID))
	span.SetAttributes(attribute.String("transaction.id", attempt.ID))

	input := provider.CreateIntentInput{
		Amount:   order.Amount,
		Currency: order.Currency,
		Method:   job.Method,
		Metadata: map[string]string{
			"order_id":       order.ID,
			"transaction_id": attempt.ID,
		},
		IdempotencyKey: idempotencyKey(job, attempt.ID),
	}
	if job.Method == MethodCard {
		month, year, _ := provider.ParseExpiry(job.Details.Expiry)
		input.Card = provider.Card{
			Number:   job.Details.Number,
			ExpMonth: month,
			ExpYear:  year,
			CVC:      job.Details.CVV,
		}
	}

	intent, callErr := s.gateway.CreatePaymentIntent(ctx, input)

	// Итог попытки записывается даже если контекст задачи уже отменён
	persistCtx := context.WithoutCancel(ctx)

	var transition repository.Transition
	switch {
	case callErr != nil:
		merge := repository.ResponseData{
			"error":          callErr.Error(),
			"payment_method": job.Method,
		}
		var perr *provider.ProviderError
		if errors.As(callErr, &perr) {
			merge["code"] = perr.Code
			merge["http_status"] = perr.HTTPStatus
			merge["attempts"] = perr.Attempts
			merge["retryable"] = provider.IsRetryable(callErr)
		}
		transition = repository.Transition{
			TransactionStatus: repository.TransactionStatusFailed,
			Merge:             merge,
			OrderStatus:       repository.OrderStatusFailed,
			Event:             newPaymentEvent(s.cfg.EventsTopic, EventTypePaymentFailed, attempt, order, "", "job", callErr.Error(), s.now()),
		}
	case intent.Succeeded():
		transition = repository.Transition{
			TransactionStatus: repository.TransactionStatusSuccess,
			ProviderRef:       intent.ID,
			Merge:             repository.ResponseData{"payment_response": intent.Raw},
			OrderStatus:       repository.OrderStatusPaid,
			Event:             newPaymentEvent(s.cfg.EventsTopic, EventTypePaymentSucceeded, attempt, order, intent.ID, "job", "", s.now()),
		}
	case intent.Failed():
		reason := "intent status " + intent.Status
		transition = repository.Transition{
			TransactionStatus: repository.TransactionStatusFailed,
			ProviderRef:       intent.ID,
			Merge: repository.ResponseData{
				"payment_response": intent.Raw,
				"error":            reason,
			},
			OrderStatus: repository.OrderStatusFailed,
			Event:       newPaymentEvent(s.cfg.EventsTopic, EventTypePaymentFailed, attempt, order, intent.ID, "job", reason, s.now()),
		}
	default:
		// processing, requires_action: итог придёт webhook-ом или через /verify
		transition = repository.Transition{
			TransactionStatus: repository.TransactionStatusPending,
			ProviderRef:       intent.ID,
			Merge:             repository.ResponseData{"payment_response": intent.Raw},
		}
	}

	outcome, err := s.repo.CompleteAttempt(persistCtx, attempt.ID, transition)
	if errors.Is(err, repository.ErrDuplicateProviderRef) {
		// повторная доставка задачи: intent уже принадлежит прошлой попытке,
		// закрываем эту попытку, не трогая заказ
		logger.Warn("payment intent already belongs to an earlier attempt", zap.String("provider_ref", transition.ProviderRef))
		outcome, err = s.repo.CompleteAttempt(persistCtx, attempt.ID, repository.Transition{
			TransactionStatus: repository.TransactionStatusFailed,
			Merge: repository.ResponseData{
				"error":        "duplicate attempt",
				"provider_ref": transition.ProviderRef,
			},
		})
		if err == nil {
			return outcome, nil
		}
	}
	if err != nil {
		logger.Error("failed to persist payment result", zap.Error(err), zap.NamedError("provider_error", callErr))
		return repository.Outcome{}, &PersistenceError{Op: "complete attempt", Err: err}
	}

	if !outcome.Applied {
		// webhook успел завершить попытку раньше
		logger.Info("payment attempt already settled",
			zap.String("status", string(outcome.Transaction.Status)),
		)
		return outcome, nil
	}

	switch outcome.Transaction.Status {
	case repository.TransactionStatusPending:
		logger.Info("payment awaiting provider confirmation",
			zap.String("provider_ref", intent.ID),
			zap.String("intent_status", intent.Status),
		)
	case repository.TransactionStatusFailed:
		s.metrics.PaymentSettled(string(repository.TransactionStatusFailed))
		logger.Error("payment processing failed",
			zap.NamedError("provider_error", callErr),
			zap.String("error", fmt.Sprint(outcome.Transaction.ResponseData["error"])),
		)
	default:
		s.metrics.PaymentSettled(string(repository.TransactionStatusSuccess))
		logger.Info("payment processed successfully", zap.String("provider_ref", intent.ID))
	}
	return outcome, nil
}

// idempotencyKey привязан к задаче: повторная доставка той же задачи
// не создаёт у провайдера второй intent
func idempotencyKey(job PaymentJob, transactionID string) string {
	if job.JobID == "" {
		return transactionID
	}
	return job.JobID
}

// VerifyPayment запрашивает у провайдера состояние pending транзакции и, если оно
// окончательное, завершает транзакцию тем же атомарным путём, что и webhook
func (s *PaymentService) VerifyPayment(ctx context.Context, userID, transactionID string) (repository.Outcome, error) {
	logger := observability.L(ctx, s.logger).With(zap.String("transaction_id", transactionID))

	tx, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.Outcome{}, &NotFoundError{Entity: "Transaction", ID: transactionID}
		}
		return repository.Outcome{}, &PersistenceError{Op: "get transaction", Err: err}
	}
	order, err := s.loadOrder(ctx, tx.OrderID, userID)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return repository.Outcome{}, &NotFoundError{Entity: "Transaction", ID: transactionID}
		}
		return repository.Outcome{}, err
	}
	if tx.Status.IsTerminal() {
		return repository.Outcome{Transaction: tx, Order: order}, nil
	}
	if tx.ProviderRef == "" {
		return repository.Outcome{Transaction: tx, Order: order}, &ValidationError{
			Message: "Transaction cannot be verified",
			Reason:  "No provider reference yet",
		}
	}

	intent, err := s.gateway.RetrievePaymentIntent(ctx, tx.ProviderRef)
	if err != nil {
		logger.Warn("payment verification failed", zap.Error(err))
		return repository.Outcome{Transaction: tx, Order: order}, fmt.Errorf("payment verification failed: %w", err)
	}

	outcome, err := s.repo.ReconcileByID(ctx, transactionID, func(current repository.Transaction, order repository.Order) (*repository.Transition, error) {
		if current.Status.IsTerminal() {
			return nil, nil
		}
		switch {
		case intent.Succeeded():
			return &repository.Transition{
				TransactionStatus: repository.TransactionStatusSuccess,
				Merge:             repository.ResponseData{"verify_response": intent.Raw},
				OrderStatus:       repository.OrderStatusPaid,
				Event:             newPaymentEvent(s.cfg.EventsTopic, EventTypePaymentSucceeded, current, order, intent.ID, "verify", "", s.now()),
			}, nil
		case intent.Failed():
			return &repository.Transition{
				TransactionStatus: repository.TransactionStatusFailed,
				Merge:             repository.ResponseData{"verify_response": intent.Raw},
				OrderStatus:       repository.OrderStatusFailed,
				Event:             newPaymentEvent(s.cfg.EventsTopic, EventTypePaymentFailed, current, order, intent.ID, "verify", "intent status "+intent.Status, s.now()),
			}, nil
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.Outcome{}, &NotFoundError{Entity: "Transaction", ID: transactionID}
		}
		return repository.Outcome{}, &PersistenceError{Op: "reconcile transaction", Err: err}
	}
	if outcome.Applied {
		s.metrics.PaymentSettled(string(outcome.Transaction.Status))
		logger.Info("payment verified", zap.String("status", string(outcome.Transaction.Status)))
	}
	return outcome, nil
}

// PaymentFailed фиксирует задачу, исчерпавшую все попытки. Состояние заказа не меняется
func (s *PaymentService) PaymentFailed(ctx context.Context, job PaymentJob, cause error) {
	s.metrics.JobHandled("exhausted")
	observability.L(ctx, s.logger).Error("payment job failed",
		zap.String("order_id", job.OrderID),
		zap.String("job_id", job.JobID),
		zap.Int("attempts", job.Attempt),
		zap.Error(cause),
	)
}

// loadOrder загружает заказ и проверяет владельца; чужой заказ неотличим от отсутствующего
func (s *PaymentService) loadOrder(ctx context.Context, orderID, userID string) (repository.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.Order{}, &NotFoundError{Entity: "Order", ID: orderID}
		}
		return repository.Order{}, &PersistenceError{Op: "get order", Err: err}
	}
	if userID != "" && order.UserID != userID {
		return repository.Order{}, &NotFoundError{Entity: "Order", ID: orderID}
	}
	return order, nil
}
