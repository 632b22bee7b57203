package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/shestoi/paygate/internal/metrics"
	"github.com/shestoi/paygate/internal/provider"
	"github.com/shestoi/paygate/internal/repository"
	"github.com/shestoi/paygate/platform/observability"
)

// WebhookOutcome чем закончилась обработка webhook
type WebhookOutcome string

const (
	// WebhookApplied транзакция и заказ переведены в терминальный статус
	WebhookApplied WebhookOutcome = "applied"
	// WebhookNoop транзакция уже была терминальной
	WebhookNoop WebhookOutcome = "noop"
	// WebhookDuplicate событие с этим id уже обработано
	WebhookDuplicate WebhookOutcome = "duplicate"
	// WebhookIgnored тип события не меняет состояние платежа
	WebhookIgnored WebhookOutcome = "ignored"
)

// DefaultProcessedTTL сколько помнить id обработанного события
const DefaultProcessedTTL = 72 * time.Hour

// WebhookResult результат обработки webhook
type WebhookResult struct {
	EventID     string
	EventType   string
	ProviderRef string
	Outcome     WebhookOutcome
	Transaction repository.Transaction
	Order       repository.Order
}

// ReconcilerConfig настройки обработки webhook
type ReconcilerConfig struct {
	EventsTopic  string
	ProcessedTTL time.Duration
}

// Reconciler применяет webhook события провайдера к транзакциям и заказам
type Reconciler struct {
	repo      repository.TransactionRepository
	gateway   Gateway
	processed ProcessedEventsStore
	archive   WebhookArchive
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       ReconcilerConfig
	now       func() time.Time
}

// NewReconciler создаёт Reconciler. processed и archive могут быть nil
func NewReconciler(repo repository.TransactionRepository, gateway Gateway, processed ProcessedEventsStore, archive WebhookArchive, m *metrics.Metrics, logger *zap.Logger, cfg ReconcilerConfig) *Reconciler {
	if cfg.ProcessedTTL <= 0 {
		cfg.ProcessedTTL = DefaultProcessedTTL
	}
	return &Reconciler{
		repo:      repo,
		gateway:   gateway,
		processed: processed,
		archive:   archive,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// HandleWebhook проверяет подпись, находит транзакцию по ссылке провайдера и
// атомарно применяет событие. Ошибка означает, что состояние не изменилось.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	logger := observability.L(ctx, r.logger)

	// 1. подпись
	if err := r.gateway.VerifyWebhookSignature(payload, signature); err != nil {
		r.metrics.WebhookHandled("rejected")
		logger.Warn("webhook signature rejected", zap.Error(err))
		return nil, err
	}

	// 2. разбор события
	ev, err := r.gateway.ParseEvent(payload)
	if err != nil {
		r.metrics.WebhookHandled("rejected")
		return nil, &ValidationError{Message: "Malformed webhook payload", Reason: err.Error()}
	}
	if ev.ID == "" {
		r.metrics.WebhookHandled("rejected")
		return nil, &ValidationError{Message: "Malformed webhook payload", Reason: "event id is missing"}
	}
	logger = logger.With(zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))
	result := &WebhookResult{EventID: ev.ID, EventType: ev.Type}

	// 3. ссылка на payment intent
	ref := ev.ObjectID()
	if ref == "" {
		r.metrics.WebhookHandled("rejected")
		return nil, &ValidationError{Message: "Malformed webhook payload", Reason: "transaction reference not found in webhook payload"}
	}
	result.ProviderRef = ref
	logger = logger.With(zap.String("provider_ref", ref))

	// 4. повторная доставка того же события
	if r.processed != nil {
		done, err := r.processed.IsProcessed(ctx, ev.ID)
		if err != nil {
			// хранилище недоступно: продолжаем, Reconcile всё равно идемпотентен
			logger.Warn("failed to check processed webhook events", zap.Error(err))
		} else if done {
			result.Outcome = WebhookDuplicate
			r.metrics.WebhookHandled(string(WebhookDuplicate))
			logger.Info("webhook event already processed")
			return result, nil
		}
	}

	// 5. поиск транзакции, затем разбор типа события под блокировкой
	ignored := false
	webhookResponse := map[string]any{
		"id":     ev.ID,
		"type":   ev.Type,
		"object": ev.Data.Object,
	}
	outcome, err := r.repo.Reconcile(ctx, ref, func(tx repository.Transaction, order repository.Order) (*repository.Transition, error) {
		switch ev.Type {
		case provider.EventPaymentSucceeded, provider.EventPaymentFailed:
		default:
			// неизвестный тип подтверждаем без изменений
			ignored = true
			return nil, nil
		}
		if tx.Status.IsTerminal() {
			return nil, nil
		}
		if ev.Type == provider.EventPaymentSucceeded {
			return &repository.Transition{
				TransactionStatus: repository.TransactionStatusSuccess,
				Merge:             repository.ResponseData{"webhook_response": webhookResponse},
				OrderStatus:       repository.OrderStatusPaid,
				Event:             newPaymentEvent(r.cfg.EventsTopic, EventTypePaymentSucceeded, tx, order, ref, "webhook", "", r.now()),
			}, nil
		}
		reason := ev.FailureReason()
		return &repository.Transition{
			TransactionStatus: repository.TransactionStatusFailed,
			Merge: repository.ResponseData{
				"webhook_response": webhookResponse,
				"failure_reason":   reason,
			},
			OrderStatus: repository.OrderStatusFailed,
			Event:       newPaymentEvent(r.cfg.EventsTopic, EventTypePaymentFailed, tx, order, ref, "webhook", reason, r.now()),
		}, nil
	})
	if err != nil {
		r.metrics.WebhookHandled("rejected")
		if errors.Is(err, repository.ErrNotFound) {
			logger.Warn("webhook references unknown transaction")
			return nil, &NotFoundError{Entity: "Transaction", ID: ref}
		}
		logger.Error("failed to reconcile webhook", zap.Error(err))
		return nil, &PersistenceError{Op: "reconcile webhook", Err: err}
	}

	result.Transaction = outcome.Transaction
	result.Order = outcome.Order
	result.Outcome = WebhookNoop
	switch {
	case ignored:
		result.Outcome = WebhookIgnored
	case outcome.Applied:
		result.Outcome = WebhookApplied
		r.metrics.PaymentSettled(string(outcome.Transaction.Status))
	}
	r.metrics.WebhookHandled(string(result.Outcome))
	logger.Info("webhook processed",
		zap.String("outcome", string(result.Outcome)),
		zap.String("transaction_id", outcome.Transaction.ID),
		zap.String("status", string(outcome.Transaction.Status)),
	)

	// 6. запоминаем событие и архивируем
	if r.processed != nil {
		if err := r.processed.MarkProcessed(ctx, ev.ID, r.cfg.ProcessedTTL); err != nil {
			logger.Warn("failed to mark webhook event processed", zap.Error(err))
		}
	}
	r.archiveEvent(ctx, logger, result, payload)
	return result, nil
}

// WebhookHistory возвращает архив событий по ссылке провайдера
func (r *Reconciler) WebhookHistory(ctx context.Context, providerRef string) ([]repository.WebhookRecord, error) {
	if r.archive == nil || providerRef == "" {
		return []repository.WebhookRecord{}, nil
	}
	records, err := r.archive.ListByProviderRef(ctx, providerRef)
	if err != nil {
		return nil, &PersistenceError{Op: "list webhook archive", Err: err}
	}
	return records, nil
}

func (r *Reconciler) archiveEvent(ctx context.Context, logger *zap.Logger, result *WebhookResult, payload []byte) {
	if r.archive == nil {
		return
	}
	err := r.archive.Archive(ctx, repository.WebhookRecord{
		EventID:     result.EventID,
		EventType:   result.EventType,
		ProviderRef: result.ProviderRef,
		Result:      string(result.Outcome),
		Payload:     payload,
		ReceivedAt:  r.now(),
	})
	if err != nil {
		logger.Warn("failed to archive webhook event", zap.Error(err))
	}
}
