package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shestoi/paygate/internal/metrics"
	"github.com/shestoi/paygate/internal/repository"
)

// OutboxConfig параметры outbox dispatcher
type OutboxConfig struct {
	// BatchSize сколько событий забирается за один проход
	BatchSize int
	// Interval пауза между проходами
	Interval time.Duration
	// MaxRetries попыток записи в Kafka за один проход
	MaxRetries int
	// Backoff база линейной задержки между попытками
	Backoff time.Duration
	// MaxEventAttempts после стольких проваленных проходов событие остаётся failed
	MaxEventAttempts int
}

// OutboxDispatcher обрабатывает события из outbox таблицы и публикует их в Kafka
type OutboxDispatcher struct {
	logger  *zap.Logger
	repo    repository.OutboxRepository
	writer  messageWriter
	metrics *metrics.Metrics
	sleeper Sleeper
	cfg     OutboxConfig
}

// NewOutboxDispatcher создаёт новый outbox dispatcher. writer без топика: топик берётся из события
func NewOutboxDispatcher(logger *zap.Logger, repo repository.OutboxRepository, writer *kafka.Writer, m *metrics.Metrics, cfg OutboxConfig) *OutboxDispatcher {
	return newOutboxDispatcher(logger, repo, writer, m, DefaultSleeper{}, cfg)
}

func newOutboxDispatcher(logger *zap.Logger, repo repository.OutboxRepository, writer messageWriter, m *metrics.Metrics, sleeper Sleeper, cfg OutboxConfig) *OutboxDispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.MaxEventAttempts <= 0 {
		cfg.MaxEventAttempts = 10
	}
	return &OutboxDispatcher{
		logger:  logger,
		repo:    repo,
		writer:  writer,
		metrics: m,
		sleeper: sleeper,
		cfg:     cfg,
	}
}

// Start запускает dispatcher; возвращается после отмены ctx
func (d *OutboxDispatcher) Start(ctx context.Context) error {
	d.logger.Info("starting outbox dispatcher",
		zap.Int("batch_size", d.cfg.BatchSize),
		zap.Duration("interval", d.cfg.Interval),
		zap.Int("max_retries", d.cfg.MaxRetries),
	)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	if err := d.processBatch(ctx); err != nil && ctx.Err() == nil {
		d.logger.Error("failed to process initial batch", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher context cancelled, stopping")
			return nil
		case <-ticker.C:
			if err := d.processBatch(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("failed to process batch", zap.Error(err))
			}
		}
	}
}

// processBatch публикует батч pending событий
func (d *OutboxDispatcher) processBatch(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	events, err := d.repo.GetPendingOutboxEvents(ctx, d.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}
	d.logger.Debug("processing outbox batch", zap.Int("count", len(events)))

	for _, event := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := d.processEvent(ctx, event); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Error("failed to process event",
				zap.Error(err),
				zap.String("event_id", event.EventID),
				zap.String("topic", event.Topic),
			)
		}
	}
	return nil
}

// processEvent публикует одно событие с линейной задержкой между попытками
func (d *OutboxDispatcher) processEvent(ctx context.Context, event repository.OutboxEvent) error {
	var lastErr error

	for attempt := 1; attempt <= d.cfg.MaxRetries; attempt++ {
		msg := kafka.Message{
			Topic: event.Topic,
			Key:   []byte(event.AggregateID),
			Value: event.Payload,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(event.EventType)},
				{Key: "event_id", Value: []byte(event.EventID)},
			},
		}

		err := d.writer.WriteMessages(ctx, msg)
		if err == nil {
			if err := d.repo.MarkOutboxEventSent(ctx, event.EventID); err != nil {
				return fmt.Errorf("mark event sent: %w", err)
			}
			d.metrics.OutboxPublished("sent")
			d.logger.Info("outbox event published",
				zap.String("event_id", event.EventID),
				zap.String("event_type", event.EventType),
				zap.String("aggregate_id", event.AggregateID),
				zap.Int("attempt", attempt),
			)
			return nil
		}

		lastErr = err
		d.logger.Warn("failed to publish outbox event",
			zap.Error(err),
			zap.String("event_id", event.EventID),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", d.cfg.MaxRetries),
		)
		if attempt < d.cfg.MaxRetries {
			if err := d.sleeper.Sleep(ctx, d.cfg.Backoff*time.Duration(attempt)); err != nil {
				return err
			}
		}
	}

	errMsg := fmt.Sprintf("failed after %d attempts: %v", d.cfg.MaxRetries, lastErr)
	if err := d.repo.MarkOutboxEventFailed(ctx, event.EventID, errMsg); err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	d.metrics.OutboxPublished("failed")

	// следующий проход попробует снова, пока не исчерпан MaxEventAttempts
	if event.Attempts+1 < d.cfg.MaxEventAttempts {
		if err := d.repo.ResetOutboxEventPending(ctx, event.EventID); err != nil {
			d.logger.Error("failed to reset event to pending",
				zap.Error(err),
				zap.String("event_id", event.EventID),
			)
		}
	} else {
		d.logger.Error("outbox event left failed",
			zap.String("event_id", event.EventID),
			zap.Int("attempts", event.Attempts+1),
		)
	}

	return fmt.Errorf("failed to publish event after %d attempts: %w", d.cfg.MaxRetries, lastErr)
}

// Close закрывает Kafka writer
func (d *OutboxDispatcher) Close() error {
	d.logger.Info("closing outbox dispatcher")
	return d.writer.Close()
}
