package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shestoi/paygate/internal/metrics"
	"github.com/shestoi/paygate/internal/repository"
	"github.com/shestoi/paygate/internal/service"
	"github.com/shestoi/paygate/platform/observability"
)

// DefaultJobBackoff задержки перед 2-й, 3-й и 4-й попыткой задачи
var DefaultJobBackoff = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}

// DefaultJobMaxAttempts число попыток платёжной задачи
const DefaultJobMaxAttempts = 3

// PaymentProcessor выполняет платёжную задачу. Реализация — *service.PaymentService
type PaymentProcessor interface {
	ProcessPayment(ctx context.Context, job service.PaymentJob) (repository.Outcome, error)
	PaymentFailed(ctx context.Context, job service.PaymentJob, cause error)
}

// messageReader часть *kafka.Reader, нужная consumer
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sleeper определяет интерфейс для задержки (используется для тестирования)
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// DefaultSleeper реализует Sleeper используя time.After
type DefaultSleeper struct{}

// Sleep ждёт d или отмены контекста
func (DefaultSleeper) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ConsumerConfig параметры повторов платёжной задачи
type ConsumerConfig struct {
	MaxAttempts int
	Backoff     []time.Duration
}

// PaymentJobConsumer читает платёжные задачи из Kafka и выполняет их
type PaymentJobConsumer struct {
	logger    *zap.Logger
	reader    messageReader
	codec     *JobCodec
	processor PaymentProcessor
	dlq       *DLQPublisher
	metrics   *metrics.Metrics
	sleeper   Sleeper
	cfg       ConsumerConfig
}

// NewPaymentJobConsumer создаёт consumer платёжных задач
func NewPaymentJobConsumer(
	logger *zap.Logger,
	reader *kafka.Reader,
	codec *JobCodec,
	processor PaymentProcessor,
	dlq *DLQPublisher,
	m *metrics.Metrics,
	cfg ConsumerConfig,
) *PaymentJobConsumer {
	return newPaymentJobConsumer(logger, reader, codec, processor, dlq, m, DefaultSleeper{}, cfg)
}

func newPaymentJobConsumer(
	logger *zap.Logger,
	reader messageReader,
	codec *JobCodec,
	processor PaymentProcessor,
	dlq *DLQPublisher,
	m *metrics.Metrics,
	sleeper Sleeper,
	cfg ConsumerConfig,
) *PaymentJobConsumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultJobMaxAttempts
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = DefaultJobBackoff
	}
	return &PaymentJobConsumer{
		logger:    logger,
		reader:    reader,
		codec:     codec,
		processor: processor,
		dlq:       dlq,
		metrics:   m,
		sleeper:   sleeper,
		cfg:       cfg,
	}
}

// Start запускает consumer и начинает обработку сообщений.
// At-least-once: FetchMessage + CommitMessages после обработки или отправки в DLQ
func (c *PaymentJobConsumer) Start(ctx context.Context) error {
	c.logger.Info("starting payment job consumer",
		zap.Int("max_attempts", c.cfg.MaxAttempts),
		zap.Durations("backoff", c.cfg.Backoff),
	)

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer context cancelled, stopping")
				return nil
			}
			c.logger.Error("failed to fetch message from kafka", zap.Error(err))
			continue
		}

		if !c.processMessage(ctx, m) {
			continue
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.logger.Error("failed to commit message offset",
				zap.Error(err),
				zap.String("topic", m.Topic),
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
			)
		}
	}
}

// processMessage обрабатывает одно сообщение.
// Возвращает true, если offset нужно закоммитить (задача завершена или ушла в DLQ)
func (c *PaymentJobConsumer) processMessage(ctx context.Context, m kafka.Message) bool {
	ctx, span := observability.StartConsumerSpan(ctx, "paygate", m)
	defer span.End()

	logger := observability.L(ctx, c.logger).With(
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
	)

	job, err := c.codec.Decode(m.Value)
	if err != nil {
		logger.Error("failed to decode payment job - sending to DLQ", zap.Error(err))
		c.metrics.JobHandled("poison")
		return c.dlq.Publish(ctx, m, err, "", string(m.Key), 0) == nil
	}

	jobFields := []zap.Field{zap.String("job_id", job.JobID), zap.String("order_id", job.OrderID)}
	ctx = observability.ContextWithFields(ctx, jobFields...)
	logger = logger.With(jobFields...)
	logger.Info("received payment job", zap.Int("attempt", job.Attempt))

	last, err := c.handleWithRetry(ctx, logger, job)
	if err == nil {
		c.metrics.JobHandled("processed")
		return true
	}
	if ctx.Err() != nil {
		// сообщение будет доставлено повторно после рестарта
		return false
	}
	if service.IsPermanent(err) {
		logger.Info("payment job rejected", zap.Error(err))
		c.metrics.JobHandled("rejected")
		return true
	}

	c.processor.PaymentFailed(ctx, last, err)
	if err := c.dlq.Publish(ctx, m, err, job.JobID, job.OrderID, last.Attempt); err != nil {
		return false
	}
	return true
}

// handleWithRetry выполняет задачу до MaxAttempts раз. Номер попытки передаётся в задаче.
// Возвращает задачу последней попытки и её ошибку.
func (c *PaymentJobConsumer) handleWithRetry(ctx context.Context, logger *zap.Logger, job service.PaymentJob) (service.PaymentJob, error) {
	var lastErr error

	for attempt := job.Attempt; attempt <= c.cfg.MaxAttempts; attempt++ {
		job.Attempt = attempt
		if lastErr != nil {
			backoff := c.backoff(attempt)
			logger.Info("retrying payment job",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", c.cfg.MaxAttempts),
				zap.Duration("backoff", backoff),
			)
			if err := c.sleeper.Sleep(ctx, backoff); err != nil {
				return job, err
			}
		}

		_, err := c.processor.ProcessPayment(ctx, job)
		if err == nil {
			return job, nil
		}
		if service.IsPermanent(err) || errors.Is(err, context.Canceled) {
			return job, err
		}

		lastErr = err
		logger.Warn("payment job attempt failed",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.MaxAttempts),
		)
	}

	if lastErr == nil {
		// задача пришла с номером попытки больше лимита
		lastErr = errors.New("payment job attempts exhausted")
	}
	logger.Error("exhausted all payment job attempts", zap.Error(lastErr))
	return job, lastErr
}

// backoff возвращает задержку перед попыткой attempt (2, 3, ...)
func (c *PaymentJobConsumer) backoff(attempt int) time.Duration {
	i := attempt - 2
	if i < 0 {
		i = 0
	}
	if i >= len(c.cfg.Backoff) {
		i = len(c.cfg.Backoff) - 1
	}
	return c.cfg.Backoff[i]
}

// Close закрывает Kafka reader
func (c *PaymentJobConsumer) Close() error {
	c.logger.Info("closing payment job consumer")
	return c.reader.Close()
}
