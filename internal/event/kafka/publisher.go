package kafka

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shestoi/paygate/internal/service"
	"github.com/shestoi/paygate/platform/observability"
)

// messageWriter часть *kafka.Writer, нужная публикаторам
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PaymentJobPublisher реализует service.JobPublisher используя Kafka
type PaymentJobPublisher struct {
	logger *zap.Logger
	writer messageWriter
	codec  *JobCodec
	topic  string
}

// NewPaymentJobPublisher создаёт publisher платёжных задач
func NewPaymentJobPublisher(logger *zap.Logger, writer *kafka.Writer, codec *JobCodec) *PaymentJobPublisher {
	return newPaymentJobPublisher(logger, writer, codec, writer.Topic)
}

func newPaymentJobPublisher(logger *zap.Logger, writer messageWriter, codec *JobCodec, topic string) *PaymentJobPublisher {
	return &PaymentJobPublisher{
		logger: logger,
		writer: writer,
		codec:  codec,
		topic:  topic,
	}
}

// PublishPaymentJob ставит задачу в очередь. Ключ — order_id: задачи одного заказа идут в одну партицию
func (p *PaymentJobPublisher) PublishPaymentJob(ctx context.Context, job service.PaymentJob) error {
	value, err := p.codec.Encode(job)
	if err != nil {
		p.logger.Error("failed to encode payment job",
			zap.Error(err),
			zap.String("order_id", job.OrderID),
		)
		return err
	}

	msg := kafka.Message{
		Key:   []byte(job.OrderID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventTypePaymentRequested)},
			{Key: "x-attempt", Value: []byte(strconv.Itoa(job.Attempt))},
		},
	}
	observability.InjectKafkaHeaders(ctx, &msg)

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish payment job",
			zap.Error(err),
			zap.String("topic", p.topic),
			zap.String("order_id", job.OrderID),
		)
		return err
	}

	p.logger.Info("payment job published",
		zap.String("topic", p.topic),
		zap.String("job_id", job.JobID),
		zap.String("order_id", job.OrderID),
	)
	return nil
}

// Close закрывает Kafka writer
func (p *PaymentJobPublisher) Close() error {
	return p.writer.Close()
}
