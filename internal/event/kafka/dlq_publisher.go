package kafka

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DLQMessage представляет сообщение для Dead Letter Queue
type DLQMessage struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int    `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`   // base64
	OriginalValue     string `json:"original_value"` // base64, данные карты в нём зашифрованы
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"` // RFC3339
	JobID             string `json:"job_id,omitempty"`
	OrderID           string `json:"order_id,omitempty"`
	Attempts          int    `json:"attempts,omitempty"`
}

// DLQPublisher публикует сообщения в Dead Letter Queue
type DLQPublisher struct {
	logger *zap.Logger
	writer messageWriter
	topic  string
	now    func() time.Time
}

// NewDLQPublisher создаёт новый publisher для DLQ
func NewDLQPublisher(logger *zap.Logger, writer *kafka.Writer) *DLQPublisher {
	return newDLQPublisher(logger, writer, writer.Topic)
}

func newDLQPublisher(logger *zap.Logger, writer messageWriter, topic string) *DLQPublisher {
	return &DLQPublisher{
		logger: logger,
		writer: writer,
		topic:  topic,
		now:    time.Now,
	}
}

// Publish отправляет сообщение в DLQ. jobID, orderID и attempts заполняются, если известны
func (p *DLQPublisher) Publish(ctx context.Context, msg kafka.Message, cause error, jobID, orderID string, attempts int) error {
	errorMsg := "unknown error"
	if cause != nil {
		errorMsg = cause.Error()
	}

	dlqMsg := DLQMessage{
		OriginalTopic:     msg.Topic,
		OriginalPartition: msg.Partition,
		OriginalOffset:    msg.Offset,
		OriginalKey:       base64.StdEncoding.EncodeToString(msg.Key),
		OriginalValue:     base64.StdEncoding.EncodeToString(msg.Value),
		ErrorMessage:      errorMsg,
		FailedAt:          p.now().UTC().Format(time.RFC3339),
		JobID:             jobID,
		OrderID:           orderID,
		Attempts:          attempts,
	}

	value, err := json.Marshal(dlqMsg)
	if err != nil {
		return err
	}

	key := msg.Key
	if orderID != "" {
		key = []byte(orderID)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value}); err != nil {
		p.logger.Error("failed to publish message to DLQ",
			zap.Error(err),
			zap.String("dlq_topic", p.topic),
			zap.String("original_topic", msg.Topic),
			zap.Int("original_partition", msg.Partition),
			zap.Int64("original_offset", msg.Offset),
		)
		return err
	}

	p.logger.Info("message sent to DLQ",
		zap.String("dlq_topic", p.topic),
		zap.String("original_topic", msg.Topic),
		zap.Int64("original_offset", msg.Offset),
		zap.String("error", errorMsg),
	)
	return nil
}

// Close закрывает Kafka writer
func (p *DLQPublisher) Close() error {
	return p.writer.Close()
}
