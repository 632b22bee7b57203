package kafka

import (
	"errors"
	"time"
)

// Config содержит конфигурацию подключения к Kafka и топики платёжного сервиса.
// Значения брокеров зависят от среды выполнения:
//   - локальная разработка (go run): localhost:19092
//   - запуск в Docker: kafka:9092
type Config struct {
	// Brokers список брокеров, через запятую: "broker1:9092,broker2:9092"
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	// JobsTopic очередь платёжных задач (payment.requested)
	JobsTopic string `env:"KAFKA_JOBS_TOPIC" envDefault:"payments.jobs"`
	// JobsGroupID consumer group воркера платёжных задач
	JobsGroupID string `env:"KAFKA_JOBS_GROUP_ID" envDefault:"paygate-payment-worker"`
	// EventsTopic доменные события из outbox (payment.succeeded / payment.failed)
	EventsTopic string `env:"KAFKA_EVENTS_TOPIC" envDefault:"payments.events"`
	// DLQTopic сообщения, которые не удалось обработать
	DLQTopic string `env:"KAFKA_DLQ_TOPIC" envDefault:"payments.jobs.dlq"`
	// WriteTimeout таймаут записи одного батча
	WriteTimeout time.Duration `env:"KAFKA_WRITE_TIMEOUT" envDefault:"10s"`
}

// Validate проверяет, что брокеры и топики заданы
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if c.JobsTopic == "" || c.EventsTopic == "" || c.DLQTopic == "" {
		return errors.New("KAFKA_JOBS_TOPIC, KAFKA_EVENTS_TOPIC and KAFKA_DLQ_TOPIC are required")
	}
	if c.JobsGroupID == "" {
		return errors.New("KAFKA_JOBS_GROUP_ID is required")
	}
	return nil
}
