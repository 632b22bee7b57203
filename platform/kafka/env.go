package kafka

import (
	"github.com/caarlos0/env/v10"
	"github.com/segmentio/kafka-go"
)

// LoadEnv загружает конфигурацию из переменных окружения через env-теги.
// defaultBrokers используется, если KAFKA_BROKERS не задан.
func LoadEnv(defaultBrokers []string) (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	if len(cfg.Brokers) == 0 {
		cfg.Brokers = defaultBrokers
	}
	return cfg, nil
}

// NewWriter создаёт writer для топика. Пустой topic — топик берётся из сообщения (outbox).
func NewWriter(cfg Config, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{}, // один ключ (order_id) — одна партиция
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
}

// NewReader создаёт reader consumer group для топика
func NewReader(cfg Config, groupID, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
}
