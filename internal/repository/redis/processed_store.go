package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const hashFieldProcessedAt = "processed_at" // время обработки события

// ProcessedEventsStore хранит id обработанных webhook событий в Redis hash с TTL
type ProcessedEventsStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewProcessedEventsStore создаёт новый Redis store обработанных событий
func NewProcessedEventsStore(client *redis.Client, logger *zap.Logger) *ProcessedEventsStore {
	return &ProcessedEventsStore{
		client: client,
		logger: logger,
	}
}

func processedKey(eventID string) string {
	return fmt.Sprintf("webhook:processed:%s", eventID)
}

// MarkProcessed сохраняет eventID как обработанный с указанным ttl
func (s *ProcessedEventsStore) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	key := processedKey(eventID)
	now := time.Now().UTC().Format(time.RFC3339)

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, hashFieldProcessedAt, now)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("failed to mark webhook event processed in redis",
			zap.Error(err),
			zap.String("event_id", eventID),
		)
		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	s.logger.Debug("webhook event marked processed",
		zap.String("event_id", eventID),
		zap.Duration("ttl", ttl),
	)
	return nil
}

// IsProcessed возвращает true, если eventID уже обработан и TTL ещё не истёк
func (s *ProcessedEventsStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	_, err := s.client.HGet(ctx, processedKey(eventID), hashFieldProcessedAt).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		s.logger.Error("failed to check webhook event in redis",
			zap.Error(err),
			zap.String("event_id", eventID),
		)
		return false, fmt.Errorf("failed to check event: %w", err)
	}
	return true, nil
}

// Ping проверяет соединение с Redis (для /health)
func (s *ProcessedEventsStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
