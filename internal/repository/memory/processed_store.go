package memory

import (
	"context"
	"sync"
	"time"
)

// ProcessedEventsStore хранит id обработанных событий в map с TTL.
// Используется для STORAGE=memory и тестов, в docker окружении заменяется Redis.
type ProcessedEventsStore struct {
	mu     sync.Mutex
	events map[string]time.Time // eventID -> expiresAt
	now    func() time.Time
}

// NewProcessedEventsStore создаёт новый in-memory store
func NewProcessedEventsStore() *ProcessedEventsStore {
	return &ProcessedEventsStore{
		events: make(map[string]time.Time),
		now:    time.Now,
	}
}

// MarkProcessed сохраняет eventID как обработанный с указанным ttl
func (s *ProcessedEventsStore) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Ленивая очистка протухших записей
	s.cleanupExpiredLocked()
	s.events[eventID] = s.now().Add(ttl)
	return nil
}

// IsProcessed возвращает true, если eventID уже обработан и ttl не истёк
func (s *ProcessedEventsStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, exists := s.events[eventID]
	if !exists {
		return false, nil
	}
	if s.now().After(expiresAt) {
		delete(s.events, eventID)
		return false, nil
	}
	return true, nil
}

// cleanupExpiredLocked удаляет протухшие записи (вызывается с уже захваченным lock)
func (s *ProcessedEventsStore) cleanupExpiredLocked() {
	now := s.now()
	for eventID, expiresAt := range s.events {
		if now.After(expiresAt) {
			delete(s.events, eventID)
		}
	}
}
