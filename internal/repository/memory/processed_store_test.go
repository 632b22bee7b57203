package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProcessedEventsStore_MarkProcessed_IsProcessed(t *testing.T) {
	ctx := context.Background()
	store := NewProcessedEventsStore()

	// Сначала событие не обработано
	processed, err := store.IsProcessed(ctx, "evt_1")
	assert.NoError(t, err)
	assert.False(t, processed)

	assert.NoError(t, store.MarkProcessed(ctx, "evt_1", time.Hour))

	processed, err = store.IsProcessed(ctx, "evt_1")
	assert.NoError(t, err)
	assert.True(t, processed)

	// Другие события не затронуты
	processed, err = store.IsProcessed(ctx, "evt_2")
	assert.NoError(t, err)
	assert.False(t, processed)
}

func TestProcessedEventsStore_TTLExpiration(t *testing.T) {
	ctx := context.Background()
	store := NewProcessedEventsStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	assert.NoError(t, store.MarkProcessed(ctx, "evt_1", time.Minute))
	assert.NoError(t, store.MarkProcessed(ctx, "evt_2", time.Hour))

	now = now.Add(2 * time.Minute)

	processed, err := store.IsProcessed(ctx, "evt_1")
	assert.NoError(t, err)
	assert.False(t, processed)

	processed, err = store.IsProcessed(ctx, "evt_2")
	assert.NoError(t, err)
	assert.True(t, processed)

	// ленивая очистка при следующей записи
	assert.NoError(t, store.MarkProcessed(ctx, "evt_3", time.Minute))
	assert.Len(t, store.events, 2)
}
