package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestManager_ShutdownRunsInReverseOrder(t *testing.T) {
	mgr := New(time.Second, zap.NewNop())

	var order []string
	mgr.Add("postgres", func(ctx context.Context) error {
		order = append(order, "postgres")
		return nil
	})
	mgr.Add("kafka", func(ctx context.Context) error {
		order = append(order, "kafka")
		return errors.New("broker gone")
	})
	mgr.Add("http", func(ctx context.Context) error {
		order = append(order, "http")
		return nil
	})

	err := mgr.Shutdown()
	require.ErrorContains(t, err, "kafka: broker gone")
	// повторный вызов ничего не выполняет и возвращает ту же ошибку
	require.Equal(t, err, mgr.Shutdown())

	require.Equal(t, []string{"http", "kafka", "postgres"}, order)
}

func TestManager_WaitReturnsOnContextCancel(t *testing.T) {
	mgr := New(time.Second, zap.NewNop())

	called := make(chan struct{})
	mgr.Add("outbox", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		require.True(t, hasDeadline)
		close(called)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, mgr.Wait(ctx))

	select {
	case <-called:
	default:
		t.Fatal("shutdown step was not executed")
	}
}

func TestStopWorkers(t *testing.T) {
	t.Run("waits for workers to return", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		var wg sync.WaitGroup
		finished := false
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			finished = true
		}()

		require.NoError(t, StopWorkers(cancel, &wg)(context.Background()))
		require.True(t, finished)
	})

	t.Run("gives up after the step timeout", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)
		defer wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		err := StopWorkers(func() {}, &wg)(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
