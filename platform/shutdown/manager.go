package shutdown

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Step именованный шаг остановки
type Step struct {
	Name string
	Fn   func(context.Context) error
}

// Manager останавливает зависимости сервиса в порядке, обратном регистрации.
// Шаги регистрируются по мере создания: сначала хранилища, последним HTTP сервер,
// поэтому сервер перестаёт принимать запросы до того, как закрываются kafka и БД.
type Manager struct {
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	steps []Step

	once sync.Once
	err  error
}

// New создаёт Manager; timeout ограничивает каждый шаг отдельно
func New(timeout time.Duration, logger *zap.Logger) *Manager {
	return &Manager{timeout: timeout, logger: logger}
}

// Add регистрирует шаг остановки
func (m *Manager) Add(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, Step{Name: name, Fn: fn})
}

// Wait блокируется до SIGINT/SIGTERM или отмены ctx и выполняет Shutdown
func (m *Manager) Wait(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		m.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		m.logger.Info("Context cancelled, shutting down")
	}
	return m.Shutdown()
}

// Shutdown выполняет шаги один раз. Ошибка шага не прерывает остальные;
// возвращаются все ошибки, объединённые через errors.Join
func (m *Manager) Shutdown() error {
	m.once.Do(func() {
		m.mu.Lock()
		steps := append([]Step(nil), m.steps...)
		m.mu.Unlock()

		var errs []error
		for i := len(steps) - 1; i >= 0; i-- {
			if err := m.run(steps[i]); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", steps[i].Name, err))
			}
		}
		m.err = errors.Join(errs...)
		m.logger.Info("Graceful shutdown completed", zap.Int("failed_steps", len(errs)))
	})
	return m.err
}

func (m *Manager) run(step Step) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	start := time.Now()
	err := step.Fn(ctx)
	fields := []zap.Field{zap.String("step", step.Name), zap.Duration("duration", time.Since(start))}
	if err != nil {
		m.logger.Error("Shutdown step failed", append(fields, zap.Error(err))...)
		return err
	}
	m.logger.Info("Shutdown step completed", fields...)
	return nil
}

// ShutdownHTTPServer останавливает http.Server, дожидаясь активных запросов
func ShutdownHTTPServer(srv interface {
	Shutdown(context.Context) error
}) func(context.Context) error {
	return srv.Shutdown
}

// DisconnectMongo закрывает клиент MongoDB
func DisconnectMongo(client interface {
	Disconnect(context.Context) error
}) func(context.Context) error {
	return client.Disconnect
}

// ClosePool закрывает pgxpool
func ClosePool(pool interface {
	Close()
}) func(context.Context) error {
	return func(context.Context) error {
		pool.Close()
		return nil
	}
}

// CloseCloser закрывает kafka reader/writer или redis клиент
func CloseCloser(c io.Closer) func(context.Context) error {
	return func(context.Context) error {
		return c.Close()
	}
}

// StopWorkers отменяет контекст фоновых воркеров и ждёт их завершения,
// чтобы задача, начатая консьюмером, дописала результат до закрытия kafka и БД
func StopWorkers(cancel context.CancelFunc, wg *sync.WaitGroup) func(context.Context) error {
	return func(ctx context.Context) error {
		cancel()
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("workers did not stop: %w", ctx.Err())
		}
	}
}
