package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shestoi/paygate/internal/api/http/middleware"
	platformhealth "github.com/shestoi/paygate/platform/health/http"
	platformobservability "github.com/shestoi/paygate/platform/observability"
)

// RouterConfig настройки роутера
type RouterConfig struct {
	// JWTSecret ключ HS256 для bearer токенов
	JWTSecret []byte
	// RateLimitPerMinute запросов в минуту на пользователя
	RateLimitPerMinute int
	// Metrics обработчик /metrics, nil — без него
	Metrics http.Handler
	// HealthChecks выполняются на /health
	HealthChecks []platformhealth.Check
}

// NewRouter создаёт и настраивает HTTP роутер платёжного сервиса
func NewRouter(handler *Handler, cfg RouterConfig, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	// Observability: trace context + span на каждый запрос, logger с trace_id в контексте
	if logger != nil {
		router.Use(platformobservability.HTTPMiddleware("paygate", logger))
	}

	// Webhook аутентифицируется подписью, не токеном
	router.Post("/webhooks/payment", handler.PaymentWebhook)

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)
	router.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(cfg.JWTSecret))
		r.Use(limiter.Middleware)

		r.Get("/orders", handler.ListOrders)
		r.Post("/orders", handler.CreateOrder)
		r.Get("/orders/{id}", handler.GetOrder)
		r.Post("/orders/{id}/pay", handler.PayOrder)
		r.Get("/transactions/{id}", handler.GetTransaction)
		r.Post("/transactions/{id}/verify", handler.VerifyTransaction)
		r.Get("/transactions/{id}/webhooks", handler.TransactionWebhooks)
	})

	router.Get("/health", platformhealth.Handler(2*time.Second, cfg.HealthChecks...))
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics)
	}

	return router
}
