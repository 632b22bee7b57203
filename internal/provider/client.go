package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shestoi/paygate/internal/metrics"
)

// Name имя провайдера в transactions.payment_provider
const Name = "stripe"

const (
	opCreateIntent   = "create_intent"
	opRetrieveIntent = "retrieve_intent"
)

// Intent payment intent провайдера
type Intent struct {
	ID       string
	Status   string
	Amount   int64
	Currency string
	// Raw полный ответ провайдера, сохраняется в response_data
	Raw map[string]any
}

// Succeeded сообщает, что платёж по intent проведён
func (i *Intent) Succeeded() bool {
	return i.Status == "succeeded"
}

// Failed сообщает, что провайдер окончательно отклонил intent
func (i *Intent) Failed() bool {
	return i.Status == "canceled" || i.Status == "failed" || i.Status == "requires_payment_method"
}

// CreateIntentInput параметры создания payment intent
type CreateIntentInput struct {
	Amount   decimal.Decimal
	Currency string
	// Method тип платёжного метода (card)
	Method   string
	Card     Card
	Metadata map[string]string
	// IdempotencyKey защищает от двойного списания при повторах
	IdempotencyKey string
}

// Client HTTP клиент платёжного провайдера с повторами, лимитом запросов и трейсингом
type Client struct {
	cfg     Config
	http    *req.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  *zap.Logger
	now     func() time.Time
	// backoff строит расписание задержек между попытками одного вызова
	backoff func(base time.Duration) retry.Backoff
}

// NewClient создаёт клиент провайдера
func NewClient(cfg Config, logger *zap.Logger, m *metrics.Metrics) *Client {
	cfg = cfg.withDefaults()

	httpClient := req.C().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetUserAgent("paygate/1.0").
		SetCommonBearerAuthToken(cfg.SecretKey)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
	}

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: limiter,
		metrics: m,
		tracer:  otel.Tracer("paygate/provider"),
		logger:  logger,
		now:     time.Now,
		backoff: linearBackoff,
	}
}

// CreatePaymentIntent создаёт и подтверждает payment intent, повторяя временные ошибки
func (c *Client) CreatePaymentIntent(ctx context.Context, in CreateIntentInput) (*Intent, error) {
	currency := strings.ToLower(in.Currency)
	if currency == "" {
		currency = DefaultCurrency
	}
	method := in.Method
	if method == "" {
		method = "card"
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(MinorUnits(in.Amount), 10))
	form.Set("currency", currency)
	form.Set("confirm", "true")
	form.Add("payment_method_types[]", method)
	form.Set("payment_method[type]", method)
	if method == "card" {
		form.Set("payment_method[card][number]", in.Card.Number)
		form.Set("payment_method[card][exp_month]", in.Card.ExpMonth)
		form.Set("payment_method[card][exp_year]", in.Card.ExpYear)
		form.Set("payment_method[card][cvc]", in.Card.CVC)
	}
	for k, v := range in.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	ctx, span := c.tracer.Start(ctx, "provider.create_intent", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("payment.currency", currency),
			attribute.String("payment.idempotency_key", in.IdempotencyKey),
		))
	defer span.End()

	intent, err := c.withRetry(ctx, opCreateIntent, func(ctx context.Context) (*Intent, error) {
		r := c.http.R().SetContext(ctx).SetFormDataFromValues(form)
		if in.IdempotencyKey != "" {
			r.SetHeader("Idempotency-Key", in.IdempotencyKey)
		}
		started := c.now()
		resp, err := r.Post("/v1/payment_intents")
		return c.decode(ctx, opCreateIntent, started, resp, err, "Payment failed")
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("payment.intent_id", intent.ID), attribute.String("payment.intent_status", intent.Status))
	return intent, nil
}

// RetrievePaymentIntent получает актуальное состояние payment intent
func (c *Client) RetrievePaymentIntent(ctx context.Context, id string) (*Intent, error) {
	ctx, span := c.tracer.Start(ctx, "provider.retrieve_intent", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("payment.intent_id", id)))
	defer span.End()

	intent, err := c.withRetry(ctx, opRetrieveIntent, func(ctx context.Context) (*Intent, error) {
		started := c.now()
		resp, err := c.http.R().SetContext(ctx).Get("/v1/payment_intents/" + url.PathEscape(id))
		return c.decode(ctx, opRetrieveIntent, started, resp, err, "Payment verification failed")
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return intent, nil
}

// VerifyWebhookSignature проверяет подпись webhook секретом из конфигурации
func (c *Client) VerifyWebhookSignature(payload []byte, header string) error {
	return VerifySignature(payload, header, c.cfg.WebhookSecret, c.cfg.WebhookTolerance, c.now())
}

// ParseEvent разбирает тело webhook
func (c *Client) ParseEvent(payload []byte) (*Event, error) {
	return ParseEvent(payload)
}

// withRetry выполняет fn до MaxAttempts раз с линейной задержкой RetryDelay*n.
// Неповторяемая ошибка прерывает цикл; итоговая ошибка перечисляет все попытки.
func (c *Client) withRetry(ctx context.Context, op string, fn func(ctx context.Context) (*Intent, error)) (*Intent, error) {
	var (
		result   *Intent
		attempts []*ProviderError
	)

	backoff := retry.WithMaxRetries(uint64(c.cfg.MaxAttempts-1), c.backoff(c.cfg.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		intent, err := fn(ctx)
		if err == nil {
			result = intent
			return nil
		}

		var perr *ProviderError
		if !errors.As(err, &perr) {
			return err
		}
		attempts = append(attempts, perr)
		if !IsRetryable(perr) {
			return perr
		}

		c.logger.Warn("provider call failed, will retry",
			zap.String("operation", op),
			zap.Int("attempt", len(attempts)),
			zap.Int("max_attempts", c.cfg.MaxAttempts),
			zap.String("code", perr.Code),
			zap.String("error", perr.Message),
		)
		trace.SpanFromContext(ctx).AddEvent("retry", trace.WithAttributes(
			attribute.Int("attempt", len(attempts)),
			attribute.String("code", perr.Code),
		))
		return retry.RetryableError(perr)
	})
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil || len(attempts) == 0 {
		return nil, err
	}
	return nil, exhausted(attempts)
}

// linearBackoff возвращает задержки base, 2*base, 3*base...
func linearBackoff(base time.Duration) retry.Backoff {
	var n int64
	return retry.BackoffFunc(func() (time.Duration, bool) {
		n++
		return base * time.Duration(n), false
	})
}

// decode превращает ответ req в Intent или ProviderError
func (c *Client) decode(ctx context.Context, op string, started time.Time, resp *req.Response, err error, fallback string) (*Intent, error) {
	took := c.now().Sub(started)

	if err != nil {
		// отмена вызывающим не является ошибкой провайдера
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		perr := classifyTransport(err)
		c.metrics.ProviderCall(op, perr.Code, took)
		return nil, perr
	}

	body := resp.Bytes()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := classifyResponse(resp.StatusCode, body, fallback)
		c.metrics.ProviderCall(op, perr.Code, took)
		return nil, perr
	}

	intent, decodeErr := decodeIntent(body)
	if decodeErr != nil {
		c.metrics.ProviderCall(op, CodeDecode, took)
		return nil, newProviderError(CodeDecode, resp.StatusCode, decodeErr.Error(), decodeErr)
	}
	c.metrics.ProviderCall(op, "ok", took)
	return intent, nil
}

func decodeIntent(body []byte) (*Intent, error) {
	raw := make(map[string]any)
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	var typed struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(body, &typed); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	if typed.ID == "" {
		return nil, fmt.Errorf("payment intent has no id")
	}
	return &Intent{
		ID:       typed.ID,
		Status:   typed.Status,
		Amount:   typed.Amount,
		Currency: typed.Currency,
		Raw:      raw,
	}, nil
}
