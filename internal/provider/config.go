package provider

import "time"

const (
	DefaultBaseURL          = "https://api.stripe.com"
	DefaultMaxAttempts      = 3
	DefaultRetryDelay       = 100 * time.Millisecond
	DefaultTimeout          = 30 * time.Second
	DefaultWebhookTolerance = 300 * time.Second
	DefaultCurrency         = "eur"
)

// Config настройки клиента провайдера
type Config struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	// WebhookTolerance допустимое расхождение времени подписи webhook
	WebhookTolerance time.Duration
	MaxAttempts      int
	// RetryDelay база линейной задержки: перед попыткой n+1 ждём RetryDelay*n
	RetryDelay time.Duration
	Timeout    time.Duration
	// RPS лимит исходящих запросов в секунду, 0 — без лимита
	RPS   float64
	Burst int
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.WebhookTolerance <= 0 {
		c.WebhookTolerance = DefaultWebhookTolerance
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}
