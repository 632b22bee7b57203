package service

import (
	"context"
	"time"

	"github.com/shestoi/paygate/internal/provider"
	"github.com/shestoi/paygate/internal/repository"
)

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=Gateway --dir=. --output=./mocks --outpkg=mocks

// Gateway платёжный провайдер. Единственная реализация — provider.Client
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, in provider.CreateIntentInput) (*provider.Intent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*provider.Intent, error)
	// VerifyWebhookSignature возвращает *provider.SignatureError, если подпись не подходит
	VerifyWebhookSignature(payload []byte, header string) error
	ParseEvent(payload []byte) (*provider.Event, error)
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=JobPublisher --dir=. --output=./mocks --outpkg=mocks

// JobPublisher ставит платёжную задачу в очередь
type JobPublisher interface {
	PublishPaymentJob(ctx context.Context, job PaymentJob) error
}

// ProcessedEventsStore хранит информацию об обработанных webhook событиях для обеспечения idempotency
type ProcessedEventsStore interface {
	// MarkProcessed сохраняет eventID как обработанный на ttl
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error
	// IsProcessed возвращает true если eventID уже был обработан и ещё не истёк ttl
	IsProcessed(ctx context.Context, eventID string) (bool, error)
}

// WebhookArchive хранит сырые webhook события для аудита
type WebhookArchive interface {
	Archive(ctx context.Context, rec repository.WebhookRecord) error
	ListByProviderRef(ctx context.Context, providerRef string) ([]repository.WebhookRecord, error)
}

// PaymentDetails чувствительные данные платёжного метода. Не логируются и не сохраняются
type PaymentDetails struct {
	Number string `json:"number" validate:"required,numeric,min=12,max=19"`
	Expiry string `json:"expiry" validate:"required"`
	CVV    string `json:"cvv" validate:"required,numeric,min=3,max=4"`
}

// PaymentJob задача оплаты заказа, доставляется at-least-once
type PaymentJob struct {
	JobID   string
	OrderID string
	UserID  string
	Method  string
	Details PaymentDetails
	// Attempt номер доставки задачи, начиная с 1
	Attempt     int
	RequestedAt time.Time
}
