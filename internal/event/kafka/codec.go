package kafka

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/shestoi/paygate/internal/service"
)

// KeySize длина ключа PAYMENT_JOB_KEY в байтах
const KeySize = 32

const nonceSize = 24

// EventTypePaymentRequested тип сообщения в очереди платёжных задач
const EventTypePaymentRequested = "payment.requested"

// jobMessage формат задачи в Kafka. Данные карты лежат только в SealedDetails
type jobMessage struct {
	EventType     string    `json:"event_type"`
	JobID         string    `json:"job_id"`
	OrderID       string    `json:"order_id"`
	UserID        string    `json:"user_id"`
	PaymentMethod string    `json:"payment_method"`
	Attempt       int       `json:"attempt"`
	RequestedAt   time.Time `json:"requested_at"`
	SealedDetails string    `json:"sealed_details,omitempty"`
}

// JobCodec сериализует платёжные задачи и шифрует данные карты (nacl/secretbox)
type JobCodec struct {
	key [KeySize]byte
}

// NewJobCodec создаёт кодек из ключа длиной KeySize
func NewJobCodec(key []byte) (*JobCodec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("payment job key must be %d bytes, got %d", KeySize, len(key))
	}
	c := &JobCodec{}
	copy(c.key[:], key)
	return c, nil
}

// NewJobCodecFromBase64 создаёт кодек из ключа в base64 (формат PAYMENT_JOB_KEY)
func NewJobCodecFromBase64(encoded string) (*JobCodec, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode payment job key: %w", err)
	}
	return NewJobCodec(key)
}

// Encode сериализует задачу
func (c *JobCodec) Encode(job service.PaymentJob) ([]byte, error) {
	msg := jobMessage{
		EventType:     EventTypePaymentRequested,
		JobID:         job.JobID,
		OrderID:       job.OrderID,
		UserID:        job.UserID,
		PaymentMethod: job.Method,
		Attempt:       job.Attempt,
		RequestedAt:   job.RequestedAt.UTC(),
	}
	if job.Details != (service.PaymentDetails{}) {
		plain, err := json.Marshal(job.Details)
		if err != nil {
			return nil, fmt.Errorf("marshal payment details: %w", err)
		}
		var nonce [nonceSize]byte
		if _, err := rand.Read(nonce[:]); err != nil {
			return nil, fmt.Errorf("generate nonce: %w", err)
		}
		sealed := secretbox.Seal(nonce[:], plain, &nonce, &c.key)
		msg.SealedDetails = base64.StdEncoding.EncodeToString(sealed)
	}
	return json.Marshal(msg)
}

// Decode разбирает задачу. Ошибка означает poison message
func (c *JobCodec) Decode(value []byte) (service.PaymentJob, error) {
	var msg jobMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return service.PaymentJob{}, &ParseError{Field: "value", Message: "invalid payment job json: " + err.Error()}
	}
	if msg.EventType != EventTypePaymentRequested {
		return service.PaymentJob{}, &ParseError{Field: "event_type", Message: "unexpected event_type " + msg.EventType}
	}
	if msg.OrderID == "" {
		return service.PaymentJob{}, &ParseError{Field: "order_id", Message: "order_id is required"}
	}

	job := service.PaymentJob{
		JobID:       msg.JobID,
		OrderID:     msg.OrderID,
		UserID:      msg.UserID,
		Method:      msg.PaymentMethod,
		Attempt:     msg.Attempt,
		RequestedAt: msg.RequestedAt,
	}
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	if msg.SealedDetails == "" {
		return job, nil
	}

	sealed, err := base64.StdEncoding.DecodeString(msg.SealedDetails)
	if err != nil || len(sealed) < nonceSize {
		return service.PaymentJob{}, &ParseError{Field: "sealed_details", Message: "malformed sealed_details"}
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &c.key)
	if !ok {
		return service.PaymentJob{}, &ParseError{Field: "sealed_details", Message: "sealed_details cannot be opened with the configured key"}
	}
	if err := json.Unmarshal(plain, &job.Details); err != nil {
		return service.PaymentJob{}, &ParseError{Field: "sealed_details", Message: "invalid payment details"}
	}
	return job, nil
}

// ParseError сообщение из очереди не удалось разобрать
type ParseError struct {
	Field   string
	Message string
}

func (e *ParseError) Error() string {
	return e.Message
}
