package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Коды ошибок провайдера. Первые четыре считаются временными
const (
	CodeTimeout     = "timeout"
	CodeRateLimit   = "rate_limit"
	CodeServerError = "server_error"
	CodeNetwork     = "network"

	CodeCardDeclined   = "card_declined"
	CodeInvalidRequest = "invalid_request"
	CodeDecode         = "decode_error"
)

// ProviderError ошибка вызова платёжного провайдера
type ProviderError struct {
	// Retryable повтор вызова может завершиться успешно
	Retryable  bool
	Code       string
	HTTPStatus int
	Message    string
	// Attempts сколько попыток сделано до этой ошибки (0 для одиночной попытки)
	Attempts int

	err error
}

func (e *ProviderError) Error() string {
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.err
}

// IsRetryable сообщает, что err — временная ошибка провайдера
func IsRetryable(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.Retryable
}

// SignatureError подпись webhook отсутствует, некорректна или устарела
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string {
	return "invalid webhook signature: " + e.Reason
}

func isRetryableCode(code string) bool {
	switch code {
	case CodeTimeout, CodeRateLimit, CodeServerError, CodeNetwork:
		return true
	}
	return false
}

func newProviderError(code string, status int, message string, cause error) *ProviderError {
	return &ProviderError{
		Retryable:  isRetryableCode(code),
		Code:       code,
		HTTPStatus: status,
		Message:    message,
		err:        cause,
	}
}

// apiErrorBody тело ошибки в формате Stripe: {"error": {"type", "code", "message"}}
type apiErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// classifyResponse превращает не-2xx ответ провайдера в ProviderError
func classifyResponse(status int, body []byte, fallback string) *ProviderError {
	var apiErr apiErrorBody
	_ = json.Unmarshal(body, &apiErr)

	message := apiErr.Error.Message
	if message == "" {
		message = fallback
	}

	code := apiErr.Error.Code
	switch {
	case status == http.StatusTooManyRequests,
		code == "rate_limit_exceeded",
		strings.EqualFold(message, "too many requests"):
		code = CodeRateLimit
	case status >= 500, apiErr.Error.Type == "api_error":
		code = CodeServerError
	case code == "timeout":
		code = CodeTimeout
	case code == "":
		code = apiErr.Error.Type
	}
	if code == "" {
		code = CodeInvalidRequest
	}
	return newProviderError(code, status, message, nil)
}

// classifyTransport превращает ошибку транспорта в ProviderError.
// Отмена родительского контекста классифицируется вызывающим кодом до этого.
func classifyTransport(err error) *ProviderError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return newProviderError(CodeTimeout, 0, "timeout", err)
	}
	return newProviderError(CodeNetwork, 0, fmt.Sprintf("network error: %v", err), err)
}

// exhausted собирает ошибку после всех попыток: сообщение перечисляет каждую попытку,
// код, статус и причина берутся из последней
func exhausted(attempts []*ProviderError) *ProviderError {
	last := attempts[len(attempts)-1]
	parts := make([]string, 0, len(attempts))
	for i, a := range attempts {
		parts = append(parts, fmt.Sprintf("attempt %d: %s", i+1, a.Message))
	}
	return &ProviderError{
		Retryable:  last.Retryable,
		Code:       last.Code,
		HTTPStatus: last.HTTPStatus,
		Message:    fmt.Sprintf("payment failed after %d attempts: %s", len(attempts), strings.Join(parts, ", ")),
		Attempts:   len(attempts),
		err:        last,
	}
}
