package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeaderName заголовок с подписью webhook
const SignatureHeaderName = "Stripe-Signature"

// ComputeSignature возвращает hex(HMAC-SHA256(secret, "<unix>.<payload>"))
func ComputeSignature(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader собирает значение заголовка "t=<unix>,v1=<hex>"
func SignatureHeader(payload []byte, secret string, ts time.Time) string {
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), ComputeSignature(payload, secret, ts))
}

// VerifySignature проверяет заголовок подписи webhook.
// Подходит любая из v1 подписей; время подписи должно быть в пределах tolerance от now.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return &SignatureError{Reason: "webhook secret is not configured"}
	}
	if strings.TrimSpace(header) == "" {
		return &SignatureError{Reason: "missing signature header"}
	}

	var (
		ts         int64
		haveTS     bool
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return &SignatureError{Reason: "malformed signature header"}
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return &SignatureError{Reason: "malformed timestamp"}
			}
			ts, haveTS = parsed, true
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if !haveTS {
		return &SignatureError{Reason: "missing timestamp"}
	}
	if len(signatures) == 0 {
		return &SignatureError{Reason: "missing v1 signature"}
	}

	signedAt := time.Unix(ts, 0)
	if diff := now.Sub(signedAt); diff > tolerance || diff < -tolerance {
		return &SignatureError{Reason: "timestamp outside tolerance window"}
	}

	expected, _ := hex.DecodeString(ComputeSignature(payload, secret, signedAt))
	for _, sig := range signatures {
		got, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, got) {
			return nil
		}
	}
	return &SignatureError{Reason: "signature mismatch"}
}
