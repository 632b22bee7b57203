package authctx

import (
	"context"
)

type ctxKeyUserID struct{}

var userIDKey = ctxKeyUserID{}

// WithUserID сохраняет id пользователя из токена в контексте (используется HTTP middleware)
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext возвращает id пользователя из контекста, если он был установлен
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}
