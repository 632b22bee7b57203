package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/shestoi/paygate/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError переводит ошибку сервисного слоя в HTTP ответ
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		validationErr *service.ValidationError
		notFoundErr   *service.NotFoundError
	)
	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Message: validationErr.Message, Reason: validationErr.Reason})
	case errors.As(err, &notFoundErr):
		writeJSON(w, http.StatusNotFound, errorResponse{Message: notFoundErr.Entity + " not found"})
	default:
		logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "Server Error"})
	}
}

func invalidData(w http.ResponseWriter, reason string) {
	writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Message: "The given data was invalid.", Reason: reason})
}
