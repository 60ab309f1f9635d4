package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"ledger-service/internal/application"
	"ledger-service/internal/domain"
	"ledger-service/internal/infrastructure/logx"
)

type errorBody struct {
	Kind   string         `json:"kind,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

func writeJSON[T any](w http.ResponseWriter, status int, msg string, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(application.NewResponse(msg, data).WithStatus(status))
}

func writeError(w http.ResponseWriter, status int, msg string, body *errorBody) {
	writeJSON(w, status, msg, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, msg, &errorBody{Kind: string(domain.KindInvalidArgument)})
}

// statusFor maps a service error to an HTTP status.
func statusFor(err error) int {
	// A TxError may also wrap the work's domain error; the infrastructure
	// failure takes precedence.
	if application.IsTxInfrastructure(err) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	var derr *domain.Error
	if errors.As(err, &derr) {
		switch derr.Kind {
		case domain.KindInvalidArgument:
			return http.StatusBadRequest
		case domain.KindNotFound:
			return http.StatusNotFound
		case domain.KindConflict:
			return http.StatusConflict
		case domain.KindInsufficientFunds, domain.KindCurrencyMismatch:
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	var derr *domain.Error
	if status < http.StatusInternalServerError && errors.As(err, &derr) {
		writeError(w, status, derr.Message, &errorBody{Kind: derr.Name(), Fields: derr.Fields()})
		return
	}
	logx.WithFields(r.Context()).Error("request_failed", zap.Int("status", status), zap.Error(err))
	writeError(w, status, http.StatusText(status), nil)
}
