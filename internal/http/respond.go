package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/go_food/internal/service"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindEmptyCart, service.KindInvalidDeliveryRequest, service.KindInvalidRequest,
		service.KindMissingReference, service.KindVerificationFailed, service.KindPaymentRejected:
		return http.StatusBadRequest
	case service.KindTransactionNotFound, service.KindOrderNotFound,
		service.KindItemNotFound, service.KindCartLineNotFound:
		return http.StatusNotFound
	case service.KindCartEmptyAtFinalization, service.KindAmountMismatch, service.KindIllegalTransition:
		return http.StatusConflict
	case service.KindVerificationUnavailable, service.KindBusy:
		return http.StatusServiceUnavailable
	case service.KindGatewayUnavailable:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeServiceError renders err. Errors that are not *service.Error are
// logged and reported as internal errors without detail.
func writeServiceError(w http.ResponseWriter, log *slog.Logger, r *http.Request, err error) {
	var se *service.Error
	if !errors.As(err, &se) {
		log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "request_id", getRequestID(r.Context()), "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	if se.Retryable() {
		w.Header().Set("Retry-After", "1")
	}
	msg := se.Message
	if msg == "" {
		msg = string(se.Kind)
	}
	respondJSON(w, statusFor(se.Kind), ErrorResponse{
		Error:     msg,
		Code:      string(se.Kind),
		Field:     se.Field,
		Retryable: se.Retryable(),
	})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
