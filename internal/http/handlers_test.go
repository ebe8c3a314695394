package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fjod/go_food/internal/service"
	"github.com/fjod/go_food/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockReconciler struct {
	res *service.ReconcileResult
	err error

	gotRef    string
	gotStatus string
}

func (m *MockReconciler) Reconcile(_ context.Context, txRef, reportedStatus string) (*service.ReconcileResult, error) {
	m.gotRef, m.gotStatus = txRef, reportedStatus
	return m.res, m.err
}

func TestWebhook_StatusMapping(t *testing.T) {
	orderID := uuid.New()
	tests := []struct {
		name      string
		res       *service.ReconcileResult
		err       error
		status    int
		outcome   string
		retryable bool
	}{
		{"success", &service.ReconcileResult{Outcome: service.OutcomeSuccess, OrderID: &orderID}, nil, http.StatusOK, "success", false},
		{"already processed", &service.ReconcileResult{Outcome: service.OutcomeAlreadyProcessed, OrderID: &orderID}, nil, http.StatusOK, "already_processed", false},
		{"denied", &service.ReconcileResult{Outcome: service.OutcomeFailure}, &service.Error{Kind: service.KindVerificationFailed}, http.StatusBadRequest, "failure", false},
		{"unavailable", nil, &service.Error{Kind: service.KindVerificationUnavailable}, http.StatusServiceUnavailable, "error", true},
		{"busy", nil, service.ErrBusy, http.StatusServiceUnavailable, "error", true},
		{"cart emptied", &service.ReconcileResult{Outcome: service.OutcomeFailure}, service.ErrCartEmptyAtFinalization, http.StatusConflict, "failure", false},
		{"cart changed", &service.ReconcileResult{Outcome: service.OutcomeFailure}, &service.Error{Kind: service.KindAmountMismatch}, http.StatusConflict, "failure", false},
		{"invalid metadata", nil, &service.Error{Kind: service.KindInvalidDeliveryRequest}, http.StatusBadRequest, "error", false},
		{"not found", nil, service.ErrTransactionNotFound, http.StatusNotFound, "not_found", false},
		{"internal", nil, errors.New("boom"), http.StatusInternalServerError, "error", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &MockReconciler{res: tt.res, err: tt.err}
			h := NewPaymentsHandler(nil, rec, "", time.Second, logger.Discard())

			recorder := httptest.NewRecorder()
			h.Webhook(recorder, httptest.NewRequest(http.MethodGet, "/payments/webhook?tx_ref=chapa-tx-1&status=success", nil))

			assert.Equal(t, tt.status, recorder.Code)
			var body WebhookResponse
			require.NoError(t, json.NewDecoder(recorder.Body).Decode(&body))
			assert.Equal(t, tt.outcome, body.Outcome)
			assert.Equal(t, tt.retryable, body.Retryable)
			assert.Equal(t, "chapa-tx-1", body.TxRef)
			if tt.retryable {
				assert.Equal(t, "1", recorder.Header().Get("Retry-After"))
			}
			assert.Equal(t, "chapa-tx-1", rec.gotRef)
			assert.Equal(t, "success", rec.gotStatus)
		})
	}
}

func TestWebhook_QueryTakesPrecedenceOverBody(t *testing.T) {
	rec := &MockReconciler{res: &service.ReconcileResult{Outcome: service.OutcomeSuccess}}
	h := NewPaymentsHandler(nil, rec, "", time.Second, logger.Discard())

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook?trx_ref=from-query", jsonBody(t, map[string]string{"tx_ref": "from-body", "status": "failed"}))
	req.Header.Set("Content-Type", "application/json")
	h.Webhook(httptest.NewRecorder(), req)

	assert.Equal(t, "from-query", rec.gotRef)
	assert.Equal(t, "failed", rec.gotStatus)
}

func TestWebhook_MalformedJSON(t *testing.T) {
	rec := &MockReconciler{}
	h := NewPaymentsHandler(nil, rec, "", time.Second, logger.Discard())

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	h.Webhook(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Empty(t, rec.gotRef)
}

func TestGetCart_Unauthorized(t *testing.T) {
	handler := NewCartHandler(nil, 5*time.Second, logger.Discard())

	recorder := httptest.NewRecorder()
	handler.GetCart(recorder, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	var response ErrorResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&response))
	assert.Equal(t, "unauthorized", response.Code)
}

func TestStatusFor_AllKinds(t *testing.T) {
	tests := map[service.Kind]int{
		service.KindEmptyCart:               http.StatusBadRequest,
		service.KindInvalidDeliveryRequest:  http.StatusBadRequest,
		service.KindMissingReference:        http.StatusBadRequest,
		service.KindTransactionNotFound:     http.StatusNotFound,
		service.KindVerificationFailed:      http.StatusBadRequest,
		service.KindVerificationUnavailable: http.StatusServiceUnavailable,
		service.KindCartEmptyAtFinalization: http.StatusConflict,
		service.KindAmountMismatch:          http.StatusConflict,
		service.KindBusy:                    http.StatusServiceUnavailable,
		service.KindOrderNotFound:           http.StatusNotFound,
		service.KindIllegalTransition:       http.StatusConflict,
		service.KindItemNotFound:            http.StatusNotFound,
		service.KindCartLineNotFound:        http.StatusNotFound,
		service.KindGatewayUnavailable:      http.StatusBadGateway,
		service.KindPaymentRejected:         http.StatusBadRequest,
		service.KindInvalidRequest:          http.StatusBadRequest,
	}
	for kind, want := range tests {
		assert.Equal(t, want, statusFor(kind), string(kind))
	}
}

func TestWriteServiceError_HidesInternalDetail(t *testing.T) {
	recorder := httptest.NewRecorder()
	writeServiceError(recorder, logger.Discard(), httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.NotContains(t, recorder.Body.String(), "password")
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}
