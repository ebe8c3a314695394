package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fjod/go_food/internal/domain"
	"github.com/fjod/go_food/internal/service"
)

type PaymentsHandler struct {
	payments   PaymentService
	reconciler Reconciler
	webAppURL  string
	timeout    time.Duration
	log        *slog.Logger
}

func NewPaymentsHandler(payments PaymentService, reconciler Reconciler, webAppURL string, timeout time.Duration, log *slog.Logger) *PaymentsHandler {
	return &PaymentsHandler{
		payments:   payments,
		reconciler: reconciler,
		webAppURL:  strings.TrimRight(webAppURL, "/"),
		timeout:    timeout,
		log:        log,
	}
}

type InitiateRequestDTO struct {
	domain.DeliveryRequest
	Mobile bool `json:"mobile"`
}

type InitiateResponseDTO struct {
	TxRef       string `json:"tx_ref"`
	CheckoutURL string `json:"checkout_url"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
}

// WebhookResponse is the body of every webhook response.
type WebhookResponse struct {
	Outcome   string  `json:"outcome"`
	TxRef     string  `json:"tx_ref,omitempty"`
	OrderID   *string `json:"order_id,omitempty"`
	Code      string  `json:"code,omitempty"`
	Retryable bool    `json:"retryable"`
}

func (h *PaymentsHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req InitiateRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.payments.Initiate(ctx, p.UserID, service.InitiateRequest{Delivery: req.DeliveryRequest, Mobile: req.Mobile})
	if err != nil {
		writeServiceError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, InitiateResponseDTO{
		TxRef:       res.TxRef,
		CheckoutURL: res.CheckoutURL,
		Amount:      res.Amount.StringFixed(2),
		Currency:    domain.Currency,
	})
}

type notification struct {
	txRef    string
	status   string
	redirect bool
}

// readNotification extracts the reference and reported status from the
// query string, a form body or a JSON body, in that order of precedence.
func readNotification(r *http.Request) (notification, error) {
	q := r.URL.Query()
	n := notification{
		txRef:    firstNonEmpty(q.Get("trx_ref"), q.Get("tx_ref")),
		status:   q.Get("status"),
		redirect: q.Get("redirect") == "1",
	}
	if r.Method != http.MethodPost || r.Body == nil {
		return n, nil
	}

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseForm(); err != nil {
			return n, err
		}
		n.txRef = firstNonEmpty(n.txRef, r.PostForm.Get("trx_ref"), r.PostForm.Get("tx_ref"))
		n.status = firstNonEmpty(n.status, r.PostForm.Get("status"))
	default:
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			return n, err
		}
		if len(strings.TrimSpace(string(body))) == 0 {
			return n, nil
		}
		var payload struct {
			TrxRef string `json:"trx_ref"`
			TxRef  string `json:"tx_ref"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return n, err
		}
		n.txRef = firstNonEmpty(n.txRef, payload.TrxRef, payload.TxRef)
		n.status = firstNonEmpty(n.status, payload.Status)
	}
	return n, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Webhook reconciles a gateway notification. It is safe for the gateway and
// the browser to call it any number of times.
func (h *PaymentsHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	n, err := readNotification(r)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, WebhookResponse{Outcome: "error", Code: string(service.KindInvalidRequest)})
		return
	}

	ctx := r.Context()
	res, err := h.reconciler.Reconcile(ctx, n.txRef, n.status)

	status, body := webhookResponse(n.txRef, res, err)
	if status == http.StatusInternalServerError {
		h.log.ErrorContext(ctx, "webhook reconciliation failed", "tx_ref", n.txRef, "request_id", getRequestID(ctx), "error", err)
	}

	if n.redirect && r.Method == http.MethodGet && h.webAppURL != "" {
		http.Redirect(w, r, h.redirectURL(n.txRef, body.Outcome), http.StatusFound)
		return
	}
	if body.Retryable {
		w.Header().Set("Retry-After", "1")
	}
	respondJSON(w, status, body)
}

func webhookResponse(txRef string, res *service.ReconcileResult, err error) (int, WebhookResponse) {
	body := WebhookResponse{TxRef: txRef}
	if res != nil {
		body.Outcome = string(res.Outcome)
		if res.OrderID != nil {
			id := res.OrderID.String()
			body.OrderID = &id
		}
	}
	if err == nil {
		return http.StatusOK, body
	}

	var se *service.Error
	if !errors.As(err, &se) {
		body.Outcome = "error"
		body.Code = "internal_error"
		body.Retryable = true
		return http.StatusInternalServerError, body
	}
	body.Code = string(se.Kind)
	body.Retryable = se.Retryable()
	switch {
	case se.Kind == service.KindTransactionNotFound:
		body.Outcome = "not_found"
	case res != nil && res.Outcome == service.OutcomeFailure:
		body.Outcome = string(service.OutcomeFailure)
	default:
		body.Outcome = "error"
	}
	return statusFor(se.Kind), body
}

func (h *PaymentsHandler) redirectURL(txRef, outcome string) string {
	page := "/payment-failure"
	status := "failed"
	if outcome == string(service.OutcomeSuccess) || outcome == string(service.OutcomeAlreadyProcessed) {
		page = "/payment-success"
		status = "success"
	}
	q := url.Values{}
	q.Set("status", status)
	if txRef != "" {
		q.Set("tx_ref", txRef)
	}
	return h.webAppURL + page + "?" + q.Encode()
}
