package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fjod/go_food/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const DefaultChapaURL = "https://api.chapa.co"

// ChapaClient talks to the Chapa hosted checkout API.
type ChapaClient struct {
	baseURL string
	secret  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewChapaClient builds a client. rps <= 0 disables outbound rate limiting.
func NewChapaClient(baseURL, secret string, timeout time.Duration, rps float64) *ChapaClient {
	if baseURL == "" {
		baseURL = DefaultChapaURL
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return &ChapaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

type chapaInitRequest struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number,omitempty"`
	TxRef       string `json:"tx_ref"`
	CallbackURL string `json:"callback_url"`
	ReturnURL   string `json:"return_url"`
}

type chapaInitResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Data    struct {
		CheckoutURL string `json:"checkout_url"`
	} `json:"data"`
}

type chapaVerifyResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Data    *struct {
		Status   string          `json:"status"`
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
		TxRef    string          `json:"tx_ref"`
		Ref      string          `json:"reference"`
	} `json:"data"`
}

func (c *ChapaClient) Initialize(ctx context.Context, req InitRequest) (string, error) {
	body, err := json.Marshal(chapaInitRequest{
		Amount:      req.Amount.StringFixed(2),
		Currency:    domain.Currency,
		Email:       req.Payer.Email,
		FirstName:   req.Payer.FirstName,
		LastName:    req.Payer.LastName,
		PhoneNumber: req.Payer.Phone,
		TxRef:       req.TxRef,
		CallbackURL: req.CallbackURL,
		ReturnURL:   req.ReturnURL,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chapa request: %w", err)
	}

	status, raw, err := c.do(ctx, http.MethodPost, "/v1/transaction/initialize", body)
	if err != nil {
		return "", err
	}

	if gatewayFault(status) {
		return "", fmt.Errorf("chapa initialize: http %d", status)
	}
	var out chapaInitResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode chapa response: %w", err)
	}
	if status != http.StatusOK || out.Status != "success" || out.Data.CheckoutURL == "" {
		return "", fmt.Errorf("%w: http %d: %s", ErrRejected, status, out.Message)
	}
	return out.Data.CheckoutURL, nil
}

// Verify queries the transaction. Chapa answers 400 or 404 for a failed or
// unknown transaction, which is a denial. Every other non-2xx status, and
// any transport failure, is returned as an error.
func (c *ChapaClient) Verify(ctx context.Context, txRef string) (*Verification, error) {
	status, raw, err := c.do(ctx, http.MethodGet, "/v1/transaction/verify/"+url.PathEscape(txRef), nil)
	if err != nil {
		return nil, err
	}
	if status >= 300 && status != http.StatusBadRequest && status != http.StatusNotFound {
		return nil, fmt.Errorf("chapa verify: http %d", status)
	}

	var out chapaVerifyResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if status >= 400 {
			return &Verification{Success: false, Status: "failed", Reference: txRef}, nil
		}
		return nil, fmt.Errorf("decode chapa response: %w", err)
	}

	if status >= 400 || out.Data == nil {
		return &Verification{Success: false, Status: "failed", Reference: txRef, Raw: raw}, nil
	}
	return &Verification{
		Success:   out.Status == "success" && out.Data.Status == "success",
		Status:    out.Data.Status,
		Amount:    out.Data.Amount,
		Reference: out.Data.TxRef,
		Raw:       raw,
	}, nil
}

// gatewayFault reports statuses caused by Chapa or by our credentials rather
// than by the request itself.
func gatewayFault(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

func (c *ChapaClient) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("chapa rate limit: %w", err)
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, nil, fmt.Errorf("build chapa request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("chapa %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read chapa response: %w", err)
	}
	return resp.StatusCode, raw, nil
}
