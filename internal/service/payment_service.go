package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/fjod/go_food/internal/domain"
	"github.com/fjod/go_food/internal/payment"
	"github.com/fjod/go_food/internal/repository"
	"github.com/shopspring/decimal"
)

const txRefPrefix = "chapa-tx-"

type PaymentConfig struct {
	// CallbackURL is where the gateway posts notifications.
	CallbackURL string
	// ReturnURL and MobileReturnURL receive the browser or app after payment.
	ReturnURL       string
	MobileReturnURL string
}

// PaymentService opens payment intents and hands the user to the gateway.
type PaymentService struct {
	store   repository.Store
	gateway payment.Initializer
	cfg     PaymentConfig
	log     *slog.Logger
	now     func() time.Time
}

func NewPaymentService(store repository.Store, gateway payment.Initializer, cfg PaymentConfig, log *slog.Logger) *PaymentService {
	return &PaymentService{store: store, gateway: gateway, cfg: cfg, log: log, now: time.Now}
}

type InitiateRequest struct {
	Delivery domain.DeliveryRequest
	Mobile   bool
}

type InitiateResult struct {
	TxRef       string
	CheckoutURL string
	Amount      decimal.Decimal
}

// OpenIntent records a pending payment for userID. The cart is neither
// locked nor consumed; metadata is stored verbatim for finalization.
func (s *PaymentService) OpenIntent(ctx context.Context, userID int64, amount decimal.Decimal, metadata domain.DeliveryRequest) (string, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return "", storeError("get user", err)
	}

	txRef, err := newTxRef()
	if err != nil {
		return "", err
	}

	firstName := user.FirstName
	if firstName == "" {
		firstName = "Customer"
	}
	intent := &domain.PaymentIntent{
		TxRef:  txRef,
		UserID: userID,
		Amount: amount,
		Payer: domain.ContactSnapshot{
			Email:     user.Email,
			FirstName: firstName,
			LastName:  user.LastName,
			Phone:     user.Phone,
		},
		Metadata: metadata,
		Status:   domain.IntentStatusPending,
	}
	if err := s.store.CreateIntent(ctx, intent); err != nil {
		return "", storeError("create payment intent", err)
	}
	return txRef, nil
}

// Initiate prices the current cart, opens an intent for that amount and
// returns the gateway checkout URL.
func (s *PaymentService) Initiate(ctx context.Context, userID int64, req InitiateRequest) (*InitiateResult, error) {
	if _, err := req.Delivery.Normalize(s.now()); err != nil {
		return nil, invalidDelivery(err)
	}

	lines, err := s.store.ActiveCart(ctx, userID)
	if err != nil {
		return nil, storeError("read cart", err)
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	amount := domain.PriceLines(lines, s.now()).TotalAmount

	txRef, err := s.OpenIntent(ctx, userID, amount, req.Delivery)
	if err != nil {
		return nil, err
	}

	intent, err := s.store.GetIntent(ctx, txRef)
	if err != nil {
		return nil, storeError("get payment intent", err)
	}

	returnURL := s.cfg.ReturnURL
	if req.Mobile && s.cfg.MobileReturnURL != "" {
		returnURL = s.cfg.MobileReturnURL
	}
	link, err := s.gateway.Initialize(ctx, payment.InitRequest{
		TxRef:       txRef,
		Amount:      amount,
		Payer:       intent.Payer,
		CallbackURL: s.cfg.CallbackURL,
		ReturnURL:   withQuery(returnURL, "success", txRef),
	})
	if err != nil {
		s.log.ErrorContext(ctx, "payment initialization failed", "tx_ref", txRef, "user_id", userID, "error", err)
		if errors.Is(err, payment.ErrRejected) {
			return nil, &Error{Kind: KindPaymentRejected, Message: "Payment initiation failed", Err: err}
		}
		return nil, &Error{Kind: KindGatewayUnavailable, Message: "payment gateway unavailable", Err: err}
	}

	s.log.InfoContext(ctx, "payment intent opened", "tx_ref", txRef, "user_id", userID, "amount", amount.StringFixed(2))
	return &InitiateResult{TxRef: txRef, CheckoutURL: link, Amount: amount}, nil
}

// newTxRef returns a reference carrying 128 random bits.
func newTxRef() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate tx_ref: %w", err)
	}
	return txRefPrefix + hex.EncodeToString(b), nil
}

func withQuery(base, status, txRef string) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("status", status)
	q.Set("tx_ref", txRef)
	u.RawQuery = q.Encode()
	return u.String()
}
