package payment

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fjod/go_food/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrRejected is returned when the gateway refuses to open a checkout.
var ErrRejected = errors.New("payment initialization rejected")

// Verification is the gateway's authoritative view of a transaction.
// Success false with a nil error is a definitive denial.
type Verification struct {
	Success   bool
	Status    string
	Amount    decimal.Decimal
	Reference string
	Raw       json.RawMessage // gateway response body, when there was one
}

type Verifier interface {
	Verify(ctx context.Context, txRef string) (*Verification, error)
}

type InitRequest struct {
	TxRef       string
	Amount      decimal.Decimal
	Payer       domain.ContactSnapshot
	CallbackURL string
	ReturnURL   string
}

type Initializer interface {
	// Initialize registers the transaction and returns the hosted checkout URL.
	Initialize(ctx context.Context, req InitRequest) (string, error)
}

type Gateway interface {
	Verifier
	Initializer
}
