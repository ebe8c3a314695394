package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type IntentStatus string

const (
	IntentStatusPending IntentStatus = "Pending"
	IntentStatusSuccess IntentStatus = "Success"
	IntentStatusFailed  IntentStatus = "Failed"
)

func (s IntentStatus) String() string {
	return string(s)
}

// ContactSnapshot is the payer contact captured when the intent was opened.
type ContactSnapshot struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone_number"`
}

// PaymentIntent records a checkout attempt that waits for the gateway.
// Success is terminal and is the only status with an OrderID.
type PaymentIntent struct {
	TxRef         string
	UserID        int64
	Amount        decimal.Decimal
	Payer         ContactSnapshot
	Metadata      DeliveryRequest
	Status        IntentStatus
	OrderID       *uuid.UUID
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (p *PaymentIntent) IsSettled() bool {
	return p.Status == IntentStatusSuccess
}
