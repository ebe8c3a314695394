package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Order struct {
	ID           uuid.UUID
	UserID       int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Delivery     Delivery
	TotalPrice   decimal.Decimal
	Status       OrderStatus
	CancelReason string
	CancelledAt  *time.Time
	DeliveredAt  *time.Time
	AdminNotes   string
	PaymentTxRef string // empty for pay-on-delivery and pickup orders

	Lines []CartLine
}
