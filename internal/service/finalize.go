package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_food/internal/domain"
	"github.com/fjod/go_food/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

type orderCreatedEvent struct {
	OrderID        uuid.UUID                 `json:"order_id"`
	UserID         int64                     `json:"user_id"`
	Status         domain.OrderStatus        `json:"status"`
	DeliveryOption domain.DeliveryOption     `json:"delivery_option"`
	TotalPrice     decimal.Decimal           `json:"total_price"`
	Currency       string                    `json:"currency"`
	PaymentTxRef   string                    `json:"payment_tx_ref,omitempty"`
	Items          []domain.CartSnapshotItem `json:"items"`
	CreatedAt      time.Time                 `json:"created_at"`
}

type statusChangedEvent struct {
	OrderID      uuid.UUID          `json:"order_id"`
	UserID       int64              `json:"user_id"`
	From         domain.OrderStatus `json:"from"`
	To           domain.OrderStatus `json:"to"`
	CancelReason string             `json:"cancel_reason,omitempty"`
	ChangedAt    time.Time          `json:"changed_at"`
}

type finalization struct {
	userID   int64
	lines    []domain.CartLine // locked, non-empty
	delivery domain.Delivery
	txRef    string
	at       time.Time
}

// finalize turns locked cart lines into an order inside tx. It is shared by
// direct checkout and payment reconciliation.
func finalize(ctx context.Context, tx repository.Tx, f finalization) (*domain.Order, error) {
	snapshot := domain.PriceLines(f.lines, f.at)

	order := &domain.Order{
		ID:           uuid.New(),
		UserID:       f.userID,
		CreatedAt:    f.at,
		Delivery:     f.delivery,
		TotalPrice:   snapshot.TotalAmount,
		Status:       domain.OrderStatusActive,
		PaymentTxRef: f.txRef,
	}
	if err := tx.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, repository.ErrDuplicateOrder) {
			return nil, fmt.Errorf("create order for %s: %w", f.txRef, err)
		}
		return nil, storeError("create order", err)
	}

	ids := make([]int64, 0, len(f.lines))
	for _, line := range f.lines {
		ids = append(ids, line.ID)
	}
	if err := tx.ConsumeLines(ctx, ids, order.ID, order.Status); err != nil {
		return nil, storeError("consume cart lines", err)
	}
	if err := tx.IncrementScore(ctx, f.userID); err != nil {
		return nil, storeError("increment loyalty score", err)
	}

	payload, err := json.Marshal(orderCreatedEvent{
		OrderID:        order.ID,
		UserID:         order.UserID,
		Status:         order.Status,
		DeliveryOption: order.Delivery.Option,
		TotalPrice:     order.TotalPrice,
		Currency:       snapshot.Currency,
		PaymentTxRef:   order.PaymentTxRef,
		Items:          snapshot.Items,
		CreatedAt:      order.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal order event: %w", err)
	}
	if err := tx.AddOutboxEvent(ctx, order.ID.String(), EventOrderCreated, payload); err != nil {
		return nil, storeError("add outbox event", err)
	}

	order.Lines = make([]domain.CartLine, 0, len(f.lines))
	for _, line := range f.lines {
		id := order.ID
		line.Consumed = true
		line.OrderID = &id
		line.Status = order.Status
		order.Lines = append(order.Lines, line)
	}
	return order, nil
}
