package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fjod/go_food/internal/domain"
	"github.com/fjod/go_food/internal/repository"
	"github.com/google/uuid"
)

// OrderView is an order with its lines rendered for clients.
type OrderView struct {
	Order *domain.Order
	Lines []domain.LineView
}

func viewOf(o *domain.Order) OrderView {
	lines := make([]domain.LineView, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, l.View())
	}
	return OrderView{Order: o, Lines: lines}
}

type StatusChange struct {
	Status       domain.OrderStatus
	CancelReason string
	AdminNotes   *string
}

type OrderService struct {
	store repository.Store
	log   *slog.Logger
	now   func() time.Time
}

func NewOrderService(store repository.Store, log *slog.Logger) *OrderService {
	return &OrderService{store: store, log: log, now: time.Now}
}

// History returns the user's orders, newest first.
func (s *OrderService) History(ctx context.Context, userID int64) ([]OrderView, error) {
	orders, err := s.store.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, storeError("list orders", err)
	}
	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, viewOf(o))
	}
	return views, nil
}

// Get returns one order. Orders of other users are reported as not found
// unless asStaff is set.
func (s *OrderService) Get(ctx context.Context, userID int64, orderID uuid.UUID, asStaff bool) (*OrderView, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, storeError("get order", err)
	}
	if o.UserID != userID && !asStaff {
		return nil, ErrOrderNotFound
	}
	v := viewOf(o)
	return &v, nil
}

// UpdateStatus moves an order along its lifecycle under the order lock.
// The order's consumed cart lines follow the new status.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, change StatusChange) (*domain.Order, error) {
	reason := strings.TrimSpace(change.CancelReason)
	if change.Status == domain.OrderStatusCancelled && reason == "" {
		return nil, invalidRequest("cancel_reason", "Cancel reason is required")
	}

	var order *domain.Order
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return storeError("lock order", err)
		}
		from := o.Status
		if !from.CanTransitionTo(change.Status) {
			return &Error{
				Kind:    KindIllegalTransition,
				Field:   "status",
				Message: fmt.Sprintf("cannot change order status from %s to %s", from, change.Status),
			}
		}

		now := s.now()
		o.Status = change.Status
		switch change.Status {
		case domain.OrderStatusCancelled:
			o.CancelReason = reason
			o.CancelledAt = &now
		case domain.OrderStatusDelivered:
			o.DeliveredAt = &now
		}
		if change.AdminNotes != nil {
			o.AdminNotes = *change.AdminNotes
		}

		if err := tx.UpdateOrder(ctx, o); err != nil {
			return storeError("update order", err)
		}
		if err := tx.SetLineStatus(ctx, o.ID, o.Status); err != nil {
			return storeError("update order lines", err)
		}

		payload, err := json.Marshal(statusChangedEvent{
			OrderID:      o.ID,
			UserID:       o.UserID,
			From:         from,
			To:           o.Status,
			CancelReason: o.CancelReason,
			ChangedAt:    now,
		})
		if err != nil {
			return fmt.Errorf("marshal status event: %w", err)
		}
		if err := tx.AddOutboxEvent(ctx, o.ID.String(), EventOrderStatusChanged, payload); err != nil {
			return storeError("add outbox event", err)
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "order status changed", "order_id", order.ID, "status", order.Status)
	return order, nil
}

// Cancel cancels a non-terminal order. reason is required.
func (s *OrderService) Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*domain.Order, error) {
	return s.UpdateStatus(ctx, orderID, StatusChange{Status: domain.OrderStatusCancelled, CancelReason: reason})
}
