package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/fjod/go_food/internal/domain"
	"github.com/fjod/go_food/internal/repository"
	"github.com/fjod/go_food/pkg/metrics"
)

// CheckoutService places pay-on-delivery and pickup orders.
type CheckoutService struct {
	store   repository.Store
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewCheckoutService(store repository.Store, log *slog.Logger, m *metrics.Metrics) *CheckoutService {
	return &CheckoutService{store: store, log: log, metrics: m, now: time.Now}
}

// Checkout locks the user's cart and turns its active lines into one order.
// Concurrent calls for the same user serialize on the cart lock; the loser
// finds the cart empty.
func (s *CheckoutService) Checkout(ctx context.Context, userID int64, req domain.DeliveryRequest) (*domain.Order, error) {
	var order *domain.Order
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		lines, err := tx.LockCart(ctx, userID)
		if err != nil {
			return storeError("lock cart", err)
		}
		if len(lines) == 0 {
			return ErrEmptyCart
		}

		now := s.now()
		delivery, err := req.Normalize(now)
		if err != nil {
			return invalidDelivery(err)
		}

		order, err = finalize(ctx, tx, finalization{
			userID:   userID,
			lines:    lines,
			delivery: delivery,
			at:       now,
		})
		return err
	})
	if err != nil {
		s.metrics.CheckoutOutcome(outcomeLabel(err))
		s.log.WarnContext(ctx, "checkout failed", "user_id", userID, "error", err)
		return nil, err
	}

	s.metrics.CheckoutOutcome("success")
	s.log.InfoContext(ctx, "order placed",
		"user_id", userID,
		"order_id", order.ID,
		"total", order.TotalPrice.StringFixed(2),
		"delivery_option", order.Delivery.Option,
		"lines", len(order.Lines))
	return order, nil
}

func outcomeLabel(err error) string {
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}
