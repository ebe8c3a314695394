package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/go_food/internal/catalog"
	"github.com/fjod/go_food/internal/domain"
	"github.com/fjod/go_food/internal/repository"
	"github.com/shopspring/decimal"
)

// ItemLookup resolves catalog items.
type ItemLookup interface {
	GetItem(ctx context.Context, itemID int64) (*domain.Item, error)
}

type CartView struct {
	Lines []domain.LineView
	Total decimal.Decimal
}

// CartService edits a user's active cart. Every edit runs under the cart
// lock so it cannot interleave with a checkout of the same cart.
type CartService struct {
	store repository.Store
	items ItemLookup
	log   *slog.Logger
}

func NewCartService(store repository.Store, items ItemLookup, log *slog.Logger) *CartService {
	return &CartService{store: store, items: items, log: log}
}

func (s *CartService) Cart(ctx context.Context, userID int64) (*CartView, error) {
	lines, err := s.store.ActiveCart(ctx, userID)
	if err != nil {
		return nil, storeError("read cart", err)
	}
	return cartView(lines), nil
}

func cartView(lines []domain.CartLine) *CartView {
	snap := domain.PriceLines(lines, time.Now())
	views := make([]domain.LineView, 0, len(lines))
	for _, l := range lines {
		views = append(views, l.View())
	}
	return &CartView{Lines: views, Total: snap.TotalAmount}
}

func validQuantity(q int) error {
	if q < 1 || q > domain.MaxLineQuantity {
		return invalidRequest("quantity", fmt.Sprintf("quantity must be between 1 and %d", domain.MaxLineQuantity))
	}
	return nil
}

// AddItem adds quantity of the item to the cart, merging with an existing line.
func (s *CartService) AddItem(ctx context.Context, userID, itemID int64, quantity int) (*CartView, error) {
	if err := validQuantity(quantity); err != nil {
		return nil, err
	}
	if _, err := s.items.GetItem(ctx, itemID); err != nil {
		if errors.Is(err, catalog.ErrItemNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, storeError("get item", err)
	}

	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		lines, err := tx.LockCart(ctx, userID)
		if err != nil {
			return err
		}
		for _, l := range lines {
			if l.ItemID != nil && *l.ItemID == itemID && l.Quantity+quantity > domain.MaxLineQuantity {
				return invalidRequest("quantity", fmt.Sprintf("cart already holds %d of this item, at most %d allowed", l.Quantity, domain.MaxLineQuantity))
			}
		}
		return tx.AddLine(ctx, userID, itemID, quantity)
	})
	if err != nil {
		return nil, storeError("add cart item", err)
	}
	s.log.InfoContext(ctx, "cart item added", "user_id", userID, "item_id", itemID, "quantity", quantity)
	return s.Cart(ctx, userID)
}

func (s *CartService) UpdateQuantity(ctx context.Context, userID, lineID int64, quantity int) (*CartView, error) {
	if err := validQuantity(quantity); err != nil {
		return nil, err
	}
	err := s.edit(ctx, userID, func(tx repository.Tx) error {
		return tx.UpdateLineQuantity(ctx, userID, lineID, quantity)
	})
	if err != nil {
		return nil, err
	}
	return s.Cart(ctx, userID)
}

func (s *CartService) RemoveLine(ctx context.Context, userID, lineID int64) (*CartView, error) {
	err := s.edit(ctx, userID, func(tx repository.Tx) error {
		return tx.RemoveLine(ctx, userID, lineID)
	})
	if err != nil {
		return nil, err
	}
	return s.Cart(ctx, userID)
}

// Clear deletes every active line and returns how many were removed.
func (s *CartService) Clear(ctx context.Context, userID int64) (int, error) {
	var removed int
	err := s.edit(ctx, userID, func(tx repository.Tx) error {
		var err error
		removed, err = tx.ClearCart(ctx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.log.InfoContext(ctx, "cart cleared", "user_id", userID, "removed", removed)
	return removed, nil
}

func (s *CartService) edit(ctx context.Context, userID int64, fn func(tx repository.Tx) error) error {
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.LockCart(ctx, userID); err != nil {
			return err
		}
		return fn(tx)
	})
	if err != nil {
		return storeError("edit cart", err)
	}
	return nil
}
