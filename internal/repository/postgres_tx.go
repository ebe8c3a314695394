package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_food/internal/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockCart(ctx context.Context, userID int64) ([]domain.CartLine, error) {
	// The user row is the cart's lock; it serializes carts that have no lines yet.
	var id int64
	err := t.tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, mapPgError("lock cart", err)
	}

	return queryLines(ctx, t.tx, lineSelect+` WHERE cl.user_id = $1 AND NOT cl.consumed ORDER BY cl.id FOR UPDATE OF cl`, userID)
}

func (t *pgTx) AddLine(ctx context.Context, userID, itemID int64, quantity int) error {
	query := `INSERT INTO cart_lines (user_id, item_id, quantity) VALUES ($1, $2, $3)
	          ON CONFLICT (user_id, item_id) WHERE NOT consumed
	          DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity`
	if _, err := t.tx.ExecContext(ctx, query, userID, itemID, quantity); err != nil {
		if isPgCode(err, pgForeignKeyViolation) {
			return ErrItemNotFound
		}
		return mapPgError("add cart line", err)
	}
	return nil
}

func (t *pgTx) UpdateLineQuantity(ctx context.Context, userID, lineID int64, quantity int) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE cart_lines SET quantity = $1 WHERE id = $2 AND user_id = $3 AND NOT consumed`,
		quantity, lineID, userID)
	if err != nil {
		return mapPgError("update cart line", err)
	}
	return expectRows(res, ErrCartLineNotFound)
}

func (t *pgTx) RemoveLine(ctx context.Context, userID, lineID int64) error {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM cart_lines WHERE id = $1 AND user_id = $2 AND NOT consumed`, lineID, userID)
	if err != nil {
		return mapPgError("remove cart line", err)
	}
	return expectRows(res, ErrCartLineNotFound)
}

func (t *pgTx) ClearCart(ctx context.Context, userID int64) (int, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM cart_lines WHERE user_id = $1 AND NOT consumed`, userID)
	if err != nil {
		return 0, mapPgError("clear cart", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func (t *pgTx) ConsumeLines(ctx context.Context, lineIDs []int64, orderID uuid.UUID, status domain.OrderStatus) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE cart_lines SET consumed = TRUE, order_id = $1, status = $2 WHERE id = ANY($3) AND NOT consumed`,
		orderID, status, pq.Array(lineIDs))
	if err != nil {
		return mapPgError("consume cart lines", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if int(n) != len(lineIDs) {
		return fmt.Errorf("consume cart lines: %d of %d lines updated", n, len(lineIDs))
	}
	return nil
}

func (t *pgTx) SetLineStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE cart_lines SET status = $1 WHERE order_id = $2`, status, orderID); err != nil {
		return mapPgError("set cart line status", err)
	}
	return nil
}

func (t *pgTx) IncrementScore(ctx context.Context, userID int64) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE users SET score = score + 1 WHERE id = $1`, userID)
	if err != nil {
		return mapPgError("increment score", err)
	}
	return expectRows(res, ErrUserNotFound)
}

func (t *pgTx) CreateOrder(ctx context.Context, o *domain.Order) error {
	query := `INSERT INTO orders (id, user_id, delivery_option, pickup_branch, pickup_time, delivery_address,
	                              latitude, longitude, delivery_time, total_price, status, payment_tx_ref, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`

	d := o.Delivery
	_, err := t.tx.ExecContext(ctx, query,
		o.ID,
		o.UserID,
		d.Option,
		nullString(d.PickupBranch),
		d.PickupTime,
		nullString(d.DeliveryAddress),
		nullDecimal(d.Latitude),
		nullDecimal(d.Longitude),
		d.DeliveryTime,
		o.TotalPrice,
		o.Status,
		nullString(o.PaymentTxRef),
		o.CreatedAt)
	if err != nil {
		if isPgCode(err, pgUniqueViolation) {
			return ErrDuplicateOrder
		}
		return mapPgError("insert order", err)
	}
	o.UpdatedAt = o.CreatedAt
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := scanOrder(t.tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, mapPgError("lock order", err)
	}
	return order, nil
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *domain.Order) error {
	query := `UPDATE orders
	             SET status = $1, cancel_reason = $2, cancelled_at = $3, delivered_at = $4, admin_notes = $5, updated_at = NOW()
	           WHERE id = $6
	       RETURNING updated_at`
	err := t.tx.QueryRowContext(ctx, query, o.Status, o.CancelReason, o.CancelledAt, o.DeliveredAt, o.AdminNotes, o.ID).
		Scan(&o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOrderNotFound
	}
	if err != nil {
		return mapPgError("update order", err)
	}
	return nil
}

func (t *pgTx) LockIntent(ctx context.Context, txRef string) (*domain.PaymentIntent, error) {
	p, err := scanIntent(t.tx.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE tx_ref = $1 FOR UPDATE`, txRef))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, mapPgError("lock payment intent", err)
	}
	return p, nil
}

func (t *pgTx) UpdateIntent(ctx context.Context, p *domain.PaymentIntent) error {
	var orderID uuid.NullUUID
	if p.OrderID != nil {
		orderID = uuid.NullUUID{UUID: *p.OrderID, Valid: true}
	}
	query := `UPDATE payment_intents
	             SET status = $1, order_id = $2, failure_reason = $3, updated_at = NOW()
	           WHERE tx_ref = $4
	       RETURNING updated_at`
	err := t.tx.QueryRowContext(ctx, query, p.Status, orderID, p.FailureReason, p.TxRef).Scan(&p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrIntentNotFound
	}
	if err != nil {
		return mapPgError("update payment intent", err)
	}
	return nil
}

func (t *pgTx) AddOutboxEvent(ctx context.Context, aggregateID, eventType string, payload []byte) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO outbox_events (aggregate_id, event_type, payload) VALUES ($1, $2, $3)`,
		aggregateID, eventType, payload)
	if err != nil {
		return mapPgError("insert outbox event", err)
	}
	return nil
}
