package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_food/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*MemoryStore, *domain.User, *domain.Item) {
	t.Helper()
	s := NewMemoryStore(200 * time.Millisecond)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	user := &domain.User{Email: "abebe@example.com", FirstName: "Abebe"}
	require.NoError(t, s.CreateUser(ctx, user))
	item := &domain.Item{Title: "Burger", Price: decimal.RequireFromString("5.00")}
	require.NoError(t, s.CreateItem(ctx, item))
	return s, user, item
}

func addLine(t *testing.T, s *MemoryStore, userID, itemID int64, qty int) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx Tx) error {
		if _, err := tx.LockCart(context.Background(), userID); err != nil {
			return err
		}
		return tx.AddLine(context.Background(), userID, itemID, qty)
	})
	require.NoError(t, err)
}

func TestMemoryStore_AddLineIncrementsExisting(t *testing.T) {
	s, user, item := setupStore(t)

	addLine(t, s, user.ID, item.ID, 2)
	addLine(t, s, user.ID, item.ID, 3)

	lines, err := s.ActiveCart(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 5, lines[0].Quantity)
	assert.Equal(t, "Burger", lines[0].Title)
	assert.True(t, decimal.RequireFromString("5.00").Equal(lines[0].UnitPrice))
}

func TestMemoryStore_AddLineUnknownItem(t *testing.T) {
	s, user, _ := setupStore(t)

	err := s.WithTx(context.Background(), func(tx Tx) error {
		return tx.AddLine(context.Background(), user.ID, 999, 1)
	})
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestMemoryStore_RollbackDiscardsWrites(t *testing.T) {
	s, user, item := setupStore(t)
	addLine(t, s, user.ID, item.ID, 1)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx Tx) error {
		lines, err := tx.LockCart(ctx, user.ID)
		if err != nil {
			return err
		}
		order := &domain.Order{ID: uuid.New(), UserID: user.ID, Status: domain.OrderStatusActive, CreatedAt: time.Now()}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.ConsumeLines(ctx, []int64{lines[0].ID}, order.ID, order.Status); err != nil {
			return err
		}
		if err := tx.IncrementScore(ctx, user.ID); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	lines, err := s.ActiveCart(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, lines, 1)
	orders, err := s.ListOrdersByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, orders)
	u, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, u.Score)
}

func TestMemoryStore_WritesInvisibleBeforeCommit(t *testing.T) {
	s, user, item := setupStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.LockCart(ctx, user.ID); err != nil {
			return err
		}
		if err := tx.AddLine(ctx, user.ID, item.ID, 1); err != nil {
			return err
		}
		lines, err := s.ActiveCart(ctx, user.ID)
		require.NoError(t, err)
		assert.Empty(t, lines, "staged line must not be visible")
		return nil
	})
	require.NoError(t, err)

	lines, err := s.ActiveCart(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

func TestMemoryStore_LockTimeout(t *testing.T) {
	s, user, _ := setupStore(t)
	ctx := context.Background()

	locked := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithTx(ctx, func(tx Tx) error {
			if _, err := tx.LockCart(ctx, user.ID); err != nil {
				return err
			}
			close(locked)
			<-done
			return nil
		})
	}()
	<-locked

	err := s.WithTx(ctx, func(tx Tx) error {
		_, err := tx.LockCart(ctx, user.ID)
		return err
	})
	close(done)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestMemoryStore_LockIsReentrantWithinTx(t *testing.T) {
	s, user, _ := setupStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.LockCart(ctx, user.ID); err != nil {
			return err
		}
		_, err := tx.LockCart(ctx, user.ID)
		return err
	})
	assert.NoError(t, err)
}

func TestMemoryStore_LockCartSerializesIncrements(t *testing.T) {
	s := NewMemoryStore(5 * time.Second)
	ctx := context.Background()
	user := &domain.User{Email: "a@example.com"}
	require.NoError(t, s.CreateUser(ctx, user))

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(ctx, func(tx Tx) error {
				if _, err := tx.LockCart(ctx, user.ID); err != nil {
					return err
				}
				return tx.IncrementScore(ctx, user.ID)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	u, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, u.Score)
	assert.Equal(t, 0, s.locks.size())
}

func TestMemoryStore_LockEntriesAreReleased(t *testing.T) {
	s, user, _ := setupStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := s.WithTx(ctx, func(tx Tx) error {
			_, err := tx.LockIntent(ctx, "chapa-tx-"+uuid.NewString())
			return err
		})
		assert.ErrorIs(t, err, ErrIntentNotFound)
	}
	err := s.WithTx(ctx, func(tx Tx) error {
		_, err := tx.LockCart(ctx, user.ID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 0, s.locks.size())

	locked := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithTx(ctx, func(tx Tx) error {
			if _, err := tx.LockCart(ctx, user.ID); err != nil {
				return err
			}
			close(locked)
			<-done
			return nil
		})
	}()
	<-locked
	err = s.WithTx(ctx, func(tx Tx) error {
		_, err := tx.LockCart(ctx, user.ID)
		return err
	})
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.Equal(t, 1, s.locks.size(), "the holder keeps its entry")
	close(done)

	assert.Eventually(t, func() bool { return s.locks.size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemoryStore_DeleteItemDetachesLines(t *testing.T) {
	s, user, item := setupStore(t)
	addLine(t, s, user.ID, item.ID, 2)

	require.NoError(t, s.DeleteItem(context.Background(), item.ID))

	lines, err := s.ActiveCart(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Nil(t, lines[0].ItemID)
	assert.True(t, lines[0].View().IsDeleted())
}

func TestMemoryStore_DuplicatePaymentOrder(t *testing.T) {
	s, user, _ := setupStore(t)
	ctx := context.Background()

	create := func() error {
		return s.WithTx(ctx, func(tx Tx) error {
			return tx.CreateOrder(ctx, &domain.Order{ID: uuid.New(), UserID: user.ID, PaymentTxRef: "chapa-tx-1", CreatedAt: time.Now()})
		})
	}
	require.NoError(t, create())
	assert.ErrorIs(t, create(), ErrDuplicateOrder)
}

func TestMemoryStore_OutboxEvents(t *testing.T) {
	s, _, _ := setupStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Tx) error {
		if err := tx.AddOutboxEvent(ctx, "order-1", "order.created", []byte(`{"a":1}`)); err != nil {
			return err
		}
		return tx.AddOutboxEvent(ctx, "order-2", "order.created", []byte(`{"a":2}`))
	})
	require.NoError(t, err)

	events, err := s.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "order-1", events[0].AggregateID)

	require.NoError(t, s.MarkEventAsProcessed(ctx, events[0].ID))
	events, err = s.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "order-2", events[0].AggregateID)
}

func TestMemoryStore_ListPendingIntents(t *testing.T) {
	s, user, _ := setupStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, ref := range []string{"old", "older", "fresh"} {
		offset := []time.Duration{-10 * time.Minute, -20 * time.Minute, 0}[i]
		s.now = func() time.Time { return base.Add(offset) }
		require.NoError(t, s.CreateIntent(ctx, &domain.PaymentIntent{TxRef: ref, UserID: user.ID, Status: domain.IntentStatusPending}))
	}

	refs, err := s.ListPendingIntents(ctx, base.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"older", "old"}, refs)
}
