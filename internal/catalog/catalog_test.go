package catalog

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/go_food/internal/domain"
	"github.com/fjod/go_food/internal/repository"
	"github.com/fjod/go_food/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockSource struct {
	items map[int64]*domain.Item
	err   error
	calls atomic.Int32
}

func (m *MockSource) GetItem(_ context.Context, itemID int64) (*domain.Item, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	item, ok := m.items[itemID]
	if !ok {
		return nil, repository.ErrItemNotFound
	}
	return item, nil
}

func TestService_ReadsThroughCache(t *testing.T) {
	cache, mr := setupTestRedis(t)
	src := &MockSource{items: map[int64]*domain.Item{1: {ID: 1, Title: "Burger", Price: decimal.RequireFromString("5.00")}}}
	svc := NewService(src, cache, logger.Discard())
	ctx := context.Background()

	item, err := svc.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Burger", item.Title)

	require.Eventually(t, func() bool { return mr.Exists(cacheKey(1)) }, time.Second, 10*time.Millisecond)

	item, err = svc.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Burger", item.Title)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestService_WithoutCache(t *testing.T) {
	src := &MockSource{items: map[int64]*domain.Item{1: {ID: 1, Title: "Burger"}}}
	svc := NewService(src, nil, logger.Discard())

	_, err := svc.GetItem(context.Background(), 1)
	require.NoError(t, err)
	_, err = svc.GetItem(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestService_NotFound(t *testing.T) {
	svc := NewService(&MockSource{items: map[int64]*domain.Item{}}, nil, logger.Discard())

	_, err := svc.GetItem(context.Background(), 7)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestService_SourceError(t *testing.T) {
	boom := errors.New("db down")
	svc := NewService(&MockSource{err: boom}, nil, logger.Discard())

	_, err := svc.GetItem(context.Background(), 7)
	assert.ErrorIs(t, err, boom)
}

func TestService_CacheErrorFallsBackToSource(t *testing.T) {
	cache, mr := setupTestRedis(t)
	mr.Close()
	src := &MockSource{items: map[int64]*domain.Item{2: {ID: 2, Title: "Pizza"}}}
	svc := NewService(src, cache, logger.Discard())

	item, err := svc.GetItem(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "Pizza", item.Title)
}
