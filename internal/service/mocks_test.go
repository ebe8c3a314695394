package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/go_food/internal/domain"
	"github.com/fjod/go_food/internal/payment"
	"github.com/fjod/go_food/internal/repository"
	"github.com/fjod/go_food/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// MockVerifier answers Verify with fn, counting calls.
type MockVerifier struct {
	calls atomic.Int32
	mu    sync.Mutex
	fn    func(txRef string) (*payment.Verification, error)
}

func (m *MockVerifier) Verify(_ context.Context, txRef string) (*payment.Verification, error) {
	m.calls.Add(1)
	m.mu.Lock()
	fn := m.fn
	m.mu.Unlock()
	return fn(txRef)
}

func (m *MockVerifier) set(fn func(txRef string) (*payment.Verification, error)) {
	m.mu.Lock()
	m.fn = fn
	m.mu.Unlock()
}

func approve(amount string) func(string) (*payment.Verification, error) {
	return func(txRef string) (*payment.Verification, error) {
		return &payment.Verification{Success: true, Status: "success", Amount: decimal.RequireFromString(amount), Reference: txRef}, nil
	}
}

// MockInitializer records the last request and returns url or err.
type MockInitializer struct {
	last *payment.InitRequest
	url  string
	err  error
}

func (m *MockInitializer) Initialize(_ context.Context, req payment.InitRequest) (string, error) {
	m.last = &req
	return m.url, m.err
}

// MockItems resolves items from the store it wraps.
type MockItems struct {
	store *repository.MemoryStore
}

func (m *MockItems) GetItem(ctx context.Context, itemID int64) (*domain.Item, error) {
	return m.store.GetItem(ctx, itemID)
}

type testEnv struct {
	store  *repository.MemoryStore
	user   *domain.User
	burger *domain.Item
	fries  *domain.Item
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	return setupEnvWithTimeout(t, repository.DefaultLockTimeout)
}

func setupEnvWithTimeout(t *testing.T, lockTimeout time.Duration) *testEnv {
	t.Helper()
	ctx := context.Background()
	s := repository.NewMemoryStore(lockTimeout)
	t.Cleanup(func() { _ = s.Close() })

	user := &domain.User{Email: "abebe@example.com", FirstName: "Abebe", LastName: "Kebede", Phone: "0911000000"}
	require.NoError(t, s.CreateUser(ctx, user))
	burger := &domain.Item{Title: "Burger", Price: decimal.RequireFromString("10.00")}
	require.NoError(t, s.CreateItem(ctx, burger))
	fries := &domain.Item{Title: "Fries", Price: decimal.RequireFromString("3.50")}
	require.NoError(t, s.CreateItem(ctx, fries))
	return &testEnv{store: s, user: user, burger: burger, fries: fries}
}

func (e *testEnv) add(t *testing.T, item *domain.Item, qty int) {
	t.Helper()
	err := e.store.WithTx(context.Background(), func(tx repository.Tx) error {
		if _, err := tx.LockCart(context.Background(), e.user.ID); err != nil {
			return err
		}
		return tx.AddLine(context.Background(), e.user.ID, item.ID, qty)
	})
	require.NoError(t, err)
}

func (e *testEnv) openIntent(t *testing.T, amount string, meta domain.DeliveryRequest) string {
	t.Helper()
	svc := NewPaymentService(e.store, &MockInitializer{}, PaymentConfig{}, logger.Discard())
	ref, err := svc.OpenIntent(context.Background(), e.user.ID, decimal.RequireFromString(amount), meta)
	require.NoError(t, err)
	return ref
}

func pickupAtlas1() domain.DeliveryRequest {
	return domain.DeliveryRequest{Option: domain.DeliveryOptionPickup, PickupBranch: "atlas1"}
}
