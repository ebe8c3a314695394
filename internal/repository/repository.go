package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fjod/go_food/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrIntentNotFound   = errors.New("payment intent not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrItemNotFound     = errors.New("item not found")
	ErrCartLineNotFound = errors.New("cart line not found")
	ErrDuplicateOrder   = errors.New("order already exists for this payment")
	ErrDuplicateIntent  = errors.New("payment intent already exists")
	// ErrLockTimeout is returned when a row lock could not be acquired within the lock timeout.
	ErrLockTimeout = errors.New("lock wait timeout")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     json.RawMessage
	CreatedAt   time.Time
}

// Store is the persistence boundary of the service. Reads outside WithTx take
// no locks and may observe any committed state.
type Store interface {
	// WithTx runs fn in one transaction. It commits when fn returns nil and
	// rolls back otherwise; nothing fn wrote is visible before commit.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetUser(ctx context.Context, userID int64) (*domain.User, error)
	GetItem(ctx context.Context, itemID int64) (*domain.Item, error)
	ActiveCart(ctx context.Context, userID int64) ([]domain.CartLine, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]*domain.Order, error)

	CreateIntent(ctx context.Context, intent *domain.PaymentIntent) error
	GetIntent(ctx context.Context, txRef string) (*domain.PaymentIntent, error)
	ListPendingIntents(ctx context.Context, olderThan time.Time, limit int) ([]string, error)

	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error

	Close() error
}

// Tx is the set of locked reads and writes available inside WithTx.
// Lock* methods block until the row lock is acquired and return
// ErrLockTimeout when the wait exceeds the store's lock timeout.
type Tx interface {
	// LockCart locks the user's cart and returns its active (unconsumed) lines.
	LockCart(ctx context.Context, userID int64) ([]domain.CartLine, error)
	// AddLine adds quantity of item to the active line for (user, item), creating it when absent.
	AddLine(ctx context.Context, userID, itemID int64, quantity int) error
	UpdateLineQuantity(ctx context.Context, userID, lineID int64, quantity int) error
	RemoveLine(ctx context.Context, userID, lineID int64) error
	ClearCart(ctx context.Context, userID int64) (int, error)
	// ConsumeLines attaches the lines to the order and sets them to status.
	ConsumeLines(ctx context.Context, lineIDs []int64, orderID uuid.UUID, status domain.OrderStatus) error
	SetLineStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus) error
	IncrementScore(ctx context.Context, userID int64) error

	CreateOrder(ctx context.Context, order *domain.Order) error
	LockOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	UpdateOrder(ctx context.Context, order *domain.Order) error

	LockIntent(ctx context.Context, txRef string) (*domain.PaymentIntent, error)
	UpdateIntent(ctx context.Context, intent *domain.PaymentIntent) error

	AddOutboxEvent(ctx context.Context, aggregateID, eventType string, payload []byte) error
}
