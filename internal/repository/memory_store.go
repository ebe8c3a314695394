package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_food/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultLockTimeout bounds how long a transaction waits for a row lock.
const DefaultLockTimeout = 3 * time.Second

// MemoryStore implements Store in process memory. Row locks are keyed
// mutexes with a bounded wait; writes of a transaction are staged and
// applied together at commit.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[int64]*domain.User
	items   map[int64]*domain.Item
	lines   map[int64]*domain.CartLine
	orders  map[uuid.UUID]*domain.Order
	intents map[string]*domain.PaymentIntent
	events  []*memEvent

	nextUserID  int64
	nextItemID  int64
	nextLineID  int64
	nextEventID int64

	locks       *keyedLocks
	lockTimeout time.Duration
	now         func() time.Time
}

type memEvent struct {
	OutboxEvent
	processed bool
}

func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &MemoryStore{
		users:       make(map[int64]*domain.User),
		items:       make(map[int64]*domain.Item),
		lines:       make(map[int64]*domain.CartLine),
		orders:      make(map[uuid.UUID]*domain.Order),
		intents:     make(map[string]*domain.PaymentIntent),
		locks:       newKeyedLocks(),
		lockTimeout: lockTimeout,
		now:         time.Now,
	}
}

func (s *MemoryStore) Close() error {
	return nil
}

// ---- seeding ----

func (s *MemoryStore) CreateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUserID++
	u.ID = s.nextUserID
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateItem(_ context.Context, item *domain.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextItemID++
	item.ID = s.nextItemID
	item.CreatedAt = s.now()
	cp := *item
	s.items[item.ID] = &cp
	return nil
}

// DeleteItem removes an item from the catalog; lines referencing it keep
// their quantity and lose the item reference.
func (s *MemoryStore) DeleteItem(_ context.Context, itemID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[itemID]; !ok {
		return ErrItemNotFound
	}
	delete(s.items, itemID)
	for _, line := range s.lines {
		if line.ItemID != nil && *line.ItemID == itemID {
			line.ItemID = nil
		}
	}
	return nil
}

// ---- reads ----

func (s *MemoryStore) GetUser(_ context.Context, userID int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetItem(_ context.Context, itemID int64) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok {
		return nil, ErrItemNotFound
	}
	cp := *item
	return &cp, nil
}

func (s *MemoryStore) ActiveCart(_ context.Context, userID int64) ([]domain.CartLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectLines(func(l *domain.CartLine) bool { return l.UserID == userID && !l.Consumed }), nil
}

// selectLines returns copies of matching lines joined with the catalog,
// ordered by id. Callers hold s.mu.
func (s *MemoryStore) selectLines(match func(*domain.CartLine) bool) []domain.CartLine {
	out := make([]domain.CartLine, 0)
	for _, line := range s.lines {
		if !match(line) {
			continue
		}
		cp := *line
		cp.Title, cp.UnitPrice = "", decimal.Zero
		if cp.ItemID != nil {
			if item, ok := s.items[*cp.ItemID]; ok {
				cp.Title, cp.UnitPrice = item.Title, item.Price
			}
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) orderWithLines(o *domain.Order) *domain.Order {
	cp := *o
	cp.Lines = s.selectLines(func(l *domain.CartLine) bool { return l.OrderID != nil && *l.OrderID == o.ID })
	return &cp
}

func (s *MemoryStore) GetOrder(_ context.Context, orderID uuid.UUID) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return s.orderWithLines(o), nil
}

func (s *MemoryStore) ListOrdersByUser(_ context.Context, userID int64) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Order, 0)
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, s.orderWithLines(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) CreateIntent(_ context.Context, p *domain.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intents[p.TxRef]; ok {
		return ErrDuplicateIntent
	}
	if _, ok := s.users[p.UserID]; !ok {
		return ErrUserNotFound
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	s.intents[p.TxRef] = &cp
	return nil
}

func (s *MemoryStore) GetIntent(_ context.Context, txRef string) (*domain.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.intents[txRef]
	if !ok {
		return nil, ErrIntentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPendingIntents(_ context.Context, olderThan time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pending := make([]*domain.PaymentIntent, 0)
	for _, p := range s.intents {
		if p.Status == domain.IntentStatusPending && p.CreatedAt.Before(olderThan) {
			pending = append(pending, p)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })

	refs := make([]string, 0, limit)
	for _, p := range pending {
		if len(refs) == limit {
			break
		}
		refs = append(refs, p.TxRef)
	}
	return refs, nil
}

func (s *MemoryStore) GetUnprocessedEvents(_ context.Context, limit int) ([]*OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*OutboxEvent, 0)
	for _, e := range s.events {
		if len(out) == limit {
			break
		}
		if !e.processed {
			cp := e.OutboxEvent
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkEventAsProcessed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.ID == id {
			e.processed = true
			return nil
		}
	}
	return fmt.Errorf("outbox event %d not found", id)
}

// ---- transactions ----

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{s: s, held: make(map[string]bool)}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	s.mu.Lock()
	for _, op := range tx.ops {
		op()
	}
	s.mu.Unlock()
	return nil
}

type memTx struct {
	s    *MemoryStore
	held map[string]bool
	ops  []func() // applied under s.mu at commit
}

func (t *memTx) lock(ctx context.Context, key string) error {
	if t.held[key] {
		return nil
	}
	if err := t.s.locks.acquire(ctx, key, t.s.lockTimeout); err != nil {
		return err
	}
	t.held[key] = true
	return nil
}

func (t *memTx) release() {
	for key := range t.held {
		t.s.locks.release(key)
	}
}

func (t *memTx) stage(op func()) {
	t.ops = append(t.ops, op)
}

func cartKey(userID int64) string   { return fmt.Sprintf("cart:%d", userID) }
func orderKey(id uuid.UUID) string  { return "order:" + id.String() }
func intentKey(txRef string) string { return "intent:" + txRef }

func (t *memTx) LockCart(ctx context.Context, userID int64) ([]domain.CartLine, error) {
	if err := t.lock(ctx, cartKey(userID)); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if _, ok := t.s.users[userID]; !ok {
		return nil, ErrUserNotFound
	}
	return t.s.selectLines(func(l *domain.CartLine) bool { return l.UserID == userID && !l.Consumed }), nil
}

// activeLine finds the unconsumed line with id owned by userID. Callers hold s.mu.
func (t *memTx) activeLine(userID, lineID int64) (*domain.CartLine, error) {
	line, ok := t.s.lines[lineID]
	if !ok || line.UserID != userID || line.Consumed {
		return nil, ErrCartLineNotFound
	}
	return line, nil
}

func (t *memTx) AddLine(_ context.Context, userID, itemID int64, quantity int) error {
	t.s.mu.RLock()
	_, ok := t.s.items[itemID]
	t.s.mu.RUnlock()
	if !ok {
		return ErrItemNotFound
	}

	t.stage(func() {
		s := t.s
		for _, line := range s.lines {
			if line.UserID == userID && !line.Consumed && line.ItemID != nil && *line.ItemID == itemID {
				line.Quantity += quantity
				return
			}
		}
		s.nextLineID++
		id := itemID
		s.lines[s.nextLineID] = &domain.CartLine{
			ID:        s.nextLineID,
			UserID:    userID,
			ItemID:    &id,
			Quantity:  quantity,
			Status:    domain.OrderStatusActive,
			CreatedAt: s.now(),
		}
	})
	return nil
}

func (t *memTx) UpdateLineQuantity(_ context.Context, userID, lineID int64, quantity int) error {
	t.s.mu.RLock()
	_, err := t.activeLine(userID, lineID)
	t.s.mu.RUnlock()
	if err != nil {
		return err
	}
	t.stage(func() { t.s.lines[lineID].Quantity = quantity })
	return nil
}

func (t *memTx) RemoveLine(_ context.Context, userID, lineID int64) error {
	t.s.mu.RLock()
	_, err := t.activeLine(userID, lineID)
	t.s.mu.RUnlock()
	if err != nil {
		return err
	}
	t.stage(func() { delete(t.s.lines, lineID) })
	return nil
}

func (t *memTx) ClearCart(_ context.Context, userID int64) (int, error) {
	t.s.mu.RLock()
	ids := make([]int64, 0)
	for id, line := range t.s.lines {
		if line.UserID == userID && !line.Consumed {
			ids = append(ids, id)
		}
	}
	t.s.mu.RUnlock()

	t.stage(func() {
		for _, id := range ids {
			delete(t.s.lines, id)
		}
	})
	return len(ids), nil
}

func (t *memTx) ConsumeLines(_ context.Context, lineIDs []int64, orderID uuid.UUID, status domain.OrderStatus) error {
	t.s.mu.RLock()
	for _, id := range lineIDs {
		line, ok := t.s.lines[id]
		if !ok || line.Consumed {
			t.s.mu.RUnlock()
			return fmt.Errorf("consume cart lines: line %d is not active", id)
		}
	}
	t.s.mu.RUnlock()

	t.stage(func() {
		for _, id := range lineIDs {
			line := t.s.lines[id]
			oid := orderID
			line.Consumed = true
			line.OrderID = &oid
			line.Status = status
		}
	})
	return nil
}

func (t *memTx) SetLineStatus(_ context.Context, orderID uuid.UUID, status domain.OrderStatus) error {
	t.stage(func() {
		for _, line := range t.s.lines {
			if line.OrderID != nil && *line.OrderID == orderID {
				line.Status = status
			}
		}
	})
	return nil
}

func (t *memTx) IncrementScore(_ context.Context, userID int64) error {
	t.s.mu.RLock()
	_, ok := t.s.users[userID]
	t.s.mu.RUnlock()
	if !ok {
		return ErrUserNotFound
	}
	t.stage(func() { t.s.users[userID].Score++ })
	return nil
}

func (t *memTx) CreateOrder(_ context.Context, o *domain.Order) error {
	t.s.mu.RLock()
	_, exists := t.s.orders[o.ID]
	if !exists && o.PaymentTxRef != "" {
		for _, other := range t.s.orders {
			if other.PaymentTxRef == o.PaymentTxRef {
				exists = true
				break
			}
		}
	}
	t.s.mu.RUnlock()
	if exists {
		return ErrDuplicateOrder
	}

	o.UpdatedAt = o.CreatedAt
	cp := *o
	cp.Lines = nil
	t.stage(func() { t.s.orders[cp.ID] = &cp })
	return nil
}

func (t *memTx) LockOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	if err := t.lock(ctx, orderKey(orderID)); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	o, ok := t.s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (t *memTx) UpdateOrder(_ context.Context, o *domain.Order) error {
	t.s.mu.RLock()
	_, ok := t.s.orders[o.ID]
	t.s.mu.RUnlock()
	if !ok {
		return ErrOrderNotFound
	}
	o.UpdatedAt = t.s.now()
	cp := *o
	cp.Lines = nil
	t.stage(func() { t.s.orders[cp.ID] = &cp })
	return nil
}

func (t *memTx) LockIntent(ctx context.Context, txRef string) (*domain.PaymentIntent, error) {
	if err := t.lock(ctx, intentKey(txRef)); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	p, ok := t.s.intents[txRef]
	if !ok {
		return nil, ErrIntentNotFound
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) UpdateIntent(_ context.Context, p *domain.PaymentIntent) error {
	t.s.mu.RLock()
	_, ok := t.s.intents[p.TxRef]
	t.s.mu.RUnlock()
	if !ok {
		return ErrIntentNotFound
	}
	p.UpdatedAt = t.s.now()
	cp := *p
	t.stage(func() { t.s.intents[cp.TxRef] = &cp })
	return nil
}

func (t *memTx) AddOutboxEvent(_ context.Context, aggregateID, eventType string, payload []byte) error {
	t.stage(func() {
		s := t.s
		s.nextEventID++
		s.events = append(s.events, &memEvent{OutboxEvent: OutboxEvent{
			ID:          s.nextEventID,
			AggregateID: aggregateID,
			EventType:   eventType,
			Payload:     append([]byte(nil), payload...),
			CreatedAt:   s.now(),
		}})
	})
	return nil
}

// keyedLocks is a set of exclusive locks addressed by string keys. An entry
// lives only while some transaction holds or waits for it.
type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int // holders plus waiters
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{m: make(map[string]*lockEntry)}
}

func (k *keyedLocks) ref(key string) *lockEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.m[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		k.m[key] = e
	}
	e.refs++
	return e
}

func (k *keyedLocks) unref(key string, e *lockEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.m, key)
	}
}

func (k *keyedLocks) acquire(ctx context.Context, key string, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	e := k.ref(key)
	select {
	case e.ch <- struct{}{}:
		return nil
	case <-timer.C:
		k.unref(key, e)
		return fmt.Errorf("lock %s: %w", key, ErrLockTimeout)
	case <-ctx.Done():
		k.unref(key, e)
		return ctx.Err()
	}
}

func (k *keyedLocks) release(key string) {
	k.mu.Lock()
	e := k.m[key]
	k.mu.Unlock()
	<-e.ch
	k.unref(key, e)
}

func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.m)
}
