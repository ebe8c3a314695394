package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_food/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgLockNotAvailable    = "55P03"
	pgDeadlockDetected    = "40P01"
)

type Repository struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func NewRepository(cred *Credentials, lockTimeout time.Duration) (*Repository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &Repository{db: db, lockTimeout: lockTimeout}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "checkout_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	// SET does not accept bind parameters.
	setTimeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
	if _, err := sqlTx.ExecContext(ctx, setTimeout); err != nil {
		_ = sqlTx.Rollback()
		return fmt.Errorf("set lock timeout: %w", err)
	}

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapPgError("commit tx", err)
	}
	return nil
}

// mapPgError wraps err with op and classifies lock failures as ErrLockTimeout.
func mapPgError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgLockNotAvailable, pgDeadlockDetected:
			return fmt.Errorf("%s: %w: %s", op, ErrLockTimeout, pqErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isPgCode(err error, code string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == code
}

// ---- users and catalog ----

func (r *Repository) CreateUser(ctx context.Context, u *domain.User) error {
	query := `INSERT INTO users (email, first_name, last_name, phone_number, score, is_staff)
	          VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	if err := r.db.QueryRowContext(ctx, query, u.Email, u.FirstName, u.LastName, u.Phone, u.Score, u.IsStaff).Scan(&u.ID); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *Repository) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	query := `SELECT id, email, first_name, last_name, phone_number, score, is_staff FROM users WHERE id = $1`
	var u domain.User
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Phone, &u.Score, &u.IsStaff)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

func (r *Repository) CreateItem(ctx context.Context, item *domain.Item) error {
	query := `INSERT INTO items (title, price) VALUES ($1, $2) RETURNING id, created_at`
	if err := r.db.QueryRowContext(ctx, query, item.Title, item.Price).Scan(&item.ID, &item.CreatedAt); err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (r *Repository) DeleteItem(ctx context.Context, itemID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return expectRows(res, ErrItemNotFound)
}

func (r *Repository) GetItem(ctx context.Context, itemID int64) (*domain.Item, error) {
	query := `SELECT id, title, price, created_at FROM items WHERE id = $1`
	var item domain.Item
	err := r.db.QueryRowContext(ctx, query, itemID).Scan(&item.ID, &item.Title, &item.Price, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}
	return &item, nil
}

// ---- cart ----

const lineSelect = `SELECT cl.id, cl.user_id, cl.item_id, cl.quantity, cl.consumed, cl.status, cl.order_id, cl.created_at,
	       COALESCE(i.title, ''), COALESCE(i.price, 0)
	  FROM cart_lines cl
	  LEFT JOIN items i ON i.id = cl.item_id`

func scanLine(s scanner) (domain.CartLine, error) {
	var (
		line    domain.CartLine
		itemID  sql.NullInt64
		orderID uuid.NullUUID
		status  string
	)
	err := s.Scan(&line.ID, &line.UserID, &itemID, &line.Quantity, &line.Consumed, &status, &orderID,
		&line.CreatedAt, &line.Title, &line.UnitPrice)
	if err != nil {
		return line, err
	}
	if itemID.Valid {
		id := itemID.Int64
		line.ItemID = &id
	}
	if orderID.Valid {
		id := orderID.UUID
		line.OrderID = &id
	}
	line.Status = domain.OrderStatus(status)
	return line, nil
}

func queryLines(ctx context.Context, q querier, query string, args ...any) ([]domain.CartLine, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapPgError("query cart lines", err)
	}
	defer rows.Close()

	lines := make([]domain.CartLine, 0)
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError("iterate cart lines", err)
	}
	return lines, nil
}

func (r *Repository) ActiveCart(ctx context.Context, userID int64) ([]domain.CartLine, error) {
	return queryLines(ctx, r.db, lineSelect+` WHERE cl.user_id = $1 AND NOT cl.consumed ORDER BY cl.id`, userID)
}

// ---- orders ----

const orderColumns = `id, user_id, delivery_option, pickup_branch, pickup_time, delivery_address, latitude, longitude,
	delivery_time, total_price, status, cancel_reason, cancelled_at, delivered_at, admin_notes, payment_tx_ref,
	created_at, updated_at`

func scanOrder(s scanner) (*domain.Order, error) {
	var (
		o               domain.Order
		option, status  string
		branch, address sql.NullString
		txRef           sql.NullString
		pickupTime      sql.NullTime
		deliveryTime    sql.NullTime
		cancelledAt     sql.NullTime
		deliveredAt     sql.NullTime
		lat, lon        decimal.NullDecimal
	)
	err := s.Scan(&o.ID, &o.UserID, &option, &branch, &pickupTime, &address, &lat, &lon,
		&deliveryTime, &o.TotalPrice, &status, &o.CancelReason, &cancelledAt, &deliveredAt, &o.AdminNotes, &txRef,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	o.PaymentTxRef = txRef.String
	o.Delivery = domain.Delivery{
		Option:          domain.DeliveryOption(option),
		PickupBranch:    branch.String,
		PickupTime:      timePtr(pickupTime),
		DeliveryAddress: address.String,
		DeliveryTime:    timePtr(deliveryTime),
	}
	if lat.Valid && lon.Valid {
		o.Delivery.Latitude, o.Delivery.Longitude = &lat.Decimal, &lon.Decimal
	}
	o.CancelledAt = timePtr(cancelledAt)
	o.DeliveredAt = timePtr(deliveredAt)
	return &o, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func (r *Repository) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}

	order.Lines, err = queryLines(ctx, r.db, lineSelect+` WHERE cl.order_id = $1 ORDER BY cl.id`, orderID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *Repository) ListOrdersByUser(ctx context.Context, userID int64) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders by user id: %w", err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	byID := make(map[uuid.UUID]*domain.Order)
	ids := make([]string, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
		byID[order.ID] = order
		ids = append(ids, order.ID.String())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	lines, err := queryLines(ctx, r.db, lineSelect+` WHERE cl.order_id = ANY($1::uuid[]) ORDER BY cl.id`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		if o, ok := byID[*line.OrderID]; ok {
			o.Lines = append(o.Lines, line)
		}
	}
	return orders, nil
}

// ---- payment intents ----

const intentColumns = `tx_ref, user_id, amount, email, first_name, last_name, phone_number, metadata, status,
	order_id, failure_reason, created_at, updated_at`

func scanIntent(s scanner) (*domain.PaymentIntent, error) {
	var (
		p        domain.PaymentIntent
		metadata []byte
		status   string
		orderID  uuid.NullUUID
	)
	err := s.Scan(&p.TxRef, &p.UserID, &p.Amount, &p.Payer.Email, &p.Payer.FirstName, &p.Payer.LastName, &p.Payer.Phone,
		&metadata, &status, &orderID, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal intent metadata: %w", err)
	}
	p.Status = domain.IntentStatus(status)
	if orderID.Valid {
		id := orderID.UUID
		p.OrderID = &id
	}
	return &p, nil
}

func (r *Repository) CreateIntent(ctx context.Context, p *domain.PaymentIntent) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal intent metadata: %w", err)
	}

	query := `INSERT INTO payment_intents (tx_ref, user_id, amount, email, first_name, last_name, phone_number, metadata, status)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          RETURNING created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query, p.TxRef, p.UserID, p.Amount, p.Payer.Email, p.Payer.FirstName,
		p.Payer.LastName, p.Payer.Phone, metadata, p.Status).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isPgCode(err, pgUniqueViolation) {
			return ErrDuplicateIntent
		}
		if isPgCode(err, pgForeignKeyViolation) {
			return ErrUserNotFound
		}
		return fmt.Errorf("insert payment intent: %w", err)
	}
	return nil
}

func (r *Repository) GetIntent(ctx context.Context, txRef string) (*domain.PaymentIntent, error) {
	p, err := scanIntent(r.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE tx_ref = $1`, txRef))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query payment intent: %w", err)
	}
	return p, nil
}

func (r *Repository) ListPendingIntents(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	query := `SELECT tx_ref FROM payment_intents
	          WHERE status = 'Pending' AND created_at < $1
	          ORDER BY created_at LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending intents: %w", err)
	}
	defer rows.Close()

	refs := make([]string, 0)
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scan pending intent: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// ---- outbox ----

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, created_at
	          FROM outbox_events WHERE NOT processed ORDER BY id LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	events := make([]*OutboxEvent, 0)
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox_events SET processed = TRUE, processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

func expectRows(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
