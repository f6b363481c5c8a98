// Package orders records customer orders and reports their status.
package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nugget/spectrumbot/internal/database"
)

// StatusAwaitingPayment is the status every new order starts in.
const StatusAwaitingPayment = "Menunggu Pembayaran"

// ErrNotFound is returned when no order has the given number.
var ErrNotFound = errors.New("order not found")

const orderColumns = "order_number, customer_name, detail_items, status, total, conversation_id, created_at, updated_at"

// Order is a recorded customer order.
type Order struct {
	Number         string    `json:"order_number"`
	CustomerName   string    `json:"customer_name"`
	DetailItems    string    `json:"detail_items"`
	Status         string    `json:"status"`
	Total          int64     `json:"total"`
	ConversationID string    `json:"conversation_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store manages order persistence.
type Store struct {
	db *database.DB
}

// NewStore creates an order store on a migrated database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Insert writes a new order as a single statement. A duplicate number
// surfaces as an error for which database.IsUniqueViolation is true.
func (s *Store) Insert(ctx context.Context, o *Order) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), o.Number, o.CustomerName, o.DetailItems, o.Status, o.Total, o.ConversationID, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.Number, err)
	}
	return nil
}

// Get returns the order with the exact number, or ErrNotFound.
func (s *Store) Get(ctx context.Context, number string) (*Order, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+orderColumns+` FROM orders WHERE order_number = ?`), number)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", number, err)
	}
	return o, nil
}

// List returns the newest orders first.
func (s *Store) List(ctx context.Context, limit int) ([]*Order, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`SELECT `+orderColumns+` FROM orders ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdateStatus sets the status of an order, or returns ErrNotFound.
func (s *Store) UpdateStatus(ctx context.Context, number, status string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE orders SET status = ?, updated_at = ? WHERE order_number = ?`),
		status, at, number)
	if err != nil {
		return fmt.Errorf("update order %s: %w", number, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order %s: %w", number, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*Order, error) {
	var o Order
	err := row.Scan(&o.Number, &o.CustomerName, &o.DetailItems, &o.Status, &o.Total,
		&o.ConversationID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
