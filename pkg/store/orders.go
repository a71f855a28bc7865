package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/snapshot"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusConfirmed  OrderStatus = "confirmed"
	StatusPreparing  OrderStatus = "preparing"
	StatusDelivering OrderStatus = "delivering"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

// Active reports whether the order is still in progress.
func (s OrderStatus) Active() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusDelivering:
		return true
	}
	return false
}

func ParseOrderStatus(v string) (OrderStatus, error) {
	switch st := OrderStatus(v); st {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusDelivering, StatusDelivered, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, v)
}

// NewOrder is the input to CreateOrder.
type NewOrder struct {
	CustomerPhone string
	CustomerName  string
	ItemsJSON     string
	TotalMinor    int64
	Location      string
	VoucherCode   string
}

type Order struct {
	ID            int64
	CustomerPhone string
	CustomerName  string
	ItemsJSON     string
	TotalMinor    int64
	Status        OrderStatus
	Location      string
	VoucherCode   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateOrder inserts a pending order and returns its id.
func (s *Store) CreateOrder(ctx context.Context, o NewOrder) (int64, error) {
	if o.TotalMinor < 0 {
		return 0, fmt.Errorf("store: negative order total %d", o.TotalMinor)
	}

	var id int64
	err := s.mutate(ctx, func(tx *sql.Tx, now int64) error {
		q := s.rebind(`INSERT INTO orders (customer_phone, customer_name, items_json, total_minor, status, location, voucher_code, created_at_ms, updated_at_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
		if err := tx.QueryRowContext(ctx, q,
			o.CustomerPhone, o.CustomerName, o.ItemsJSON, o.TotalMinor, string(StatusPending), o.Location, o.VoucherCode, now, now,
		).Scan(&id); err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.DebugContext(ctx, "order created", "order_id", id)
	return id, nil
}

// UpdateOrderStatus moves an order to status.
func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status OrderStatus) error {
	if _, err := ParseOrderStatus(string(status)); err != nil {
		return err
	}
	return s.mutate(ctx, func(tx *sql.Tx, now int64) error {
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE orders SET status = ?, updated_at_ms = ? WHERE id = ?`), string(status), now, id)
		if err != nil {
			return fmt.Errorf("failed to update order %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to update order %d: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("order %d: %w", id, ErrNotFound)
		}
		return nil
	})
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*Order, error) {
	q := s.rebind(`SELECT id, customer_phone, customer_name, items_json, total_minor, status, location, voucher_code, created_at_ms, updated_at_ms
		FROM orders WHERE id = ?`)
	var (
		o                  Order
		status             string
		created, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&o.ID, &o.CustomerPhone, &o.CustomerName, &o.ItemsJSON, &o.TotalMinor, &status, &o.Location, &o.VoucherCode, &created, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read order %d: %w", id, err)
	}
	o.Status = OrderStatus(status)
	o.CreatedAt = time.UnixMilli(created).UTC()
	o.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &o, nil
}

// Ref returns the fields of o that are fingerprinted into snapshots.
func (o *Order) Ref() snapshot.OrderRef {
	return snapshot.OrderRef{
		ID:              o.ID,
		TotalMinor:      uint64(o.TotalMinor), //nolint:gosec // totals are validated non-negative on insert
		CreatedAtMillis: o.CreatedAt.UnixMilli(),
	}
}
