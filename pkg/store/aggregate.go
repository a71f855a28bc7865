package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/snapshot"
)

var _ snapshot.AggregateView = (*Store)(nil)

// Aggregate reads counts, totals, the most recent order references and the
// watermark in one transaction. It never selects customer columns.
func (s *Store) Aggregate(ctx context.Context) (snapshot.Aggregate, error) {
	var opts *sql.TxOptions
	if s.dialect == DialectPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return snapshot.Aggregate{}, fmt.Errorf("store: begin read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		agg                                          snapshot.Aggregate
		total, revenue, active, delivered            int64
		issued, redeemed, valueIssued, valueRedeemed int64
	)

	err = tx.QueryRowContext(ctx, s.rebind(`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN total_minor ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN (?, ?, ?, ?) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM orders`),
		string(StatusDelivered),
		string(StatusPending), string(StatusConfirmed), string(StatusPreparing), string(StatusDelivering),
		string(StatusDelivered),
	).Scan(&total, &revenue, &active, &delivered)
	if err != nil {
		return agg, fmt.Errorf("store: order totals: %w", err)
	}

	err = tx.QueryRowContext(ctx, `SELECT
			COUNT(*),
			COUNT(redeemed_at_ms),
			COALESCE(SUM(value_minor), 0),
			COALESCE(SUM(CASE WHEN redeemed_at_ms IS NOT NULL THEN value_minor ELSE 0 END), 0)
		FROM vouchers`,
	).Scan(&issued, &redeemed, &valueIssued, &valueRedeemed)
	if err != nil {
		return agg, fmt.Errorf("store: voucher totals: %w", err)
	}

	rows, err := tx.QueryContext(ctx, s.rebind(`SELECT id, total_minor, created_at_ms FROM orders ORDER BY id DESC LIMIT ?`), s.maxFingerprints)
	if err != nil {
		return agg, fmt.Errorf("store: recent orders: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			ref   snapshot.OrderRef
			minor int64
		)
		if err := rows.Scan(&ref.ID, &minor, &ref.CreatedAtMillis); err != nil {
			return agg, fmt.Errorf("store: scan order: %w", err)
		}
		ref.TotalMinor = uint64(minor) //nolint:gosec // totals are validated non-negative on insert
		agg.Orders = append(agg.Orders, ref)
	}
	if err := rows.Err(); err != nil {
		return agg, fmt.Errorf("store: recent orders: %w", err)
	}

	if err := tx.QueryRowContext(ctx, `SELECT watermark_ms FROM store_meta WHERE id = 1`).Scan(&agg.WatermarkMillis); err != nil {
		return agg, fmt.Errorf("store: read watermark: %w", err)
	}

	agg.TotalOrders = uint64(total)
	agg.TotalRevenueMinor = uint64(revenue)
	agg.ActiveOrders = uint64(active)
	agg.DeliveredOrders = uint64(delivered)
	agg.Vouchers = snapshot.VoucherSummary{
		Issued:             uint64(issued),
		Redeemed:           uint64(redeemed),
		ValueIssuedMinor:   uint64(valueIssued),
		ValueRedeemedMinor: uint64(valueRedeemed),
	}
	return agg, nil
}
