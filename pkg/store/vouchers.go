package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type Voucher struct {
	Code       string
	ValueMinor int64
	RedeemedBy string
	IssuedAt   time.Time
	RedeemedAt *time.Time
}

func (s *Store) CreateVoucher(ctx context.Context, code string, valueMinor int64) error {
	if code == "" {
		return errors.New("store: empty voucher code")
	}
	if valueMinor < 0 {
		return fmt.Errorf("store: negative voucher value %d", valueMinor)
	}
	return s.mutate(ctx, func(tx *sql.Tx, now int64) error {
		_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO vouchers (code, value_minor, issued_at_ms) VALUES (?, ?, ?)`), code, valueMinor, now)
		if err != nil {
			return fmt.Errorf("failed to insert voucher: %w", err)
		}
		return nil
	})
}

// RedeemVoucher marks a voucher redeemed. A voucher is redeemable once.
func (s *Store) RedeemVoucher(ctx context.Context, code, redeemedBy string) error {
	return s.mutate(ctx, func(tx *sql.Tx, now int64) error {
		res, err := tx.ExecContext(ctx,
			s.rebind(`UPDATE vouchers SET redeemed_by = ?, redeemed_at_ms = ? WHERE code = ? AND redeemed_at_ms IS NULL`),
			redeemedBy, now, code)
		if err != nil {
			return fmt.Errorf("failed to redeem voucher: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to redeem voucher: %w", err)
		}
		if n == 1 {
			return nil
		}

		var exists int
		err = tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM vouchers WHERE code = ?`), code).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("voucher %s: %w", code, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read voucher: %w", err)
		}
		return fmt.Errorf("voucher %s: %w", code, ErrVoucherRedeemed)
	})
}

func (s *Store) GetVoucher(ctx context.Context, code string) (*Voucher, error) {
	var (
		v          Voucher
		redeemedBy sql.NullString
		issued     int64
		redeemed   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT code, value_minor, redeemed_by, issued_at_ms, redeemed_at_ms FROM vouchers WHERE code = ?`), code,
	).Scan(&v.Code, &v.ValueMinor, &redeemedBy, &issued, &redeemed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("voucher %s: %w", code, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read voucher: %w", err)
	}
	v.RedeemedBy = redeemedBy.String
	v.IssuedAt = time.UnixMilli(issued).UTC()
	if redeemed.Valid {
		t := time.UnixMilli(redeemed.Int64).UTC()
		v.RedeemedAt = &t
	}
	return &v, nil
}
