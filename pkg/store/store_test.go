package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/snapshot"
)

type countingNotifier struct{ n atomic.Int64 }

func (c *countingNotifier) MarkDirty() { c.n.Add(1) }

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "hive.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOrders_Lifecycle(t *testing.T) {
	n := &countingNotifier{}
	s := openTestStore(t, WithNotifier(n), WithClock(fixedClock(1_000)))
	ctx := context.Background()

	id, err := s.CreateOrder(ctx, NewOrder{CustomerPhone: "+254700000001", ItemsJSON: `[]`, TotalMinor: 1250})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n.n.Load())

	require.NoError(t, s.UpdateOrderStatus(ctx, id, StatusDelivered))
	assert.Equal(t, int64(2), n.n.Load())

	o, err := s.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, o.Status)
	assert.Equal(t, int64(1250), o.TotalMinor)

	err = s.UpdateOrderStatus(ctx, 999, StatusDelivered)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int64(2), n.n.Load(), "failed mutation must not notify")

	err = s.UpdateOrderStatus(ctx, id, OrderStatus("lost"))
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = s.GetOrder(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, snapshot.OrderRef{ID: id, TotalMinor: 1250, CreatedAtMillis: 1_000}, o.Ref())
}

func TestMutate_WatermarkStrictlyIncreases(t *testing.T) {
	s := openTestStore(t, WithClock(fixedClock(5_000)))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.CreateOrder(ctx, NewOrder{CustomerPhone: "+254700000001", ItemsJSON: `[]`, TotalMinor: 10})
		require.NoError(t, err)
	}
	w, err := s.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5_002), w, "same-millisecond writes still move the watermark")
}

func TestMutate_ConcurrentWritersNeverShareWatermark(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hive.db")
	ctx := context.Background()
	clock := fixedClock(7_000)

	var stores []*Store
	for i := 0; i < 2; i++ {
		st, err := Open(ctx, "sqlite", path, WithClock(clock))
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		stores = append(stores, st)
	}

	const perWriter = 10
	errs := make(chan error, 2*perWriter)
	var wg sync.WaitGroup
	for _, st := range stores {
		wg.Add(1)
		go func(st *Store) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := st.CreateOrder(ctx, NewOrder{CustomerPhone: "+254700000001", ItemsJSON: `[]`, TotalMinor: 10})
				errs <- err
			}
		}(st)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	w, err := stores[0].Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7_000+2*perWriter-1), w, "every commit advanced the watermark once")
}

func TestVouchers_RedeemOnce(t *testing.T) {
	n := &countingNotifier{}
	s := openTestStore(t, WithNotifier(n))
	ctx := context.Background()

	require.NoError(t, s.CreateVoucher(ctx, "HIVE-100", 10_000))
	require.NoError(t, s.RedeemVoucher(ctx, "HIVE-100", "+254700000002"))

	err := s.RedeemVoucher(ctx, "HIVE-100", "+254700000003")
	assert.ErrorIs(t, err, ErrVoucherRedeemed)

	err = s.RedeemVoucher(ctx, "NOPE", "+254700000003")
	assert.ErrorIs(t, err, ErrNotFound)

	v, err := s.GetVoucher(ctx, "HIVE-100")
	require.NoError(t, err)
	assert.Equal(t, "+254700000002", v.RedeemedBy)
	require.NotNil(t, v.RedeemedAt)
	assert.Equal(t, int64(2), n.n.Load())
}

func TestAggregate_Totals(t *testing.T) {
	s := openTestStore(t, WithClock(fixedClock(5_000)))
	ctx := context.Background()

	a, err := s.CreateOrder(ctx, NewOrder{CustomerPhone: "p1", ItemsJSON: "[]", TotalMinor: 1000})
	require.NoError(t, err)
	b, err := s.CreateOrder(ctx, NewOrder{CustomerPhone: "p2", ItemsJSON: "[]", TotalMinor: 2500})
	require.NoError(t, err)
	_, err = s.CreateOrder(ctx, NewOrder{CustomerPhone: "p3", ItemsJSON: "[]", TotalMinor: 700})
	require.NoError(t, err)
	require.NoError(t, s.UpdateOrderStatus(ctx, a, StatusDelivered))
	require.NoError(t, s.UpdateOrderStatus(ctx, b, StatusCancelled))
	require.NoError(t, s.CreateVoucher(ctx, "V1", 300))
	require.NoError(t, s.CreateVoucher(ctx, "V2", 500))
	require.NoError(t, s.RedeemVoucher(ctx, "V2", "p1"))

	agg, err := s.Aggregate(ctx)
	require.NoError(t, err)

	assert.Equal(t, uint64(3), agg.TotalOrders)
	assert.Equal(t, uint64(1000), agg.TotalRevenueMinor)
	assert.Equal(t, uint64(1), agg.ActiveOrders)
	assert.Equal(t, uint64(1), agg.DeliveredOrders)
	assert.Equal(t, snapshot.VoucherSummary{Issued: 2, Redeemed: 1, ValueIssuedMinor: 800, ValueRedeemedMinor: 500}, agg.Vouchers)
	assert.Len(t, agg.Orders, 3)
	// Eight mutations in the same millisecond still advance the watermark.
	assert.Equal(t, int64(5_000+7), agg.WatermarkMillis)
}

func TestAggregate_CapsRecentOrders(t *testing.T) {
	s := openTestStore(t, WithMaxFingerprints(2))
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := s.CreateOrder(ctx, NewOrder{CustomerPhone: "p", ItemsJSON: "[]", TotalMinor: 1})
		require.NoError(t, err)
	}

	agg, err := s.Aggregate(ctx)
	require.NoError(t, err)
	require.Len(t, agg.Orders, 2)
	ids := []int64{agg.Orders[0].ID, agg.Orders[1].ID}
	assert.ElementsMatch(t, []int64{3, 4}, ids)
	assert.Equal(t, uint64(4), agg.TotalOrders)
}

func TestAggregate_EmptyStore(t *testing.T) {
	s := openTestStore(t)
	agg, err := s.Aggregate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, agg.TotalOrders)
	assert.Empty(t, agg.Orders)
	assert.Zero(t, agg.WatermarkMillis)
}

func TestCapture_UnchangedStoreEncodesIdentically(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.CreateOrder(ctx, NewOrder{CustomerPhone: "p", ItemsJSON: "[]", TotalMinor: 900})
	require.NoError(t, err)

	encode := func() []byte {
		snap, err := snapshot.Capture(ctx, s, "Mama Mboga", 0)
		require.NoError(t, err)
		b, err := snapshot.Encode(snap)
		require.NoError(t, err)
		return b
	}
	first := encode()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, first, encode())
}

func TestCapture_NoPersonalData(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const (
		phone    = "+254711223344"
		name     = "Wanjiru Kamau"
		location = "Kilimani, Argwings Kodhek Rd"
	)
	id, err := s.CreateOrder(ctx, NewOrder{
		CustomerPhone: phone,
		CustomerName:  name,
		ItemsJSON:     `[{"item":"chapati","qty":4}]`,
		TotalMinor:    40000,
		Location:      location,
	})
	require.NoError(t, err)
	require.NoError(t, s.UpdateOrderStatus(ctx, id, StatusDelivered))
	require.NoError(t, s.CreateVoucher(ctx, "GIFT-1", 500))
	require.NoError(t, s.RedeemVoucher(ctx, "GIFT-1", phone))

	snap, err := snapshot.Capture(ctx, s, "Shop", 0)
	require.NoError(t, err)
	enc, err := snapshot.Encode(snap)
	require.NoError(t, err)

	for _, pii := range []string{phone, name, location, "chapati", "GIFT-1"} {
		assert.False(t, bytes.Contains(enc, []byte(pii)), "snapshot leaks %q", pii)
	}
}

func TestMutate_FailedInsertDoesNotNotify(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	n := &countingNotifier{}
	s := newStore(db, DialectSQLite, WithNotifier(n))

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO orders").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = s.CreateOrder(context.Background(), NewOrder{CustomerPhone: "p", ItemsJSON: "[]", TotalMinor: 1})
	require.Error(t, err)
	assert.Zero(t, n.n.Load())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMutate_FailedCommitDoesNotNotify(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	n := &countingNotifier{}
	s := newStore(db, DialectPostgres, WithNotifier(n), WithClock(fixedClock(10)))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE orders SET status = \$1, updated_at_ms = \$2 WHERE id = \$3`).
		WithArgs("delivered", int64(10), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE store_meta SET watermark_ms = GREATEST\(watermark_ms \+ 1, \$1\) WHERE id = 1`).
		WithArgs(int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	err = s.UpdateOrderStatus(context.Background(), 7, StatusDelivered)
	require.Error(t, err)
	assert.Zero(t, n.n.Load())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("postgres")
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, d)

	_, err = DialectFor("mysql")
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestWatch_MarksDirtyOnForeignWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hive.db")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, err := Open(ctx, "sqlite", path)
	require.NoError(t, err)
	defer func() { _ = watcher.Close() }()
	// A second handle stands in for the business process.
	writer, err := Open(ctx, "sqlite", path)
	require.NoError(t, err)
	defer func() { _ = writer.Close() }()

	n := &countingNotifier{}
	done := make(chan error, 1)
	go func() { done <- watcher.Watch(ctx, 5*time.Millisecond, n) }()

	require.Eventually(t, func() bool { return n.n.Load() == 1 }, 2*time.Second, 5*time.Millisecond, "initial read publishes")

	_, err = writer.CreateOrder(ctx, NewOrder{CustomerPhone: "+254700000009", ItemsJSON: `[]`, TotalMinor: 300})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return n.n.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

	w, err := watcher.Watermark(ctx)
	require.NoError(t, err)
	assert.Positive(t, w)

	cancel()
	assert.NoError(t, <-done)
}
