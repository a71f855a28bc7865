// Package store is the business's local order and voucher database.
//
// Every committed mutation advances a watermark and then notifies the state
// channel that there is something new to snapshot.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/snapshot"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrVoucherRedeemed   = errors.New("voucher already redeemed")
	ErrInvalidStatus     = errors.New("invalid order status")
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)

// Notifier is told about every committed change.
type Notifier interface {
	MarkDirty()
}

type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// greatest names the two-argument maximum function.
func (d Dialect) greatest() string {
	if d == DialectPostgres {
		return "GREATEST"
	}
	return "MAX"
}

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite", "sqlite3", "":
		return DialectSQLite, nil
	case "postgres", "pgx":
		return DialectPostgres, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
}

type Store struct {
	db              *sql.DB
	dialect         Dialect
	notifier        Notifier
	clock           func() time.Time
	maxFingerprints int
	logger          *slog.Logger
}

type Option func(*Store)

func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithClock overrides clock for testing.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithMaxFingerprints bounds how many recent orders Aggregate returns.
func WithMaxFingerprints(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxFingerprints = n
		}
	}
}

// Open connects to the database and applies migrations. driver is "sqlite"
// (default) or "postgres".
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	name := "sqlite"
	if dialect == DialectPostgres {
		name = "postgres"
	}

	if dialect == DialectSQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	if dialect == DialectSQLite {
		// One writer; avoids SQLITE_BUSY between the bot and the capturer.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", name, err)
	}

	s, err := New(ctx, db, dialect, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// sqliteDSN adds WAL and a busy timeout unless the caller set pragmas.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") || path == ":memory:" {
		return path
	}
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)"
}

// New wraps an open database and applies migrations.
func New(ctx context.Context, db *sql.DB, dialect Dialect, opts ...Option) (*Store, error) {
	s := newStore(db, dialect, opts...)
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func newStore(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{
		db:              db,
		dialect:         dialect,
		clock:           time.Now,
		maxFingerprints: snapshot.DefaultMaxFingerprints,
		logger:          slog.Default().With("component", "store"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == DialectPostgres {
		idColumn = "BIGSERIAL PRIMARY KEY"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id              ` + idColumn + `,
			customer_phone  TEXT NOT NULL,
			customer_name   TEXT NOT NULL DEFAULT '',
			items_json      TEXT NOT NULL,
			total_minor     BIGINT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'pending',
			location        TEXT NOT NULL DEFAULT '',
			voucher_code    TEXT NOT NULL DEFAULT '',
			created_at_ms   BIGINT NOT NULL,
			updated_at_ms   BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS vouchers (
			code            TEXT PRIMARY KEY,
			value_minor     BIGINT NOT NULL,
			redeemed_by     TEXT,
			issued_at_ms    BIGINT NOT NULL,
			redeemed_at_ms  BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS store_meta (
			id            INTEGER PRIMARY KEY CHECK (id = 1),
			watermark_ms  BIGINT NOT NULL
		)`,
		`INSERT INTO store_meta (id, watermark_ms) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// mutate runs fn in a transaction, advances the watermark, commits, and only
// then notifies. now is the mutation time in unix millis.
func (s *Store) mutate(ctx context.Context, fn func(tx *sql.Tx, now int64) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.clock().UnixMilli()
	if err := fn(tx, now); err != nil {
		return err
	}

	// One statement, so concurrent writers serialize on the row and the
	// watermark stays strictly increasing.
	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE store_meta SET watermark_ms = `+s.dialect.greatest()+`(watermark_ms + 1, ?) WHERE id = 1`), now); err != nil {
		return fmt.Errorf("store: advance watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}

	if s.notifier != nil {
		s.notifier.MarkDirty()
	}
	return nil
}
