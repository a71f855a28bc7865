// Package journal keeps a local, append-only copy of every envelope the L0
// node accepted. It is an audit trail; the node stays authoritative for the
// chain head.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/chain"
)

type Entry struct {
	Seq        int64
	Envelope   *chain.Envelope
	Ordinal    *uint64
	AcceptedAt time.Time
}

// Checkpoint marks a point where the scheduler adopted the node's head,
// for example after a restart that lost the local record of an acceptance.
type Checkpoint struct {
	Head       chain.Hash
	Cause      string
	AfterSeq   int64 // last envelope seq recorded before the checkpoint, 0 if none
	RecordedAt time.Time
}

// Report summarizes a verified journal. Segments counts the runs of linked
// envelopes; a new segment starts only where a checkpoint explains the break.
type Report struct {
	Entries  int
	Segments int
}

type Journal struct {
	db    *sql.DB
	clock func() time.Time
}

// Open opens (or creates) the sqlite journal at path.
func Open(ctx context.Context, path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	j, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func New(ctx context.Context, db *sql.DB) (*Journal, error) {
	j := &Journal{db: db, clock: time.Now}
	if err := j.migrate(ctx); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return j, nil
}

// WithClock overrides clock for testing.
func (j *Journal) WithClock(clock func() time.Time) *Journal {
	j.clock = clock
	return j
}

func (j *Journal) Close() error { return j.db.Close() }

func (j *Journal) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS accepted_envelopes (
		seq             INTEGER PRIMARY KEY AUTOINCREMENT,
		hash            TEXT NOT NULL UNIQUE,
		prev_hash       TEXT NOT NULL,
		content         BLOB NOT NULL,
		payload         BLOB NOT NULL,
		signature       BLOB NOT NULL,
		signer_address  TEXT NOT NULL,
		public_key      BLOB NOT NULL,
		ordinal         INTEGER,
		accepted_at_ms  INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS checkpoints (
		seq             INTEGER PRIMARY KEY AUTOINCREMENT,
		head            TEXT NOT NULL,
		cause           TEXT NOT NULL,
		after_seq       INTEGER NOT NULL,
		recorded_at_ms  INTEGER NOT NULL
	);`
	_, err := j.db.ExecContext(ctx, query)
	return err
}

// Checkpoint records that the chain continues from head after the last
// recorded envelope.
func (j *Journal) Checkpoint(ctx context.Context, head chain.Hash, cause string) error {
	_, err := j.db.ExecContext(ctx, `INSERT INTO checkpoints (head, cause, after_seq, recorded_at_ms)
		SELECT ?, ?, COALESCE(MAX(seq), 0), ? FROM accepted_envelopes`,
		head.String(), cause, j.clock().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("journal: checkpoint %s: %w", head, err)
	}
	return nil
}

// Checkpoints returns recorded checkpoints in order.
func (j *Journal) Checkpoints(ctx context.Context) ([]Checkpoint, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT head, cause, after_seq, recorded_at_ms FROM checkpoints ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("journal: checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Checkpoint
	for rows.Next() {
		var (
			c    Checkpoint
			head string
			at   int64
		)
		if err := rows.Scan(&head, &c.Cause, &c.AfterSeq, &at); err != nil {
			return nil, fmt.Errorf("journal: scan checkpoint: %w", err)
		}
		if c.Head, err = chain.ParseHash(head); err != nil {
			return nil, fmt.Errorf("journal: checkpoint: %w", err)
		}
		c.RecordedAt = time.UnixMilli(at).UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: checkpoints: %w", err)
	}
	return out, nil
}

// Append records an accepted envelope. Recording the same envelope twice is
// a no-op.
func (j *Journal) Append(ctx context.Context, env *chain.Envelope, ordinal *uint64) error {
	var ord sql.NullInt64
	if ordinal != nil {
		ord = sql.NullInt64{Int64: int64(*ordinal), Valid: true} //nolint:gosec // ordinals fit in int64
	}
	_, err := j.db.ExecContext(ctx, `INSERT INTO accepted_envelopes
		(hash, prev_hash, content, payload, signature, signer_address, public_key, ordinal, accepted_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (hash) DO NOTHING`,
		env.Hash().String(), env.PreviousHash.String(), env.Content, env.Payload, env.Signature,
		env.SignerAddress, env.PublicKey, ord, j.clock().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("journal: append %s: %w", env.Hash(), err)
	}
	return nil
}

// List returns entries in acceptance order.
func (j *Journal) List(ctx context.Context) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT seq, prev_hash, content, payload, signature, signer_address, public_key, ordinal, accepted_at_ms
		FROM accepted_envelopes ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			env      chain.Envelope
			prev     string
			ord      sql.NullInt64
			accepted int64
		)
		if err := rows.Scan(&e.Seq, &prev, &env.Content, &env.Payload, &env.Signature, &env.SignerAddress, &env.PublicKey, &ord, &accepted); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		if env.PreviousHash, err = chain.ParseHash(prev); err != nil {
			return nil, fmt.Errorf("journal: entry %d: %w", e.Seq, err)
		}
		if ord.Valid {
			o := uint64(ord.Int64) //nolint:gosec // stored from a uint64
			e.Ordinal = &o
		}
		e.Envelope = &env
		e.AcceptedAt = time.UnixMilli(accepted).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return entries, nil
}

// Head returns the hash of the last recorded envelope, or genesis when empty.
func (j *Journal) Head(ctx context.Context) (chain.Hash, error) {
	var h string
	err := j.db.QueryRowContext(ctx, `SELECT hash FROM accepted_envelopes ORDER BY seq DESC LIMIT 1`).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return chain.Genesis, nil
	}
	if err != nil {
		return chain.Genesis, fmt.Errorf("journal: head: %w", err)
	}
	return chain.ParseHash(h)
}

// Verify checks every recorded envelope and the links between consecutive
// entries. The first entry may start anywhere. A broken link is accepted
// only when a checkpoint recorded between the two entries names the later
// entry's predecessor.
func (j *Journal) Verify(ctx context.Context) (Report, error) {
	entries, err := j.List(ctx)
	if err != nil {
		return Report{}, err
	}
	if len(entries) == 0 {
		return Report{}, nil
	}
	checkpoints, err := j.Checkpoints(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{Segments: 1}
	start := 0
	for i := 1; i <= len(entries); i++ {
		if i < len(entries) {
			e := entries[i].Envelope
			if e.PreviousHash == entries[i-1].Envelope.Hash() {
				continue
			}
			if !resumes(checkpoints, entries[i-1].Seq, entries[i].Seq, e.PreviousHash) {
				// Let VerifySequence name the broken link.
				continue
			}
		}
		segment := make([]*chain.Envelope, 0, i-start)
		for _, e := range entries[start:i] {
			segment = append(segment, e.Envelope)
		}
		if err := chain.VerifySequence(segment[0].PreviousHash, segment); err != nil {
			return Report{}, fmt.Errorf("journal: segment at seq %d: %w", entries[start].Seq, err)
		}
		report.Entries += len(segment)
		if i < len(entries) {
			report.Segments++
			start = i
		}
	}
	return report, nil
}

func resumes(checkpoints []Checkpoint, afterSeq, beforeSeq int64, head chain.Hash) bool {
	for _, c := range checkpoints {
		if c.AfterSeq >= afterSeq && c.AfterSeq < beforeSeq && c.Head == head {
			return true
		}
	}
	return false
}
