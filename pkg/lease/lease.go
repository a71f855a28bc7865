// Package lease guards an identity against being driven by two processes at
// once. Each process claims a short-lived Redis key for the identity's
// address and keeps refreshing it while the scheduler runs.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrLeaseHeld is returned when another process holds the lease.
	ErrLeaseHeld = errors.New("lease held by another process")
	// ErrLeaseLost is returned by Keep when the lease could not be refreshed.
	ErrLeaseLost = errors.New("lease lost")
)

// Backend is the atomic key store behind a lease.
type Backend interface {
	// Claim sets key to token if key is absent.
	Claim(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Extend resets the ttl if key still holds token.
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Drop deletes key if it still holds token.
	Drop(ctx context.Context, key, token string) error
}

type Lease struct {
	backend Backend
	key     string
	token   string
	ttl     time.Duration
	logger  *slog.Logger

	claimedAt time.Time
}

// New creates a lease for the channel at address. Nothing is claimed until
// Acquire.
func New(backend Backend, address string, ttl time.Duration) *Lease {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Lease{
		backend: backend,
		key:     "hive:statechannel:lease:" + address,
		token:   uuid.NewString(),
		ttl:     ttl,
		logger:  slog.Default().With("component", "lease", "address", address),
	}
}

func (l *Lease) Key() string { return l.key }

func (l *Lease) Acquire(ctx context.Context) error {
	sent := time.Now()
	ok, err := l.backend.Claim(ctx, l.key, l.token, l.ttl)
	if err != nil {
		return fmt.Errorf("lease: claim: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLeaseHeld, l.key)
	}
	l.claimedAt = sent
	l.logger.InfoContext(ctx, "lease acquired", "ttl", l.ttl)
	return nil
}

// Keep refreshes the lease every quarter of its ttl until ctx is done, then
// releases it. It returns ErrLeaseLost as soon as the key no longer holds our
// token, or once refreshes have failed for two thirds of the ttl, while the
// key written by the last good refresh is still live.
func (l *Lease) Keep(ctx context.Context) error {
	ticker := time.NewTicker(l.ttl / 4)
	defer ticker.Stop()
	grace := l.ttl * 2 / 3

	lastOK := l.claimedAt
	if lastOK.IsZero() {
		lastOK = time.Now()
	}
	for {
		select {
		case <-ctx.Done():
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := l.backend.Drop(releaseCtx, l.key, l.token); err != nil {
				l.logger.WarnContext(releaseCtx, "lease release failed", "error", err)
			}
			return nil
		case <-ticker.C:
			// The ttl starts when the backend applies it, not when we hear back.
			sent := time.Now()
			ok, err := l.backend.Extend(ctx, l.key, l.token, l.ttl)
			switch {
			case err != nil && ctx.Err() != nil:
				continue
			case err != nil:
				l.logger.WarnContext(ctx, "lease refresh failed", "error", err)
				if time.Since(lastOK) >= grace {
					return fmt.Errorf("%w: %v", ErrLeaseLost, err)
				}
			case !ok:
				l.logger.ErrorContext(ctx, "lease taken over by another process", "alert", true)
				return ErrLeaseLost
			default:
				lastOK = sent
			}
		}
	}
}
