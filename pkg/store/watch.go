package store

import (
	"context"
	"fmt"
	"time"
)

// Watermark returns the time of the latest committed change in unix millis,
// or 0 for a store that was never written.
func (s *Store) Watermark(ctx context.Context) (int64, error) {
	var w int64
	if err := s.db.QueryRowContext(ctx, `SELECT watermark_ms FROM store_meta WHERE id = 1`).Scan(&w); err != nil {
		return 0, fmt.Errorf("store: read watermark: %w", err)
	}
	return w, nil
}

// Watch polls the watermark and calls n.MarkDirty whenever it moves. It picks
// up writes made by other processes sharing the database, which never reach
// this process's notifier. The first successful read always marks dirty so
// the current state is published once on start.
func (s *Store) Watch(ctx context.Context, every time.Duration, n Notifier) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	last := int64(-1)
	for {
		w, err := s.Watermark(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			s.logger.WarnContext(ctx, "watermark poll failed", "error", err)
		case w != last:
			last = w
			n.MarkDirty()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
