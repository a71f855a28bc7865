package retry

import (
	"context"
	"time"
)

// PlanWithin returns the wait before each attempt, starting with 0 for the
// first. Attempts stop at policy.MaxAttempts or when the cumulative wait
// would exceed budget, whichever comes first.
func PlanWithin(params BackoffParams, policy BackoffPolicy, budget time.Duration) []time.Duration {
	if policy.MaxAttempts <= 0 {
		return []time.Duration{0}
	}

	schedule := []time.Duration{0}
	var elapsed time.Duration
	for i := 1; i < policy.MaxAttempts; i++ {
		attempt := params
		attempt.AttemptIndex = i
		delay := ComputeBackoff(attempt, policy)
		if elapsed+delay > budget {
			break
		}
		elapsed += delay
		schedule = append(schedule, delay)
	}
	return schedule
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
