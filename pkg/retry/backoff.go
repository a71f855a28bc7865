// Package retry computes backoff delays for envelope resubmission.
//
// Jitter is derived from the envelope being retried rather than a random
// source, so two runs against the same failures wait the same amounts.
package retry

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

type BackoffParams struct {
	Channel      string // signer address
	EnvelopeHash string
	AttemptIndex int
}

type BackoffPolicy struct {
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
	MaxAttempts int
}

// DefaultPolicy is used for in-cycle resubmission.
var DefaultPolicy = BackoffPolicy{
	BaseMs:      250,
	MaxMs:       10_000,
	MaxJitterMs: 250,
	MaxAttempts: 5,
}

// ComputeBackoff returns the delay for a specific attempt using deterministic jitter.
func ComputeBackoff(params BackoffParams, policy BackoffPolicy) time.Duration {
	// delay = base * 2^attempt
	factor := int64(1)
	if params.AttemptIndex > 0 {
		if params.AttemptIndex > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << params.AttemptIndex
		}
	}

	baseDelay := policy.BaseMs * factor
	if baseDelay > policy.MaxMs || baseDelay < 0 {
		baseDelay = policy.MaxMs
	}

	return time.Duration(baseDelay+ComputeDeterministicJitter(params, policy)) * time.Millisecond
}

func ComputeDeterministicJitter(params BackoffParams, policy BackoffPolicy) int64 {
	if policy.MaxJitterMs <= 0 {
		return 0
	}

	seed := fmt.Sprintf("%s:%s:%d", params.Channel, params.EnvelopeHash, params.AttemptIndex)
	hash := sha256.Sum256([]byte(seed))
	jitterBasis := binary.BigEndian.Uint64(hash[:8])

	return int64(jitterBasis % uint64(policy.MaxJitterMs)) //nolint:gosec // MaxJitterMs is positive here
}
