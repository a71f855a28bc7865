// Package snapshot captures a business's aggregate state and encodes it into
// the versioned binary form carried by the state channel.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/merkle"
)

// SchemaVersion is the only body layout this build produces and accepts.
const SchemaVersion uint64 = 1

// DefaultMaxFingerprints bounds the per-snapshot order list.
const DefaultMaxFingerprints = 1024

const fingerprintTag = "hive:order:fingerprint:v1"

// Fingerprint is a SHA-256 over an order's non-identifying fields.
type Fingerprint = merkle.Hash

type VoucherSummary struct {
	_                  struct{} `cbor:",toarray"`
	Issued             uint64
	Redeemed           uint64
	ValueIssuedMinor   uint64
	ValueRedeemedMinor uint64
}

// StateSnapshot is an immutable summary of business activity. It carries
// counts, totals and opaque order fingerprints only.
type StateSnapshot struct {
	SchemaVersion     uint64
	BusinessName      string
	CapturedAt        int64 // unix millis of the latest committed change
	TotalOrders       uint64
	TotalRevenueMinor uint64
	ActiveOrders      uint64
	DeliveredOrders   uint64
	Vouchers          VoucherSummary
	Fingerprints      []Fingerprint
	FingerprintRoot   merkle.Hash
}

// OrderRef is the subset of an order that may leave the machine.
type OrderRef struct {
	ID              int64
	TotalMinor      uint64
	CreatedAtMillis int64
}

// Aggregate is what a store returns from one consistent read.
type Aggregate struct {
	TotalOrders       uint64
	TotalRevenueMinor uint64
	ActiveOrders      uint64
	DeliveredOrders   uint64
	Vouchers          VoucherSummary
	Orders            []OrderRef // most recent orders, any order
	WatermarkMillis   int64
}

// AggregateView is implemented by the business store. Aggregate must read
// inside a single read-only transaction.
type AggregateView interface {
	Aggregate(ctx context.Context) (Aggregate, error)
}

// FingerprintOrder hashes an order reference with a domain tag.
func FingerprintOrder(o OrderRef) Fingerprint {
	buf := make([]byte, 0, len(fingerprintTag)+1+24)
	buf = append(buf, fingerprintTag...)
	buf = append(buf, 0)
	buf = binary.BigEndian.AppendUint64(buf, uint64(o.ID))
	buf = binary.BigEndian.AppendUint64(buf, o.TotalMinor)
	buf = binary.BigEndian.AppendUint64(buf, uint64(o.CreatedAtMillis))
	return sha256.Sum256(buf)
}
