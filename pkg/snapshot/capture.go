package snapshot

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/merkle"
)

// Capture reads the aggregate view once and builds a snapshot from it.
// Orders beyond maxFingerprints are dropped oldest-id first; the remainder is
// fingerprinted in ascending id order. A non-positive maxFingerprints means
// DefaultMaxFingerprints.
func Capture(ctx context.Context, view AggregateView, businessName string, maxFingerprints int) (*StateSnapshot, error) {
	if maxFingerprints <= 0 {
		maxFingerprints = DefaultMaxFingerprints
	}

	agg, err := view.Aggregate(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read aggregate: %w", err)
	}

	orders := slices.Clone(agg.Orders)
	slices.SortFunc(orders, func(a, b OrderRef) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	if len(orders) > maxFingerprints {
		orders = orders[len(orders)-maxFingerprints:]
	}

	fps := make([]Fingerprint, len(orders))
	for i, o := range orders {
		fps[i] = FingerprintOrder(o)
	}

	return &StateSnapshot{
		SchemaVersion:     SchemaVersion,
		BusinessName:      norm.NFC.String(businessName),
		CapturedAt:        agg.WatermarkMillis,
		TotalOrders:       agg.TotalOrders,
		TotalRevenueMinor: agg.TotalRevenueMinor,
		ActiveOrders:      agg.ActiveOrders,
		DeliveredOrders:   agg.DeliveredOrders,
		Vouchers:          agg.Vouchers,
		Fingerprints:      fps,
		FingerprintRoot:   merkle.Root(fps),
	}, nil
}
