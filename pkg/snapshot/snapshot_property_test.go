//go:build property
// +build property

package snapshot_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/snapshot"
)

type staticView snapshot.Aggregate

func (v staticView) Aggregate(context.Context) (snapshot.Aggregate, error) {
	return snapshot.Aggregate(v), nil
}

func aggregateFrom(ids []int64, totals []uint64, watermark int64) snapshot.Aggregate {
	agg := snapshot.Aggregate{WatermarkMillis: watermark}
	for i := 0; i < len(ids) && i < len(totals); i++ {
		agg.Orders = append(agg.Orders, snapshot.OrderRef{ID: ids[i], TotalMinor: totals[i], CreatedAtMillis: ids[i] * 10})
		agg.TotalOrders++
		agg.TotalRevenueMinor += totals[i]
	}
	return agg
}

// TestEncodeDeterminism: capturing the same unchanged state twice encodes to
// identical bytes.
func TestEncodeDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("unchanged state encodes identically", prop.ForAll(
		func(name string, ids []int64, totals []uint64, watermark int64) bool {
			view := staticView(aggregateFrom(ids, totals, watermark))
			a, err := snapshot.Capture(context.Background(), view, name, 64)
			if err != nil {
				return false
			}
			b, err := snapshot.Capture(context.Background(), view, name, 64)
			if err != nil {
				return false
			}
			ea, errA := snapshot.Encode(a)
			eb, errB := snapshot.Encode(b)
			if errA != nil || errB != nil {
				return errA != nil && errB != nil
			}
			return bytes.Equal(ea, eb)
		},
		gen.AlphaString(),
		gen.SliceOf(gen.Int64Range(1, 1<<40)),
		gen.SliceOf(gen.UInt64Range(0, 1<<32)),
		gen.Int64Range(0, 1<<45),
	))

	properties.Property("decode inverts encode", prop.ForAll(
		func(name string, ids []int64, totals []uint64) bool {
			s, err := snapshot.Capture(context.Background(), staticView(aggregateFrom(ids, totals, 1)), name, 0)
			if err != nil {
				return false
			}
			enc, err := snapshot.Encode(s)
			if err != nil {
				return false
			}
			got, err := snapshot.Decode(enc)
			if err != nil {
				return false
			}
			again, err := snapshot.Encode(got)
			return err == nil && bytes.Equal(enc, again)
		},
		gen.AlphaString(),
		gen.SliceOf(gen.Int64Range(1, 1<<40)),
		gen.SliceOf(gen.UInt64Range(0, 1<<32)),
	))

	properties.TestingRun(t)
}
