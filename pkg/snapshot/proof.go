package snapshot

import (
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/merkle"
)

// ErrNotIncluded is returned when an order's fingerprint is not in a snapshot.
var ErrNotIncluded = errors.New("order not included in snapshot")

// ProveOrder builds an inclusion proof for o against the snapshot's
// fingerprint root. Anyone holding the order fields and the published
// snapshot can check it with merkle.VerifyInclusionProof.
func ProveOrder(s *StateSnapshot, o OrderRef) (*merkle.InclusionProof, error) {
	fp := FingerprintOrder(o)
	index := -1
	for i, f := range s.Fingerprints {
		if f == fp {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, fmt.Errorf("%w: order %d", ErrNotIncluded, o.ID)
	}

	tree := merkle.Build(s.Fingerprints)
	if tree.Root != s.FingerprintRoot {
		return nil, fmt.Errorf("%w: fingerprint root does not match list", ErrMalformed)
	}
	return tree.Prove(index, fp)
}
