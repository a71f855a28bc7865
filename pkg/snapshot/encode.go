package snapshot

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/merkle"
)

var (
	// ErrEncoding is returned when a snapshot cannot be represented on the wire.
	ErrEncoding = errors.New("snapshot encoding failed")
	// ErrUnsupportedSchema is returned when decoding an unknown schema version.
	ErrUnsupportedSchema = errors.New("unsupported snapshot schema")
	// ErrMalformed is returned when encoded bytes do not decode to a valid snapshot.
	ErrMalformed = errors.New("malformed snapshot")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: cbor enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: cbor dec mode: %v", err))
	}
}

type versioned struct {
	_       struct{} `cbor:",toarray"`
	Version uint64
	Body    cbor.RawMessage
}

type bodyV1 struct {
	_                 struct{} `cbor:",toarray"`
	BusinessName      string
	CapturedAt        int64
	TotalOrders       uint64
	TotalRevenueMinor uint64
	ActiveOrders      uint64
	DeliveredOrders   uint64
	Vouchers          VoucherSummary
	Fingerprints      [][]byte
	FingerprintRoot   []byte
}

// Encode produces the deterministic CBOR form [schema_version, body].
// Equal snapshots always encode to identical bytes.
func Encode(s *StateSnapshot) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrEncoding)
	}
	if s.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: schema version %d", ErrEncoding, s.SchemaVersion)
	}
	if !utf8.ValidString(s.BusinessName) {
		return nil, fmt.Errorf("%w: business name is not valid UTF-8", ErrEncoding)
	}
	if merkle.Root(s.Fingerprints) != s.FingerprintRoot {
		return nil, fmt.Errorf("%w: fingerprint root does not match fingerprints", ErrEncoding)
	}

	fps := make([][]byte, len(s.Fingerprints))
	for i := range s.Fingerprints {
		fps[i] = s.Fingerprints[i][:]
	}

	body, err := encMode.Marshal(bodyV1{
		BusinessName:      s.BusinessName,
		CapturedAt:        s.CapturedAt,
		TotalOrders:       s.TotalOrders,
		TotalRevenueMinor: s.TotalRevenueMinor,
		ActiveOrders:      s.ActiveOrders,
		DeliveredOrders:   s.DeliveredOrders,
		Vouchers:          s.Vouchers,
		Fingerprints:      fps,
		FingerprintRoot:   s.FingerprintRoot[:],
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	out, err := encMode.Marshal(versioned{Version: SchemaVersion, Body: body})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return out, nil
}

// Decode parses bytes produced by Encode.
func Decode(b []byte) (*StateSnapshot, error) {
	var v versioned
	if err := decMode.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if v.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedSchema, v.Version)
	}

	var body bodyV1
	if err := decMode.Unmarshal(v.Body, &body); err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrMalformed, err)
	}

	s := &StateSnapshot{
		SchemaVersion:     v.Version,
		BusinessName:      body.BusinessName,
		CapturedAt:        body.CapturedAt,
		TotalOrders:       body.TotalOrders,
		TotalRevenueMinor: body.TotalRevenueMinor,
		ActiveOrders:      body.ActiveOrders,
		DeliveredOrders:   body.DeliveredOrders,
		Vouchers:          body.Vouchers,
		Fingerprints:      make([]Fingerprint, len(body.Fingerprints)),
	}
	for i, fp := range body.Fingerprints {
		if len(fp) != len(Fingerprint{}) {
			return nil, fmt.Errorf("%w: fingerprint %d has %d bytes", ErrMalformed, i, len(fp))
		}
		copy(s.Fingerprints[i][:], fp)
	}
	if len(body.FingerprintRoot) != len(merkle.Hash{}) {
		return nil, fmt.Errorf("%w: fingerprint root has %d bytes", ErrMalformed, len(body.FingerprintRoot))
	}
	copy(s.FingerprintRoot[:], body.FingerprintRoot)
	if merkle.Root(s.Fingerprints) != s.FingerprintRoot {
		return nil, fmt.Errorf("%w: fingerprint root does not match fingerprints", ErrMalformed)
	}
	return s, nil
}
