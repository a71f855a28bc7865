package network

import (
	"errors"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/chain"
)

var (
	// ErrTransient means the L0 node did not receive or did not process the envelope.
	ErrTransient = errors.New("transient submission failure")
	// ErrAmbiguous means the envelope may or may not have been received.
	ErrAmbiguous = errors.New("ambiguous submission failure")
	// ErrSignatureRejected means the L0 node did not accept the envelope's signature.
	ErrSignatureRejected = errors.New("signature rejected")
	// ErrRejected covers every other definitive rejection.
	ErrRejected = errors.New("submission rejected")
)

// Kind is the top-level classification of a submission attempt.
type Kind int

const (
	Accepted Kind = iota
	Rejected
	TransientFailure
	AmbiguousFailure
)

func (k Kind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case TransientFailure:
		return "transient"
	case AmbiguousFailure:
		return "ambiguous"
	}
	return "unknown"
}

// Reason refines a Rejected outcome.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonChainMismatch
	ReasonSignatureRejected
	ReasonMalformedSchema
	ReasonOther
)

func (r Reason) String() string {
	switch r {
	case ReasonChainMismatch:
		return "chain_mismatch"
	case ReasonSignatureRejected:
		return "signature_rejected"
	case ReasonMalformedSchema:
		return "malformed_schema"
	case ReasonOther:
		return "other"
	}
	return ""
}

// Outcome is the result of one submission attempt.
type Outcome struct {
	Kind   Kind
	Reason Reason
	Status int // HTTP status, 0 if none was received

	// Ordinal is the remote snapshot ordinal when the node reports one.
	Ordinal *uint64
	// RemoteHash is the node's current head for this channel on ChainMismatch.
	RemoteHash *chain.Hash

	Err error
}

// Retryable reports whether the same envelope may be sent again.
func (o Outcome) Retryable() bool {
	return o.Kind == TransientFailure || o.Kind == AmbiguousFailure
}
