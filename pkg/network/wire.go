package network

import (
	"encoding/hex"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/chain"
	"github.com/Mindburn-Labs/hive-statechannel/pkg/crypto"
)

// SignedSnapshot is the JSON body of a state channel submission.
type SignedSnapshot struct {
	Value  SnapshotValue    `json:"value"`
	Proofs []SignatureProof `json:"proofs"`
}

type SnapshotValue struct {
	LastSnapshotHash string `json:"lastSnapshotHash"`
	// Content is a JSON array of signed bytes.
	Content []int8 `json:"content"`
}

type SignatureProof struct {
	ID        string `json:"id"`        // public key x||y, hex
	Signature string `json:"signature"` // DER, hex
}

// ErrorBody is what the node returns with a non-2xx status.
type ErrorBody struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	LastSnapshotHash string `json:"lastSnapshotHash,omitempty"`
}

const (
	codeDuplicateSnapshot = "DuplicateSnapshot"
	codeChainMismatch     = "ChainMismatch"
	codeInvalidSignature  = "InvalidSignature"
)

type acceptedBody struct {
	Ordinal *uint64 `json:"ordinal"`
}

// ClusterNode is one peer reported by /cluster/info.
type ClusterNode struct {
	ID         string   `json:"id"`
	IP         string   `json:"ip"`
	State      string   `json:"state"`
	Reputation *float64 `json:"reputation,omitempty"`
}

// ChannelHead is the node's view of a state channel's latest accepted link.
type ChannelHead struct {
	Hash    chain.Hash
	Ordinal uint64
}

type channelHeadBody struct {
	Hash    string `json:"hash"`
	Ordinal uint64 `json:"ordinal"`
}

type ordinalBody struct {
	Value uint64 `json:"value"`
}

// WireBody converts an envelope into its submission body. The result is a
// pure function of the envelope, so retries send identical bytes.
func WireBody(env *chain.Envelope) SignedSnapshot {
	content := make([]int8, len(env.Content))
	for i, b := range env.Content {
		content[i] = int8(b)
	}
	return SignedSnapshot{
		Value: SnapshotValue{
			LastSnapshotHash: env.PreviousHash.String(),
			Content:          content,
		},
		Proofs: []SignatureProof{{
			ID:        crypto.PublicKeyID(env.PublicKey),
			Signature: hex.EncodeToString(env.Signature),
		}},
	}
}
