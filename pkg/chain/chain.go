// Package chain links encoded snapshots into an append-only hash chain and
// seals each link with the node's signature.
//
// Every link commits to the hash of the link before it. The first link of a
// channel commits to Genesis, the all-zero hash.
package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/crypto"
)

const linkTag = "hive:statechannel:snapshot:v1"

var (
	// ErrChainMismatch is returned when a link does not commit to the expected predecessor.
	ErrChainMismatch = errors.New("chain mismatch")
	// ErrSignatureInvalid is returned when an envelope's signature or signer does not check out.
	ErrSignatureInvalid = errors.New("signature invalid")
	// ErrMalformedPayload is returned when a payload does not have the link layout.
	ErrMalformedPayload = errors.New("malformed link payload")
)

// Hash identifies a link. Its zero value is the genesis hash.
type Hash [32]byte

// Genesis is the predecessor of the first link.
var Genesis Hash

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) IsGenesis() bool { return h == Genesis }

// ParseHash decodes a 64 character hex string.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("chain: parse hash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("chain: parse hash: want %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Link builds the payload committing encoded to prev and returns its hash.
// Layout: tag 0x00 prev uint64be(len(encoded)) encoded.
func Link(prev Hash, encoded []byte) (Hash, []byte) {
	payload := make([]byte, 0, len(linkTag)+1+len(prev)+8+len(encoded))
	payload = append(payload, linkTag...)
	payload = append(payload, 0)
	payload = append(payload, prev[:]...)
	payload = binary.BigEndian.AppendUint64(payload, uint64(len(encoded)))
	payload = append(payload, encoded...)
	return sha256.Sum256(payload), payload
}

// Unlink splits a payload back into its predecessor and content.
func Unlink(payload []byte) (Hash, []byte, error) {
	var prev Hash
	header := len(linkTag) + 1
	if len(payload) < header+len(prev)+8 {
		return prev, nil, fmt.Errorf("%w: %d bytes", ErrMalformedPayload, len(payload))
	}
	if !bytes.Equal(payload[:len(linkTag)], []byte(linkTag)) || payload[len(linkTag)] != 0 {
		return prev, nil, fmt.Errorf("%w: bad tag", ErrMalformedPayload)
	}
	copy(prev[:], payload[header:header+len(prev)])
	rest := payload[header+len(prev):]
	n := binary.BigEndian.Uint64(rest[:8])
	content := rest[8:]
	if uint64(len(content)) != n {
		return prev, nil, fmt.Errorf("%w: length %d, have %d", ErrMalformedPayload, n, len(content))
	}
	return prev, content, nil
}

// Envelope is a signed link ready for submission.
type Envelope struct {
	PreviousHash  Hash
	Content       []byte // encoded snapshot
	Payload       []byte // exactly the signed bytes
	Signature     []byte // DER
	SignerAddress string
	PublicKey     []byte // uncompressed secp256k1
}

// Hash is the identity of the envelope's link.
func (e *Envelope) Hash() Hash {
	return sha256.Sum256(e.Payload)
}

// Seal links encoded to prev and signs the resulting payload.
func Seal(signer crypto.Signer, prev Hash, encoded []byte) (*Envelope, error) {
	_, payload := Link(prev, encoded)
	sig, err := signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("chain: sign: %w", err)
	}
	return &Envelope{
		PreviousHash:  prev,
		Content:       bytes.Clone(encoded),
		Payload:       payload,
		Signature:     sig,
		SignerAddress: signer.Address(),
		PublicKey:     bytes.Clone(signer.PublicKeyBytes()),
	}, nil
}

// Verify checks one envelope in isolation: payload layout, that the payload
// matches the stated predecessor and content, that the address belongs to the
// public key, and that the signature is valid.
func Verify(env *Envelope) error {
	prev, content, err := Unlink(env.Payload)
	if err != nil {
		return err
	}
	if prev != env.PreviousHash {
		return fmt.Errorf("%w: payload commits to %s, envelope states %s", ErrChainMismatch, prev, env.PreviousHash)
	}
	if !bytes.Equal(content, env.Content) {
		return fmt.Errorf("%w: content differs from payload", ErrMalformedPayload)
	}
	if crypto.AddressFromPublicKey(env.PublicKey) != env.SignerAddress {
		return fmt.Errorf("%w: address %s does not belong to public key", ErrSignatureInvalid, env.SignerAddress)
	}
	ok, err := crypto.Verify(env.PublicKey, env.Payload, env.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if !ok {
		return ErrSignatureInvalid
	}
	return nil
}

// VerifySequence checks each envelope and that envs[0] commits to start and
// every later envelope commits to the hash of the one before it.
func VerifySequence(start Hash, envs []*Envelope) error {
	expected := start
	for i, env := range envs {
		if env.PreviousHash != expected {
			return fmt.Errorf("%w: link %d: expected prev %s, got %s", ErrChainMismatch, i, expected, env.PreviousHash)
		}
		if err := Verify(env); err != nil {
			return fmt.Errorf("link %d: %w", i, err)
		}
		expected = env.Hash()
	}
	return nil
}
