package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer signs state channel payloads on behalf of one identity.
type Signer interface {
	Sign(data []byte) ([]byte, error)
	PublicKeyBytes() []byte
	Address() string
}

// Secp256k1Signer implementation.
type Secp256k1Signer struct {
	privKey *ecdsa.PrivateKey
	pubKey  []byte
	address string
}

func NewSecp256k1Signer() (*Secp256k1Signer, error) {
	priv, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return NewSecp256k1SignerFromKey(priv), nil
}

func NewSecp256k1SignerFromKey(priv *ecdsa.PrivateKey) *Secp256k1Signer {
	pub := ethcrypto.FromECDSAPub(&priv.PublicKey)
	return &Secp256k1Signer{
		privKey: priv,
		pubKey:  pub,
		address: AddressFromPublicKey(pub),
	}
}

// Sign hashes data with SHA-256 and returns a DER encoded ECDSA signature.
// Nonces follow RFC 6979, so the same key and data always give the same bytes.
func (s *Secp256k1Signer) Sign(data []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(Digest(data), s.privKey)
	if err != nil {
		return nil, fmt.Errorf("sign failed: %w", err)
	}
	return encodeDER(sig[:64])
}

// PublicKeyBytes returns the 65-byte uncompressed public key.
func (s *Secp256k1Signer) PublicKeyBytes() []byte {
	return s.pubKey
}

// PublicKey returns the uncompressed public key as hex.
func (s *Secp256k1Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

// PublicKeyID returns x||y as hex, without the 0x04 prefix. The L0 node
// identifies signers by this value in signature proofs.
func (s *Secp256k1Signer) PublicKeyID() string {
	return PublicKeyID(s.pubKey)
}

func (s *Secp256k1Signer) Address() string {
	return s.address
}

// PrivateKeyBytes returns the raw 32-byte secret scalar.
func (s *Secp256k1Signer) PrivateKeyBytes() []byte {
	return ethcrypto.FromECDSA(s.privKey)
}

// Digest is the message digest signed by Sign.
func Digest(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// PublicKeyID converts an uncompressed public key to its proof id form.
func PublicKeyID(pub []byte) string {
	if len(pub) == 65 && pub[0] == 0x04 {
		return hex.EncodeToString(pub[1:])
	}
	return hex.EncodeToString(pub)
}
