package crypto

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/cryptobyte"
	casn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var errMalformedDER = errors.New("malformed DER signature")

// Verifier defines the interface for signature verification.
type Verifier interface {
	Verify(message []byte, signature []byte) bool
}

// Secp256k1Verifier implements Verifier with a public key only.
type Secp256k1Verifier struct {
	PublicKey []byte
}

// NewSecp256k1Verifier creates a new verifier.
func NewSecp256k1Verifier(pubKeyBytes []byte) (*Secp256k1Verifier, error) {
	if _, err := ethcrypto.UnmarshalPubkey(pubKeyBytes); err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return &Secp256k1Verifier{PublicKey: pubKeyBytes}, nil
}

func (v *Secp256k1Verifier) Verify(message []byte, signature []byte) bool {
	ok, err := Verify(v.PublicKey, message, signature)
	return ok && err == nil
}

// Verify checks a DER signature produced by Secp256k1Signer.Sign.
func Verify(pubKey, data, derSig []byte) (bool, error) {
	compact, err := decodeDER(derSig)
	if err != nil {
		return false, err
	}
	if _, err := ethcrypto.UnmarshalPubkey(pubKey); err != nil {
		return false, fmt.Errorf("invalid public key: %w", err)
	}
	return ethcrypto.VerifySignature(pubKey, Digest(data), compact), nil
}

// encodeDER turns a 64-byte r||s signature into ASN.1 DER.
func encodeDER(compact []byte) ([]byte, error) {
	if len(compact) != 64 {
		return nil, fmt.Errorf("compact signature must be 64 bytes, got %d", len(compact))
	}
	r := new(big.Int).SetBytes(compact[:32])
	s := new(big.Int).SetBytes(compact[32:])

	var b cryptobyte.Builder
	b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(r)
		b.AddASN1BigInt(s)
	})
	return b.Bytes()
}

func decodeDER(der []byte) ([]byte, error) {
	var (
		r, s  = new(big.Int), new(big.Int)
		inner cryptobyte.String
	)
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, casn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return nil, errMalformedDER
	}
	if r.Sign() <= 0 || s.Sign() <= 0 || r.BitLen() > 256 || s.BitLen() > 256 {
		return nil, errMalformedDER
	}

	compact := make([]byte, 64)
	r.FillBytes(compact[:32])
	s.FillBytes(compact[32:])
	return compact, nil
}
