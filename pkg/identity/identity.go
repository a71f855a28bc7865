// Package identity manages the node keypair that owns a business's state channel.
//
// The identity file is created once, on first run, and loaded unchanged on
// every start after that. A file that exists but cannot be trusted is a hard
// error: regenerating it would fork the business's history under a new address.
package identity

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/crypto"
)

// ErrIdentityCorrupt is returned when a persisted identity exists but is unusable.
var ErrIdentityCorrupt = errors.New("identity corrupt")

// Identity is a secp256k1 keypair plus its derived network address.
type Identity struct {
	Address   string
	PublicKey []byte

	signer *crypto.Secp256k1Signer
}

// File is the on-disk JSON format for a persisted identity.
type File struct {
	SecretKey string `json:"secret_key"`
	PublicKey string `json:"public_key"`
	Address   string `json:"address"`
}

// Generate creates a new random identity without persisting it.
func Generate() (*Identity, error) {
	signer, err := crypto.NewSecp256k1Signer()
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	return fromSigner(signer), nil
}

// Ensure loads the identity at path, or generates and persists one if the
// file does not exist.
func Ensure(path string) (*Identity, error) {
	logger := slog.Default().With("component", "identity")

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		id, err := Generate()
		if err != nil {
			return nil, err
		}
		if err := id.Save(path); err != nil {
			return nil, err
		}
		logger.Info("generated node identity", "address", id.Address, "path", path)
		return id, nil
	} else if err != nil {
		return nil, fmt.Errorf("identity: stat %s: %w", path, err)
	}

	id, err := Load(path)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded node identity", "address", id.Address)
	return id, nil
}

// Load reads and fully validates a persisted identity.
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}

	if err := validateDocument(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityCorrupt, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrIdentityCorrupt, err)
	}

	return f.decode()
}

func (f File) decode() (*Identity, error) {
	secret, err := hex.DecodeString(f.SecretKey)
	if err != nil || len(secret) != 32 {
		return nil, fmt.Errorf("%w: secret key must be 32 hex-encoded bytes", ErrIdentityCorrupt)
	}
	priv, err := ethcrypto.ToECDSA(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: secret key: %v", ErrIdentityCorrupt, err)
	}

	signer := crypto.NewSecp256k1SignerFromKey(priv)

	if !strings.EqualFold(f.PublicKey, signer.PublicKey()) {
		return nil, fmt.Errorf("%w: public key does not match secret key", ErrIdentityCorrupt)
	}
	if err := crypto.ValidateAddress(f.Address); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityCorrupt, err)
	}
	if f.Address != signer.Address() {
		return nil, fmt.Errorf("%w: address does not match public key", ErrIdentityCorrupt)
	}

	return fromSigner(signer), nil
}

// Save writes the identity with owner-only permissions. The file is written
// to a temporary sibling and renamed so a crash never leaves a partial key.
func (id *Identity) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("identity: create dir: %w", err)
	}

	data, err := json.MarshalIndent(File{
		SecretKey: hex.EncodeToString(id.signer.PrivateKeyBytes()),
		PublicKey: id.signer.PublicKey(),
		Address:   id.Address,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".identity-*")
	if err != nil {
		return fmt.Errorf("identity: create temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("identity: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("identity: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("identity: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("identity: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("identity: rename: %w", err)
	}
	return nil
}

// Sign signs data with the identity's private key.
func (id *Identity) Sign(data []byte) ([]byte, error) {
	return id.signer.Sign(data)
}

// Signer exposes the identity as a crypto.Signer.
func (id *Identity) Signer() crypto.Signer {
	return id.signer
}

// PublicKeyID is the signer id used in signature proofs.
func (id *Identity) PublicKeyID() string {
	return id.signer.PublicKeyID()
}

func fromSigner(s *crypto.Secp256k1Signer) *Identity {
	return &Identity{
		Address:   s.Address(),
		PublicKey: s.PublicKeyBytes(),
		signer:    s,
	}
}
