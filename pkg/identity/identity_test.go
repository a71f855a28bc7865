package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/crypto"
)

func TestEnsure_CreatesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "identity.json")

	first, err := Ensure(path)
	require.NoError(t, err)
	require.NoError(t, crypto.ValidateAddress(first.Address))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := Ensure(path)
	require.NoError(t, err)
	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, first.PublicKey, second.PublicKey)
}

func TestEnsure_DeletedFileYieldsNewAccount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")

	first, err := Ensure(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	second, err := Ensure(path)
	require.NoError(t, err)
	assert.NotEqual(t, first.Address, second.Address)
}

func TestEnsure_CorruptIsFatal(t *testing.T) {
	valid, err := Generate()
	require.NoError(t, err)
	good := File{
		SecretKey: hexSecret(t, valid),
		PublicKey: valid.signer.PublicKey(),
		Address:   valid.Address,
	}
	other, err := Generate()
	require.NoError(t, err)

	cases := map[string]func(f *File) []byte{
		"not json": func(f *File) []byte { return []byte("{not json") },
		"empty":    func(f *File) []byte { return nil },
		"short secret": func(f *File) []byte {
			f.SecretKey = f.SecretKey[:62]
			return mustJSON(t, f)
		},
		"wrong public key": func(f *File) []byte {
			f.PublicKey = other.signer.PublicKey()
			return mustJSON(t, f)
		},
		"bad address checksum": func(f *File) []byte {
			digit := f.Address[3]
			f.Address = f.Address[:3] + string('0'+(digit-'0'+1)%9) + f.Address[4:]
			return mustJSON(t, f)
		},
		"address of another key": func(f *File) []byte {
			f.Address = other.Address
			return mustJSON(t, f)
		},
		"unknown field": func(f *File) []byte {
			raw := map[string]string{
				"secret_key": f.SecretKey,
				"public_key": f.PublicKey,
				"address":    f.Address,
				"extra":      "x",
			}
			b, _ := json.Marshal(raw)
			return b
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "identity.json")
			f := good
			require.NoError(t, os.WriteFile(path, mutate(&f), 0600))

			_, err := Ensure(path)
			require.ErrorIs(t, err, ErrIdentityCorrupt)

			// The corrupt file must be left in place, not regenerated.
			after, readErr := os.ReadFile(path)
			require.NoError(t, readErr)
			assert.Equal(t, mutate(&File{
				SecretKey: good.SecretKey,
				PublicKey: good.PublicKey,
				Address:   good.Address,
			}), after)
		})
	}
}

func TestSign_VerifiableWithPublicKeyOnly(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	sig, err := id.Sign([]byte("payload"))
	require.NoError(t, err)

	ok, err := crypto.Verify(id.PublicKey, []byte("payload"), sig)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id.Address, crypto.AddressFromPublicKey(id.PublicKey))
}

func hexSecret(t *testing.T, id *Identity) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, id.Save(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var f File
	require.NoError(t, json.Unmarshal(data, &f))
	return f.SecretKey
}

func mustJSON(t *testing.T, f *File) []byte {
	t.Helper()
	b, err := json.Marshal(f)
	require.NoError(t, err)
	return b
}
