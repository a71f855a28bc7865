package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_Integrity(t *testing.T) {
	signer, err := NewSecp256k1Signer()
	require.NoError(t, err)

	payload := []byte("hive:statechannel:snapshot:v1")

	// 1. Sign
	sig, err := signer.Sign(payload)
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	// 2. Verify Valid
	ok, err := Verify(signer.PublicKeyBytes(), payload, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	// 3. Verify Tampered
	ok, err = Verify(signer.PublicKeyBytes(), []byte("something else"), sig)
	require.NoError(t, err)
	assert.False(t, ok, "tampered payload accepted")
}

func TestSigner_Deterministic(t *testing.T) {
	signer, err := NewSecp256k1Signer()
	require.NoError(t, err)

	a, err := signer.Sign([]byte("same bytes"))
	require.NoError(t, err)
	b, err := signer.Sign([]byte("same bytes"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestVerify_WrongKey(t *testing.T) {
	alice, err := NewSecp256k1Signer()
	require.NoError(t, err)
	bob, err := NewSecp256k1Signer()
	require.NoError(t, err)

	sig, err := alice.Sign([]byte("order-summary"))
	require.NoError(t, err)

	v, err := NewSecp256k1Verifier(bob.PublicKeyBytes())
	require.NoError(t, err)
	assert.False(t, v.Verify([]byte("order-summary"), sig))
}

func TestVerify_MalformedSignature(t *testing.T) {
	signer, err := NewSecp256k1Signer()
	require.NoError(t, err)

	_, err = Verify(signer.PublicKeyBytes(), []byte("x"), []byte{0x30, 0x01, 0x00})
	assert.ErrorIs(t, err, errMalformedDER)
}

func TestDERRoundTrip(t *testing.T) {
	compact := make([]byte, 64)
	compact[31] = 0x80 // forces a leading zero pad byte in DER
	compact[63] = 0x01

	der, err := encodeDER(compact)
	require.NoError(t, err)
	decoded, err := decodeDER(der)
	require.NoError(t, err)
	assert.Equal(t, compact, decoded)
}

func TestAddressDerivation(t *testing.T) {
	signer, err := NewSecp256k1Signer()
	require.NoError(t, err)

	addr := signer.Address()
	assert.True(t, strings.HasPrefix(addr, AddressPrefix))
	assert.Len(t, addr, len(AddressPrefix)+1+addressTailLen)
	assert.Equal(t, addr, AddressFromPublicKey(signer.PublicKeyBytes()))
	require.NoError(t, ValidateAddress(addr))
}

func TestValidateAddress_Checksum(t *testing.T) {
	signer, err := NewSecp256k1Signer()
	require.NoError(t, err)
	addr := signer.Address()

	// Flip the parity digit.
	digit := addr[len(AddressPrefix)]
	wrong := byte('0' + (int(digit-'0')+1)%9)
	bad := addr[:len(AddressPrefix)] + string(wrong) + addr[len(AddressPrefix)+1:]

	assert.ErrorIs(t, ValidateAddress(bad), ErrInvalidAddress)
	assert.ErrorIs(t, ValidateAddress("DAG"+addr[3:]), ErrInvalidAddress)
	assert.ErrorIs(t, ValidateAddress(addr[:20]), ErrInvalidAddress)
}

func TestPublicKeyID(t *testing.T) {
	signer, err := NewSecp256k1Signer()
	require.NoError(t, err)
	id := signer.PublicKeyID()
	assert.Len(t, id, 128)
	assert.Equal(t, signer.PublicKey()[2:], id)
}
