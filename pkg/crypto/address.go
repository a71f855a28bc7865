package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"
)

// AddressPrefix marks addresses on the Reality network.
const AddressPrefix = "NET"

const addressTailLen = 36

var ErrInvalidAddress = errors.New("invalid address")

// AddressFromPublicKey derives the network address of an uncompressed public key:
// sha256, base58, keep the last 36 characters, prefix with NET and a parity digit.
func AddressFromPublicKey(pub []byte) string {
	sum := sha256.Sum256(pub)
	encoded := base58.Encode(sum[:])
	tail := encoded[len(encoded)-addressTailLen:]
	return AddressPrefix + strconv.Itoa(parity(tail)) + tail
}

// ValidateAddress checks prefix, length, alphabet and the parity digit.
func ValidateAddress(addr string) error {
	if !strings.HasPrefix(addr, AddressPrefix) {
		return fmt.Errorf("%w: missing %s prefix", ErrInvalidAddress, AddressPrefix)
	}
	body := addr[len(AddressPrefix):]
	if len(body) != addressTailLen+1 {
		return fmt.Errorf("%w: bad length %d", ErrInvalidAddress, len(addr))
	}
	tail := body[1:]
	if _, err := base58.Decode(tail); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if body[0] < '0' || body[0] > '9' || int(body[0]-'0') != parity(tail) {
		return fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	return nil
}

func parity(tail string) int {
	sum := 0
	for _, c := range tail {
		if c >= '0' && c <= '9' {
			sum += int(c - '0')
		}
	}
	return sum % 9
}
