package types

import (
	"crypto"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

/*
Address identifies entries, headers and agents.

Entry and header addresses are the hex encoded SHA-256 hash of the canonical
CBOR encoding of the object. Agent addresses are the string form of the
agent's libp2p peer ID (see crypto.AgentAddress).
*/
type Address string

func (a Address) String() string {
	return string(a)
}

func (a Address) IsEmpty() bool {
	return a == ""
}

// Short returns abbreviated form of the address, suitable for log messages.
func (a Address) Short() string {
	if len(a) <= 10 {
		return string(a)
	}
	return fmt.Sprintf("%s*%s", a[:2], a[len(a)-6:])
}

// AddressPtr returns pointer to a copy of "a", nil when "a" is empty.
func AddressPtr(a Address) *Address {
	if a == "" {
		return nil
	}
	return &a
}

var encMode cbor.EncMode

func init() {
	var err error
	if encMode, err = cbor.CanonicalEncOptions().EncMode(); err != nil {
		panic(fmt.Errorf("creating canonical CBOR encoder: %w", err))
	}
}

// Marshal encodes "v" using canonical CBOR encoding. Same logical value
// always produces the same bytes which makes the output suitable for hashing.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

// HashOf returns the address of canonical CBOR encoding of "v".
func HashOf(v any) (Address, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding %T: %w", v, err)
	}
	return hashBytes(data), nil
}

func hashBytes(data []byte) Address {
	hasher := crypto.SHA256.New()
	hasher.Write(data)
	return Address(hex.EncodeToString(hasher.Sum(nil)))
}
