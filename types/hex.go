package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

/*
Bytes is used for signatures, proofs and keys in the JSON representation of
the records: encoded as "0x" prefixed lowercase hex, empty slice is omitted.
Decoding accepts the hex with or without the prefix.
*/
type Bytes []byte

func (b Bytes) MarshalText() ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return []byte("0x" + hex.EncodeToString(b)), nil
}

func (b *Bytes) UnmarshalText(src []byte) error {
	s := strings.TrimPrefix(strings.TrimPrefix(string(src), "0x"), "0X")
	if s == "" {
		*b = nil
		return nil
	}
	res, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("decoding hex string: %w", err)
	}
	*b = res
	return nil
}

func (b Bytes) String() string {
	if len(b) == 0 {
		return ""
	}
	return "0x" + hex.EncodeToString(b)
}
