package types

import (
	"errors"
	"fmt"
)

var ErrHeaderIsNil = errors.New("chain header is nil")

/*
ChainHeader is the source chain record of a committed entry.

Link is the address of the previous header in the author's chain (nil only
for the first header of the chain). Replaces is set when the entry is a new
version of an earlier entry.
*/
type ChainHeader struct {
	_            struct{}  `cbor:",toarray"`
	EntryType    EntryType `json:"entryType"`
	EntryAddress Address   `json:"entryAddress"`
	Link         *Address  `json:"link,omitempty"`
	Replaces     *Address  `json:"replaces,omitempty"`
	Author       Address   `json:"author"`
	Timestamp    int64     `json:"timestamp"`
	Signature    Bytes     `json:"signature,omitempty"`
}

// unsignedHeader is the part of the header which is covered by the address (and signature).
type unsignedHeader struct {
	_            struct{} `cbor:",toarray"`
	EntryType    EntryType
	EntryAddress Address
	Link         *Address
	Replaces     *Address
	Author       Address
	Timestamp    int64
}

// Address returns the address of the header, signature is not part of it.
func (h *ChainHeader) Address() (Address, error) {
	if h == nil {
		return "", ErrHeaderIsNil
	}
	return HashOf(&unsignedHeader{
		EntryType:    h.EntryType,
		EntryAddress: h.EntryAddress,
		Link:         h.Link,
		Replaces:     h.Replaces,
		Author:       h.Author,
		Timestamp:    h.Timestamp,
	})
}

// MustAddress is for the cases where header is known to be valid (ie it has been read from own chain).
func (h *ChainHeader) MustAddress() Address {
	addr, err := h.Address()
	if err != nil {
		panic(fmt.Errorf("calculating header address: %w", err))
	}
	return addr
}

// LinksTo returns true when the header's back-link is "addr".
func (h *ChainHeader) LinksTo(addr Address) bool {
	return h.Link != nil && *h.Link == addr
}

// SignHeader assigns signature of the header using "sign" func.
func SignHeader(h *ChainHeader, sign func([]byte) ([]byte, error)) error {
	addr, err := h.Address()
	if err != nil {
		return err
	}
	sig, err := sign([]byte(addr))
	if err != nil {
		return fmt.Errorf("signing chain header: %w", err)
	}
	h.Signature = sig
	return nil
}

// VerifyHeader checks that the header is signed by its author.
func VerifyHeader(h *ChainHeader, verify func(signer Address, data, sig []byte) error) error {
	addr, err := h.Address()
	if err != nil {
		return err
	}
	if err := verify(h.Author, []byte(addr), h.Signature); err != nil {
		return fmt.Errorf("header %s: %w", addr.Short(), err)
	}
	return nil
}
