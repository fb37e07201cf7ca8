package types

import (
	"fmt"
)

type EntryType string

const (
	EntryTransaction EntryType = "transaction"
	EntryOffer       EntryType = "offer"
	EntryAttestation EntryType = "attestation"
)

// Entry is a record which can be committed to a source chain.
type Entry interface {
	EntryType() EntryType
}

/*
RawEntry is the serialized form of an Entry: the entry type plus canonical
CBOR encoding of the entry. Address of an entry is the hash of its RawEntry
so the receiver of a RawEntry can recompute the address without knowing the
entry's Go type.
*/
type RawEntry struct {
	_    struct{} `cbor:",toarray"`
	Type EntryType
	Data []byte
}

func NewRawEntry(e Entry) (*RawEntry, error) {
	if e == nil {
		return nil, fmt.Errorf("entry is nil")
	}
	data, err := Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding %s entry: %w", e.EntryType(), err)
	}
	return &RawEntry{Type: e.EntryType(), Data: data}, nil
}

// AddressOf returns the content address of the entry.
func AddressOf(e Entry) (Address, error) {
	raw, err := NewRawEntry(e)
	if err != nil {
		return "", err
	}
	return raw.Address()
}

func (r *RawEntry) Address() (Address, error) {
	return HashOf(r)
}

// Decode returns the entry as one of *Transaction, *Offer or *Attestation.
func (r *RawEntry) Decode() (Entry, error) {
	var e Entry
	switch r.Type {
	case EntryTransaction:
		e = &Transaction{}
	case EntryOffer:
		e = &Offer{}
	case EntryAttestation:
		e = &Attestation{}
	default:
		return nil, fmt.Errorf("unknown entry type %q", r.Type)
	}
	if err := Unmarshal(r.Data, e); err != nil {
		return nil, fmt.Errorf("decoding %s entry: %w", r.Type, err)
	}
	return e, nil
}

// Transaction returns decoded transaction, nil when the entry is not a transaction.
func (r *RawEntry) Transaction() (*Transaction, error) {
	if r.Type != EntryTransaction {
		return nil, nil
	}
	tx := &Transaction{}
	if err := Unmarshal(r.Data, tx); err != nil {
		return nil, fmt.Errorf("decoding transaction entry: %w", err)
	}
	return tx, nil
}
