package dht

import (
	"context"
	"errors"

	"github.com/mutualcredit/mcledger/types"
)

var ErrBundleIsNil = errors.New("bundle is nil")

/*
Store is the public, shared index of attestations, published transaction
headers and agent->attestation links.

Stores are eventually consistent, an item published by one agent becomes
visible to others once it has been replicated.
*/
type Store interface {
	// Publish validates and stores all the items of the bundle, either all
	// items are stored or none.
	Publish(ctx context.Context, b *Bundle) error
	GetAttestation(ctx context.Context, addr types.Address) (*types.Attestation, error)
	GetHeader(ctx context.Context, addr types.Address) (*types.ChainHeader, error)
	GetLinks(ctx context.Context, base types.Address, typ LinkType) ([]*Link, error)
}

// Bundle is a set of items published together. Items are applied in the order
// headers, attestations, links so links may refer to attestations of the same
// bundle and attestations to the headers of the bundle.
type Bundle struct {
	_            struct{}             `cbor:",toarray"`
	Headers      []*types.ChainHeader `json:"headers,omitempty"`
	Attestations []*types.Attestation `json:"attestations,omitempty"`
	Links        []*Link              `json:"links,omitempty"`
}

func (b *Bundle) IsEmpty() bool {
	return b == nil || (len(b.Headers) == 0 && len(b.Attestations) == 0 && len(b.Links) == 0)
}
