package dht

import (
	"errors"
	"fmt"

	"github.com/mutualcredit/mcledger/types"
)

type LinkType string

// LinkTypeAgentAttestation links an agent to the attestations vouching for its transactions.
const LinkTypeAgentAttestation LinkType = "agent->attestation"

var ErrLinkIsNil = errors.New("link is nil")

type (
	Signer interface {
		SignBytes(data []byte) ([]byte, error)
		Address() types.Address
	}

	// Link is a signed, typed edge from Base to Target in the public store.
	Link struct {
		_         struct{}      `cbor:",toarray"`
		Base      types.Address `json:"base"`
		Target    types.Address `json:"target"`
		Type      LinkType      `json:"type"`
		Author    types.Address `json:"author"`
		Timestamp int64         `json:"timestamp"`
		Signature types.Bytes   `json:"signature"`
	}

	unsignedLink struct {
		_         struct{} `cbor:",toarray"`
		Base      types.Address
		Target    types.Address
		Type      LinkType
		Author    types.Address
		Timestamp int64
	}
)

// NewAttestationLink creates link from agent "base" to the attestation "target" signed by "author".
func NewAttestationLink(base, target types.Address, timestamp int64, author Signer) (*Link, error) {
	l := &Link{
		Base:      base,
		Target:    target,
		Type:      LinkTypeAgentAttestation,
		Author:    author.Address(),
		Timestamp: timestamp,
	}
	if err := l.Sign(author); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Link) Address() (types.Address, error) {
	if l == nil {
		return "", ErrLinkIsNil
	}
	return types.HashOf(l.unsigned())
}

func (l *Link) SigBytes() ([]byte, error) {
	if l == nil {
		return nil, ErrLinkIsNil
	}
	return types.Marshal(l.unsigned())
}

func (l *Link) Sign(signer Signer) error {
	if signer.Address() != l.Author {
		return fmt.Errorf("signer %s is not the author %s of the link", signer.Address().Short(), l.Author.Short())
	}
	data, err := l.SigBytes()
	if err != nil {
		return err
	}
	if l.Signature, err = signer.SignBytes(data); err != nil {
		return fmt.Errorf("signing link: %w", err)
	}
	return nil
}

// IsSelfAuthored returns true when the agent linked the attestation to itself.
func (l *Link) IsSelfAuthored() bool {
	return l.Author == l.Base
}

func (l *Link) unsigned() *unsignedLink {
	return &unsignedLink{
		Base:      l.Base,
		Target:    l.Target,
		Type:      l.Type,
		Author:    l.Author,
		Timestamp: l.Timestamp,
	}
}
