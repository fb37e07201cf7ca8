package dht

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/mutualcredit/mcledger/crypto"
	"github.com/mutualcredit/mcledger/keyvaluedb"
	"github.com/mutualcredit/mcledger/types"
)

var ErrInvalidLink = errors.New("invalid link")

var (
	prefixHeader      = []byte("h/")
	prefixAttestation = []byte("a/")
	prefixLink        = []byte("l/")
)

type VerifyFn func(signer types.Address, data, sig []byte) error

/*
KVStore is Store backed by key-value database.
*/
type KVStore struct {
	db     keyvaluedb.KeyValueDB
	verify VerifyFn
	mu     sync.Mutex
}

func NewKVStore(db keyvaluedb.KeyValueDB) (*KVStore, error) {
	if db == nil {
		return nil, errors.New("storage is nil")
	}
	return &KVStore{db: db, verify: crypto.Verify}, nil
}

func (s *KVStore) Publish(ctx context.Context, b *Bundle) error {
	if b == nil {
		return ErrBundleIsNil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// validate all the items first so that bundle is applied atomically
	headers := make(map[types.Address]*types.ChainHeader, len(b.Headers))
	for _, h := range b.Headers {
		if err := types.VerifyHeader(h, s.verify); err != nil {
			return fmt.Errorf("invalid header: %w", err)
		}
		headers[h.MustAddress()] = h
	}
	attestations := make(map[types.Address]*types.Attestation, len(b.Attestations))
	for _, att := range b.Attestations {
		if err := s.verifyAttestation(att, headers); err != nil {
			return fmt.Errorf("invalid attestation: %w", err)
		}
		addr, err := att.Address()
		if err != nil {
			return err
		}
		attestations[addr] = att
	}
	links := make([]types.Address, len(b.Links))
	for i, l := range b.Links {
		if err := s.verifyLink(l, headers, attestations); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidLink, err)
		}
		addr, err := l.Address()
		if err != nil {
			return err
		}
		links[i] = addr
	}

	err := s.db.Update(func(tx keyvaluedb.ReadWriter) error {
		for addr, h := range headers {
			if err := tx.Write(itemKey(prefixHeader, addr), h); err != nil {
				return err
			}
		}
		for addr, att := range attestations {
			if err := tx.Write(itemKey(prefixAttestation, addr), att); err != nil {
				return err
			}
		}
		for i, l := range b.Links {
			if err := tx.Write(linkKey(l.Base, l.Type, links[i]), l); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing bundle: %w", err)
	}
	return nil
}

func (s *KVStore) GetAttestation(ctx context.Context, addr types.Address) (*types.Attestation, error) {
	att := &types.Attestation{}
	if err := s.get(prefixAttestation, addr, att); err != nil {
		return nil, fmt.Errorf("attestation %s: %w", addr.Short(), err)
	}
	return att, nil
}

func (s *KVStore) GetHeader(ctx context.Context, addr types.Address) (*types.ChainHeader, error) {
	h := &types.ChainHeader{}
	if err := s.get(prefixHeader, addr, h); err != nil {
		return nil, fmt.Errorf("header %s: %w", addr.Short(), err)
	}
	return h, nil
}

// GetLinks returns links of given type from the agent "base", empty result is not an error.
func (s *KVStore) GetLinks(ctx context.Context, base types.Address, typ LinkType) ([]*Link, error) {
	var res []*Link
	err := s.db.Scan(linkKey(base, typ, ""), func(key []byte, decode keyvaluedb.DecodeFunc) (bool, error) {
		l := &Link{}
		if err := decode(l); err != nil {
			return false, fmt.Errorf("reading link: %w", err)
		}
		res = append(res, l)
		return true, nil
	})
	return res, err
}

func (s *KVStore) get(prefix []byte, addr types.Address, v any) error {
	found, err := s.db.Read(itemKey(prefix, addr), v)
	if err != nil {
		return err
	}
	if !found {
		return types.ErrNotFound
	}
	return nil
}

/*
verifyAttestation checks that transaction attestation refers to the signed
headers of both parties of the same transaction and that the agent is one
of the parties. Headers are looked up from the bundle first, then from the
store.
*/
func (s *KVStore) verifyAttestation(att *types.Attestation, headers map[types.Address]*types.ChainHeader) error {
	if att == nil {
		return types.ErrAttestationIsNil
	}
	if att.Agent == "" {
		return errors.New("agent must be assigned")
	}
	if att.IsGenesis() {
		return nil
	}
	p := att.Proof
	if len(p.HeaderAddresses) != 2 {
		return fmt.Errorf("expected 2 transaction headers, got %d", len(p.HeaderAddresses))
	}
	var own, other *types.ChainHeader
	authors := make([]types.Address, 0, 2)
	for _, addr := range p.HeaderAddresses {
		h, err := s.header(addr, headers)
		if err != nil {
			return fmt.Errorf("transaction header: %w", err)
		}
		if h.EntryType != types.EntryTransaction || h.EntryAddress != p.TransactionAddress {
			return fmt.Errorf("header %s is not for the transaction %s", addr.Short(), p.TransactionAddress.Short())
		}
		if slices.Contains(authors, h.Author) {
			return fmt.Errorf("both transaction headers are authored by %s", h.Author.Short())
		}
		authors = append(authors, h.Author)
		if h.Author == att.Agent {
			own = h
			if addr != p.Header.Address {
				return fmt.Errorf("agent's header is %s, attestation refers to %s", addr.Short(), p.Header.Address.Short())
			}
		} else {
			other = h
		}
	}
	if own == nil {
		return fmt.Errorf("agent %s is not a party of the transaction: %w", att.Agent.Short(), types.ErrAgentMismatch)
	}
	if err := s.verify(att.Agent, []byte(p.Header.Address), p.Header.Signature); err != nil {
		return fmt.Errorf("agent's header signature: %w", err)
	}
	return s.verifyCounterpartyConsent(att, other)
}

/*
verifyCounterpartyConsent checks the counterparty's signature carried by the
role of the attestation: the snapshot proof of the Sender attestation is
signed over the transaction and the state the counterparty's header was
committed on, the Receiver attestation carries signature over the address
of the Sender attestation.
*/
func (s *KVStore) verifyCounterpartyConsent(att *types.Attestation, counterparty *types.ChainHeader) error {
	p := att.Proof
	switch p.Role.Kind {
	case types.RoleSender:
		if counterparty.Link == nil {
			return fmt.Errorf("header of the counterparty %s has no back-link", counterparty.Author.Short())
		}
		if err := s.verify(counterparty.Author, types.SnapshotProofPreimage(p.TransactionAddress, *counterparty.Link), p.Role.SnapshotProof); err != nil {
			return fmt.Errorf("snapshot proof: %w", err)
		}
	case types.RoleReceiver:
		if err := s.verify(counterparty.Author, []byte(p.Role.SenderAttestation), p.Role.SenderSignature); err != nil {
			return fmt.Errorf("sender's signature: %w", err)
		}
	default:
		return fmt.Errorf("unknown role %s", p.Role.Kind)
	}
	return nil
}

// header returns header "addr" from the bundle being published or from the store.
func (s *KVStore) header(addr types.Address, bundle map[types.Address]*types.ChainHeader) (*types.ChainHeader, error) {
	if h, ok := bundle[addr]; ok {
		return h, nil
	}
	return s.GetHeader(context.Background(), addr)
}

/*
verifyLink checks that the link is signed by its author and the author is
entitled to create it: the author (and base) of a link to a genesis
attestation must be the agent of the attestation, for transaction
attestations both the author and base must be authors of the transaction
headers the attestation refers to.
*/
func (s *KVStore) verifyLink(l *Link, headers map[types.Address]*types.ChainHeader, attestations map[types.Address]*types.Attestation) error {
	if l == nil {
		return ErrLinkIsNil
	}
	if l.Type != LinkTypeAgentAttestation {
		return fmt.Errorf("unsupported link type %q", l.Type)
	}
	data, err := l.SigBytes()
	if err != nil {
		return err
	}
	if err := s.verify(l.Author, data, l.Signature); err != nil {
		return err
	}

	att, ok := attestations[l.Target]
	if !ok {
		if att, err = s.GetAttestation(context.Background(), l.Target); err != nil {
			return fmt.Errorf("link target: %w", err)
		}
	}
	if att.IsGenesis() {
		if l.Author != att.Agent || l.Base != att.Agent {
			return fmt.Errorf("genesis attestation of %s can only be linked by the agent itself", att.Agent.Short())
		}
		return nil
	}

	var parties []types.Address
	for _, addr := range att.Proof.HeaderAddresses {
		h, err := s.header(addr, headers)
		if err != nil {
			return fmt.Errorf("attestation header: %w", err)
		}
		parties = append(parties, h.Author)
	}
	if !slices.Contains(parties, l.Author) {
		return fmt.Errorf("author %s is not a party of the attested transaction", l.Author.Short())
	}
	if !slices.Contains(parties, l.Base) {
		return fmt.Errorf("base %s is not a party of the attested transaction", l.Base.Short())
	}
	return nil
}

func itemKey(prefix []byte, addr types.Address) []byte {
	return append(slices.Clone(prefix), addr...)
}

func linkKey(base types.Address, typ LinkType, addr types.Address) []byte {
	key := append(slices.Clone(prefixLink), base...)
	key = append(key, '/')
	key = append(key, typ...)
	key = append(key, '/')
	return append(key, addr...)
}
