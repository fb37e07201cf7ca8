package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/mutualcredit/mcledger/credit"
	"github.com/mutualcredit/mcledger/crypto"
	"github.com/mutualcredit/mcledger/types"
)

var errOverCreditLimit = errors.New("agent's balance is beyond the credit limit")

type (
	// Snapshot is the full source chain of an agent, newest element first.
	Snapshot struct {
		_        struct{}              `cbor:",toarray"`
		Elements []*types.ChainElement `json:"elements"`
	}

	// CounterpartySnapshot is the evaluation of the debtor's chain snapshot by the creditor.
	CounterpartySnapshot struct {
		_                 struct{}      `cbor:",toarray"`
		Balance           float64       `json:"balance"`
		Executable        bool          `json:"executable"`
		Valid             bool          `json:"valid"`
		InvalidReason     string        `json:"invalidReason,omitempty"`
		LastHeaderAddress types.Address `json:"lastHeaderAddress"`
	}

	ChainReader interface {
		Elements() ([]*types.ChainElement, error)
	}

	// AttestationIndex returns the latest attestation of an agent and the number
	// of attested transactions of the agent.
	AttestationIndex interface {
		LatestFor(ctx context.Context, agent types.Address) (*types.Attestation, int, error)
	}
)

// GetMy returns snapshot of the local chain.
func GetMy(ch ChainReader) (*Snapshot, error) {
	elements, err := ch.Elements()
	if err != nil {
		return nil, fmt.Errorf("reading chain: %w", err)
	}
	return &Snapshot{Elements: elements}, nil
}

// LastHeader returns the newest header of the snapshot, nil for empty snapshot.
func (s *Snapshot) LastHeader() *types.ChainHeader {
	if s == nil || len(s.Elements) == 0 || s.Elements[0] == nil {
		return nil
	}
	return s.Elements[0].Header
}

func (s *Snapshot) LastHeaderAddress() (types.Address, error) {
	if h := s.LastHeader(); h != nil {
		return h.Address()
	}
	return "", nil
}

/*
ValidateChain checks that the snapshot is a correctly hash-linked chain of
entries signed by the "agent".
*/
func ValidateChain(agent types.Address, s *Snapshot) error {
	if s == nil {
		return fmt.Errorf("%w: snapshot is nil", types.ErrBadChainHeader)
	}
	for i, el := range s.Elements {
		if err := validateElement(agent, el); err != nil {
			return fmt.Errorf("%w: element %d: %w", types.ErrBadChainHeader, i, err)
		}
		if i+1 < len(s.Elements) {
			prev, err := s.Elements[i+1].Header.Address()
			if err != nil {
				return fmt.Errorf("%w: element %d: %w", types.ErrBadChainHeader, i+1, err)
			}
			if !el.Header.LinksTo(prev) {
				return fmt.Errorf("%w: element %d is not linked to the previous element", types.ErrBadChainHeader, i)
			}
		} else if el.Header.Link != nil {
			return fmt.Errorf("%w: first element of the chain has back-link", types.ErrBadChainHeader)
		}
	}
	return nil
}

func validateElement(agent types.Address, el *types.ChainElement) error {
	if el == nil || el.Header == nil || el.Entry == nil {
		return errors.New("incomplete chain element")
	}
	if el.Header.Author != agent {
		return fmt.Errorf("header author %s is not the agent %s", el.Header.Author.Short(), agent.Short())
	}
	entryAddr, err := el.Entry.Address()
	if err != nil {
		return err
	}
	if entryAddr != el.Header.EntryAddress || el.Entry.Type != el.Header.EntryType {
		return errors.New("entry doesn't match the header")
	}
	return types.VerifyHeader(el.Header, crypto.Verify)
}

/*
ValidateAgainstAttestations checks that the transactions in the snapshot
are consistent with the public attestations of the agent: the number of
transactions must match the number of attestations and the latest
attestation must refer to the newest transaction of the snapshot.
*/
func ValidateAgainstAttestations(ctx context.Context, index AttestationIndex, agent types.Address, s *Snapshot) error {
	latest, count, err := index.LatestFor(ctx, agent)
	if err != nil {
		return fmt.Errorf("loading attestations: %w", err)
	}

	var newest *types.ChainHeader
	txCount := 0
	for i, el := range s.Elements {
		if el == nil || el.Header == nil {
			return fmt.Errorf("%w: element %d is incomplete", types.ErrBadChainSnapshot, i)
		}
		if el.Header.EntryType == types.EntryTransaction {
			if newest == nil {
				newest = el.Header
			}
			txCount++
		}
	}
	if txCount != count {
		return fmt.Errorf("%w: snapshot has %d transactions but %d attestations were found", types.ErrBadChainSnapshot, txCount, count)
	}
	if newest == nil {
		return nil
	}
	addr, err := newest.Address()
	if err != nil {
		return err
	}
	if !latest.ContainsHeader(addr) {
		return fmt.Errorf("%w: latest attestation doesn't refer to the newest transaction", types.ErrBadChainSnapshot)
	}
	return nil
}

// Transactions returns transactions of the snapshot, newest first.
func Transactions(s *Snapshot) ([]*types.Transaction, error) {
	var txs []*types.Transaction
	for i, el := range s.Elements {
		if el == nil || el.Entry == nil {
			return nil, fmt.Errorf("element %d is incomplete", i)
		}
		tx, err := el.Entry.Transaction()
		if err != nil {
			return nil, err
		}
		if tx != nil {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

/*
Evaluate validates the snapshot of the "agent" and checks whether the
transaction "offer" could be executed on top of it.

Validation failures are reported via Valid and InvalidReason, the error is
returned only when evaluation itself fails.
*/
func Evaluate(ctx context.Context, index AttestationIndex, limiter credit.Limiter, agent types.Address, s *Snapshot, offer *types.Transaction) (*CounterpartySnapshot, error) {
	res := &CounterpartySnapshot{}
	// the snapshot comes from the counterparty, nothing is read from it
	// before the structure has been validated
	if err := ValidateChain(agent, s); err != nil {
		res.InvalidReason = err.Error()
		return res, nil
	}
	var err error
	if res.LastHeaderAddress, err = s.LastHeaderAddress(); err != nil {
		return nil, fmt.Errorf("snapshot's last header: %w", err)
	}

	txs, err := Transactions(s)
	if err != nil {
		return nil, fmt.Errorf("decoding transactions: %w", err)
	}
	res.Balance = credit.Balance(agent, txs)

	if err := validateHistory(ctx, index, limiter, agent, s, txs); err != nil {
		res.InvalidReason = err.Error()
		return res, nil
	}
	res.Valid = true
	res.Executable = credit.WithinCreditLimit(limiter, offer.Debtor, append(txs, offer))
	return res, nil
}

func validateHistory(ctx context.Context, index AttestationIndex, limiter credit.Limiter, agent types.Address, s *Snapshot, txs []*types.Transaction) error {
	if err := ValidateAgainstAttestations(ctx, index, agent, s); err != nil {
		return err
	}
	if !credit.WithinCreditLimit(limiter, agent, txs) {
		return errOverCreditLimit
	}
	return nil
}
