package types

import (
	"fmt"
)

type OfferStateKind uint8

const (
	OfferPending OfferStateKind = iota + 1
	OfferApproved
	OfferCompleted
	OfferCanceled
)

func (k OfferStateKind) String() string {
	switch k {
	case OfferPending:
		return "Pending"
	case OfferApproved:
		return "Approved"
	case OfferCompleted:
		return "Completed"
	case OfferCanceled:
		return "Canceled"
	default:
		return fmt.Sprintf("OfferStateKind(%d)", uint8(k))
	}
}

func (k OfferStateKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *OfferStateKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Pending":
		*k = OfferPending
	case "Approved":
		*k = OfferApproved
	case "Completed":
		*k = OfferCompleted
	case "Canceled":
		*k = OfferCanceled
	default:
		return fmt.Errorf("unknown offer state %q", b)
	}
	return nil
}

/*
OfferState of the offer. ApprovedHeader is meaningful only in Approved state
and pins the chain position of the counterparty at the approval time (nil for
the proposer which approves its own offer). Attestation is meaningful only in
Completed state and is the address of the attestation proving the transaction.
*/
type OfferState struct {
	_              struct{}       `cbor:",toarray"`
	Kind           OfferStateKind `json:"kind"`
	ApprovedHeader *Address       `json:"approvedHeaderAddress,omitempty"`
	Attestation    Address        `json:"attestationAddress,omitempty"`
}

func (s OfferState) IsTerminal() bool {
	return s.Kind == OfferCompleted || s.Kind == OfferCanceled
}

func (s OfferState) String() string {
	switch s.Kind {
	case OfferApproved:
		if s.ApprovedHeader != nil {
			return fmt.Sprintf("Approved{%s}", s.ApprovedHeader.Short())
		}
		return "Approved{none}"
	case OfferCompleted:
		return fmt.Sprintf("Completed{%s}", s.Attestation.Short())
	default:
		return s.Kind.String()
	}
}

// Offer is the private, per party record of the negotiation state of a transaction.
type Offer struct {
	_           struct{}     `cbor:",toarray"`
	Transaction *Transaction `json:"transaction"`
	State       OfferState   `json:"state"`
}

func (o *Offer) EntryType() EntryType { return EntryOffer }

func NewOffer(tx *Transaction) *Offer {
	return &Offer{Transaction: tx, State: OfferState{Kind: OfferPending}}
}

func (o *Offer) TransactionAddress() (Address, error) {
	return o.Transaction.Address()
}

// IndexKey offers are indexed by the transaction address in the source chain.
func (o *Offer) IndexKey() (Address, error) {
	return o.TransactionAddress()
}

// canTransition implements the offer state machine:
//
//	Pending  -> Approved | Canceled
//	Approved -> Approved | Completed | Canceled
//	Completed, Canceled are terminal
func canTransition(from, to OfferStateKind) bool {
	switch from {
	case OfferPending:
		return to == OfferApproved || to == OfferCanceled
	case OfferApproved:
		return to == OfferApproved || to == OfferCompleted || to == OfferCanceled
	default:
		return false
	}
}

func (o *Offer) transition(to OfferState) (*Offer, error) {
	if !canTransition(o.State.Kind, to.Kind) {
		return nil, fmt.Errorf("%w: offer is %s, can't move to %s", ErrInvalidState, o.State.Kind, to.Kind)
	}
	return &Offer{Transaction: o.Transaction, State: to}, nil
}

// Approve returns new version of the offer in Approved state.
func (o *Offer) Approve(anchor *Address) (*Offer, error) {
	return o.transition(OfferState{Kind: OfferApproved, ApprovedHeader: anchor})
}

// Complete returns new version of the offer in Completed state.
func (o *Offer) Complete(attestation Address) (*Offer, error) {
	if attestation == "" {
		return nil, fmt.Errorf("attestation address must be assigned")
	}
	return o.transition(OfferState{Kind: OfferCompleted, Attestation: attestation})
}

// Cancel returns new version of the offer in Canceled state.
func (o *Offer) Cancel() (*Offer, error) {
	if o.State.Kind == OfferCompleted {
		return nil, fmt.Errorf("%w: cannot cancel offer since it has already been completed", ErrInvalidState)
	}
	return o.transition(OfferState{Kind: OfferCanceled})
}
