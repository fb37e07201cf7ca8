package types

import (
	"errors"
	"fmt"
)

var ErrAttestationIsNil = errors.New("attestation is nil")

type RoleKind uint8

const (
	// RoleSender is the party which requested co-signature of the attestation
	// (creditor of the transaction).
	RoleSender RoleKind = iota + 1
	// RoleReceiver is the party which co-signed (debtor of the transaction).
	RoleReceiver
)

func (k RoleKind) String() string {
	switch k {
	case RoleSender:
		return "Sender"
	case RoleReceiver:
		return "Receiver"
	default:
		return fmt.Sprintf("RoleKind(%d)", uint8(k))
	}
}

/*
Role describes why the agent vouches for the transaction.

Sender carries SnapshotProof - counterparty's signature over
SnapshotProofPreimage(transaction, anchor). Receiver carries the address of
the Sender's attestation and Sender's signature over that address.
*/
type Role struct {
	_                 struct{} `cbor:",toarray"`
	Kind              RoleKind `json:"kind"`
	SnapshotProof     Bytes    `json:"snapshotProof,omitempty"`
	SenderAttestation Address  `json:"senderAttestation,omitempty"`
	SenderSignature   Bytes    `json:"senderSignature,omitempty"`
}

// SignedHeader is reference to the agent's own transaction header.
type SignedHeader struct {
	_         struct{} `cbor:",toarray"`
	Address   Address  `json:"address"`
	Signature Bytes    `json:"signature"`
}

type TransactionProof struct {
	_                  struct{}     `cbor:",toarray"`
	TransactionAddress Address      `json:"transactionAddress"`
	HeaderAddresses    []Address    `json:"headerAddresses"` // sender's header first
	Header             SignedHeader `json:"header"`
	Role               Role         `json:"role"`
}

/*
Attestation is public record vouching that Agent has produced a signed chain
header for a transaction. Attestations of an agent form a hash chain via
Previous; the first attestation of an agent (genesis) has no Proof.
*/
type Attestation struct {
	_        struct{}          `cbor:",toarray"`
	Agent    Address           `json:"agent"`
	Previous *Address          `json:"previous,omitempty"`
	Proof    *TransactionProof `json:"transactionProof,omitempty"`
}

func (a *Attestation) EntryType() EntryType { return EntryAttestation }

func (a *Attestation) Address() (Address, error) {
	if a == nil {
		return "", ErrAttestationIsNil
	}
	return AddressOf(a)
}

func (a *Attestation) IsGenesis() bool {
	return a.Proof == nil
}

// ContainsHeader returns true when header "addr" is one of the transaction headers the attestation refers to.
func (a *Attestation) ContainsHeader(addr Address) bool {
	if a == nil || a.Proof == nil {
		return false
	}
	for _, h := range a.Proof.HeaderAddresses {
		if h == addr {
			return true
		}
	}
	return false
}

func GenesisAttestation(agent Address) *Attestation {
	return &Attestation{Agent: agent}
}

// SnapshotProofPreimage returns the bytes signed by the debtor to confirm that
// the transaction was executed on top of chain state "anchor".
func SnapshotProofPreimage(transaction, anchor Address) []byte {
	return []byte(fmt.Sprintf("%s,%s", transaction, anchor))
}
