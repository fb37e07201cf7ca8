package protocol

import (
	"fmt"

	"github.com/mutualcredit/mcledger/dht"
	"github.com/mutualcredit/mcledger/snapshot"
	"github.com/mutualcredit/mcledger/types"
)

type Kind string

const (
	KindSendOffer           Kind = "send-offer"
	KindGetChainSnapshot    Kind = "get-chain-snapshot"
	KindAcceptOffer         Kind = "accept-offer"
	KindCompleteTransaction Kind = "complete-transaction"
	KindSignAttestation     Kind = "sign-attestation"
	KindCancelOffer         Kind = "cancel-offer"
)

/*
MessageBody is the closed set of messages agents exchange. Every kind has a
request and a response type.
*/
type MessageBody interface {
	Kind() Kind
	isMessageBody()
}

type OfferStatus uint8

const (
	OfferPending OfferStatus = iota + 1
	OfferCanceled
	OfferCompleted
)

func (s OfferStatus) String() string {
	switch s {
	case OfferPending:
		return "Pending"
	case OfferCanceled:
		return "Canceled"
	case OfferCompleted:
		return "Completed"
	default:
		return fmt.Sprintf("OfferStatus(%d)", uint8(s))
	}
}

/*
OfferResponse is the tri-state answer about an offer: the offer is still
in progress (Pending, with value), it has been canceled (no value) or it
has been completed already (value reconstructed from the stored state).
*/
type OfferResponse[T any] struct {
	_      struct{}    `cbor:",toarray"`
	Status OfferStatus `json:"status"`
	Value  *T          `json:"value,omitempty"`
}

func Pending[T any](v *T) OfferResponse[T] {
	return OfferResponse[T]{Status: OfferPending, Value: v}
}

func Canceled[T any]() OfferResponse[T] {
	return OfferResponse[T]{Status: OfferCanceled}
}

func Completed[T any](v *T) OfferResponse[T] {
	return OfferResponse[T]{Status: OfferCompleted, Value: v}
}

// Result returns the value of Pending or Completed response,
// types.ErrOfferCanceled for Canceled response.
func (r OfferResponse[T]) Result() (*T, error) {
	switch r.Status {
	case OfferPending, OfferCompleted:
		if r.Value == nil {
			return nil, fmt.Errorf("%s response without value", r.Status)
		}
		return r.Value, nil
	case OfferCanceled:
		return nil, types.ErrOfferCanceled
	default:
		return nil, fmt.Errorf("unknown offer status %s", r.Status)
	}
}

type (
	SendOfferRequest struct {
		_           struct{} `cbor:",toarray"`
		Transaction *types.Transaction
	}

	SendOfferResponse struct {
		_ struct{} `cbor:",toarray"`
	}

	GetChainSnapshotRequest struct {
		_                  struct{} `cbor:",toarray"`
		TransactionAddress types.Address
	}

	// GetChainSnapshotResponse carries the public records of the debtor too,
	// the snapshot is validated against them.
	GetChainSnapshotResponse struct {
		_        struct{} `cbor:",toarray"`
		Snapshot OfferResponse[snapshot.Snapshot]
		Records  *dht.Bundle
	}

	// AcceptOfferRequest is sent by the creditor, Anchor is the debtor's last
	// header address the creditor approved the offer against.
	AcceptOfferRequest struct {
		_                  struct{} `cbor:",toarray"`
		TransactionAddress types.Address
		Anchor             types.Address
	}

	// AcceptOfferResponse carries the debtor's attestation and its links as
	// Records when the offer was completed by the request.
	AcceptOfferResponse struct {
		_       struct{} `cbor:",toarray"`
		Proof   OfferResponse[types.TransactionCompletedProof]
		Records *dht.Bundle
	}

	// CompleteTransactionRequest carries the debtor's header of the committed transaction.
	CompleteTransactionRequest struct {
		_                  struct{} `cbor:",toarray"`
		TransactionAddress types.Address
		Header             *types.ChainHeader
	}

	// SenderAttestation is the creditor's published attestation, its
	// signature over the attestation address and the links to it.
	SenderAttestation struct {
		_           struct{} `cbor:",toarray"`
		Headers     []*types.ChainHeader
		Attestation *types.Attestation
		Signature   types.Bytes
		Links       []*dht.Link
	}

	CompleteTransactionResponse struct {
		_           struct{} `cbor:",toarray"`
		Attestation OfferResponse[SenderAttestation]
	}

	// SignAttestationRequest asks the debtor to co-sign the creditor's
	// attestation, Headers are creditor's and debtor's transaction headers
	// (in that order).
	SignAttestationRequest struct {
		_                  struct{} `cbor:",toarray"`
		TransactionAddress types.Address
		Headers            []*types.ChainHeader
		Previous           *types.Address
	}

	AttestationSignatures struct {
		_ struct{} `cbor:",toarray"`
		// debtor's signature over SnapshotProofPreimage
		SnapshotProof types.Bytes
		// debtor's signature over the address of the attestation
		Signature types.Bytes
	}

	SignAttestationResponse struct {
		_          struct{} `cbor:",toarray"`
		Signatures OfferResponse[AttestationSignatures]
	}

	CancelOfferRequest struct {
		_                  struct{} `cbor:",toarray"`
		TransactionAddress types.Address
	}

	CancelOfferResponse struct {
		_ struct{} `cbor:",toarray"`
	}
)

func (*SendOfferRequest) Kind() Kind            { return KindSendOffer }
func (*SendOfferResponse) Kind() Kind           { return KindSendOffer }
func (*GetChainSnapshotRequest) Kind() Kind     { return KindGetChainSnapshot }
func (*GetChainSnapshotResponse) Kind() Kind    { return KindGetChainSnapshot }
func (*AcceptOfferRequest) Kind() Kind          { return KindAcceptOffer }
func (*AcceptOfferResponse) Kind() Kind         { return KindAcceptOffer }
func (*CompleteTransactionRequest) Kind() Kind  { return KindCompleteTransaction }
func (*CompleteTransactionResponse) Kind() Kind { return KindCompleteTransaction }
func (*SignAttestationRequest) Kind() Kind      { return KindSignAttestation }
func (*SignAttestationResponse) Kind() Kind     { return KindSignAttestation }
func (*CancelOfferRequest) Kind() Kind          { return KindCancelOffer }
func (*CancelOfferResponse) Kind() Kind         { return KindCancelOffer }

func (*SendOfferRequest) isMessageBody()            {}
func (*SendOfferResponse) isMessageBody()           {}
func (*GetChainSnapshotRequest) isMessageBody()     {}
func (*GetChainSnapshotResponse) isMessageBody()    {}
func (*AcceptOfferRequest) isMessageBody()          {}
func (*AcceptOfferResponse) isMessageBody()         {}
func (*CompleteTransactionRequest) isMessageBody()  {}
func (*CompleteTransactionResponse) isMessageBody() {}
func (*SignAttestationRequest) isMessageBody()      {}
func (*SignAttestationResponse) isMessageBody()     {}
func (*CancelOfferRequest) isMessageBody()          {}
func (*CancelOfferResponse) isMessageBody()         {}

// IsResponse returns true when "msg" is one of the response types.
func IsResponse(msg MessageBody) bool {
	switch msg.(type) {
	case *SendOfferResponse, *GetChainSnapshotResponse, *AcceptOfferResponse,
		*CompleteTransactionResponse, *SignAttestationResponse, *CancelOfferResponse:
		return true
	default:
		return false
	}
}

func newBody(kind Kind, response bool) (MessageBody, error) {
	switch kind {
	case KindSendOffer:
		if response {
			return &SendOfferResponse{}, nil
		}
		return &SendOfferRequest{}, nil
	case KindGetChainSnapshot:
		if response {
			return &GetChainSnapshotResponse{}, nil
		}
		return &GetChainSnapshotRequest{}, nil
	case KindAcceptOffer:
		if response {
			return &AcceptOfferResponse{}, nil
		}
		return &AcceptOfferRequest{}, nil
	case KindCompleteTransaction:
		if response {
			return &CompleteTransactionResponse{}, nil
		}
		return &CompleteTransactionRequest{}, nil
	case KindSignAttestation:
		if response {
			return &SignAttestationResponse{}, nil
		}
		return &SignAttestationRequest{}, nil
	case KindCancelOffer:
		if response {
			return &CancelOfferResponse{}, nil
		}
		return &CancelOfferRequest{}, nil
	default:
		return nil, fmt.Errorf("unknown message kind %q", kind)
	}
}
