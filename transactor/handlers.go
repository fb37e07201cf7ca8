package transactor

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mutualcredit/mcledger/attestation"
	"github.com/mutualcredit/mcledger/crypto"
	"github.com/mutualcredit/mcledger/dht"
	"github.com/mutualcredit/mcledger/logger"
	"github.com/mutualcredit/mcledger/observability"
	"github.com/mutualcredit/mcledger/protocol"
	"github.com/mutualcredit/mcledger/snapshot"
	"github.com/mutualcredit/mcledger/types"
)

// Handle processes request received from the agent "from".
func (a *Agent) Handle(ctx context.Context, from types.Address, msg protocol.MessageBody) (rsp protocol.MessageBody, rErr error) {
	ctx, span := a.tracer.Start(ctx, "Agent.Handle", trace.WithAttributes(observability.MsgKind(string(msg.Kind()))))
	defer func() {
		if rErr != nil {
			span.RecordError(rErr)
		}
		span.End()
		a.handled.Add(ctx, 1, metric.WithAttributes(observability.MsgKind(string(msg.Kind())), observability.OutcomeStatus(rErr)))
	}()

	switch req := msg.(type) {
	case *protocol.SendOfferRequest:
		return a.handleSendOffer(ctx, from, req)
	case *protocol.GetChainSnapshotRequest:
		return a.handleGetChainSnapshot(ctx, from, req)
	case *protocol.AcceptOfferRequest:
		return a.handleAcceptOffer(ctx, from, req)
	case *protocol.CompleteTransactionRequest:
		return a.handleCompleteTransaction(ctx, from, req)
	case *protocol.SignAttestationRequest:
		return a.handleSignAttestation(ctx, from, req)
	case *protocol.CancelOfferRequest:
		return a.handleCancelOffer(ctx, from, req)
	default:
		return nil, fmt.Errorf("unsupported message %T", msg)
	}
}

/*
loadOfferFrom loads the offer the request from "from" refers to and checks
that the local agent has the "role" in the transaction and "from" is the
counterparty.
*/
func (a *Agent) loadOfferFrom(txAddr types.Address, from types.Address, role func(*types.Transaction) types.Address) (*types.Offer, error) {
	offer, _, err := a.loadOffer(txAddr)
	if err != nil {
		return nil, err
	}
	if err := a.requireParties(offer.Transaction, role(offer.Transaction), from); err != nil {
		return nil, err
	}
	return offer, nil
}

func debtor(tx *types.Transaction) types.Address   { return tx.Debtor }
func creditor(tx *types.Transaction) types.Address { return tx.Creditor }

// anyParty accepts both roles, the request may come from either side.
func (a *Agent) anyParty(tx *types.Transaction) types.Address {
	if tx.IsParty(a.self) {
		return a.self
	}
	return ""
}

func notApproved(txAddr types.Address) error {
	return fmt.Errorf("%w: offer %s has not been approved", types.ErrInvalidState, txAddr.Short())
}

// creditor receives an offer from the debtor.
func (a *Agent) handleSendOffer(ctx context.Context, from types.Address, req *protocol.SendOfferRequest) (*protocol.SendOfferResponse, error) {
	tx := req.Transaction
	if err := tx.IsValid(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	if err := a.requireParties(tx, tx.Creditor, from); err != nil {
		return nil, err
	}
	if from != tx.Debtor {
		return nil, fmt.Errorf("%w: offer must be sent by the debtor", types.ErrAgentMismatch)
	}
	txAddr, err := tx.Address()
	if err != nil {
		return nil, err
	}

	if _, _, err := a.loadOffer(txAddr); err == nil {
		// duplicate delivery
		return &protocol.SendOfferResponse{}, nil
	} else if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}
	if _, err := a.chain.Commit(types.NewOffer(tx)); err != nil {
		return nil, fmt.Errorf("committing offer: %w", err)
	}
	a.log.InfoContext(ctx, fmt.Sprintf("received offer of %v from %s", tx.Amount, from.Short()), logger.TxAddress(txAddr))
	a.emit(EventOfferReceived, txAddr)
	return &protocol.SendOfferResponse{}, nil
}

// debtor sends its chain to the creditor.
func (a *Agent) handleGetChainSnapshot(ctx context.Context, from types.Address, req *protocol.GetChainSnapshotRequest) (*protocol.GetChainSnapshotResponse, error) {
	offer, err := a.loadOfferFrom(req.TransactionAddress, from, a.anyParty)
	if err != nil {
		return nil, err
	}
	if offer.State.Kind == types.OfferCanceled {
		return &protocol.GetChainSnapshotResponse{Snapshot: protocol.Canceled[snapshot.Snapshot]()}, nil
	}
	snap, err := snapshot.GetMy(a.chain)
	if err != nil {
		return nil, fmt.Errorf("loading chain snapshot: %w", err)
	}
	records, err := a.registry.PublicRecords(ctx, a.self)
	if err != nil {
		return nil, fmt.Errorf("loading public records: %w", err)
	}
	if offer.State.Kind == types.OfferCompleted {
		return &protocol.GetChainSnapshotResponse{Snapshot: protocol.Completed(snap), Records: records}, nil
	}
	return &protocol.GetChainSnapshotResponse{Snapshot: protocol.Pending(snap), Records: records}, nil
}

/*
handleAcceptOffer is run by the debtor when the creditor accepts the offer:
debtor commits the transaction (on top of the anchor) and asks the creditor
to complete the transaction.
*/
func (a *Agent) handleAcceptOffer(ctx context.Context, from types.Address, req *protocol.AcceptOfferRequest) (*protocol.AcceptOfferResponse, error) {
	txAddr := req.TransactionAddress
	offer, err := a.loadOfferFrom(txAddr, from, debtor)
	if err != nil {
		return nil, err
	}
	switch offer.State.Kind {
	case types.OfferCompleted:
		proof, err := a.registry.ExistingProof(ctx, offer.State.Attestation)
		if err != nil {
			return nil, fmt.Errorf("loading existing proof: %w", err)
		}
		return &protocol.AcceptOfferResponse{Proof: protocol.Completed(proof)}, nil
	case types.OfferCanceled:
		return &protocol.AcceptOfferResponse{Proof: protocol.Canceled[types.TransactionCompletedProof]()}, nil
	case types.OfferPending:
		return nil, notApproved(txAddr)
	}
	tx := offer.Transaction

	// transaction may have been committed by earlier attempt which failed later
	hX, err := a.committedTransaction(txAddr)
	if err != nil {
		return nil, err
	}
	if hX == nil {
		if err := a.checkCreditLimit(tx); err != nil {
			return nil, err
		}
		if hX, err = a.chain.CommitOnTop(tx, req.Anchor); err != nil {
			return nil, fmt.Errorf("committing transaction: %w", err)
		}
	} else if !hX.LinksTo(req.Anchor) {
		return nil, fmt.Errorf("transaction was committed on top of different header: %w", types.ErrHeaderMoved)
	}

	rsp, err := protocol.Call[*protocol.CompleteTransactionResponse](ctx, a.net, from, &protocol.CompleteTransactionRequest{TransactionAddress: txAddr, Header: hX})
	if err != nil {
		return nil, err
	}
	sa, err := rsp.Attestation.Result()
	if err != nil {
		if errors.Is(err, types.ErrOfferCanceled) {
			a.markCanceled(ctx, txAddr)
			return &protocol.AcceptOfferResponse{Proof: protocol.Canceled[types.TransactionCompletedProof]()}, nil
		}
		return nil, err
	}

	attYAddr, err := a.verifySenderAttestation(tx, from, hX, sa)
	if err != nil {
		return nil, err
	}
	// republish creditor's attestation, the proof of the transaction must be
	// resolvable from our store too
	if err := a.store.Publish(ctx, &dht.Bundle{Headers: sa.Headers, Attestations: []*types.Attestation{sa.Attestation}, Links: sa.Links}); err != nil {
		return nil, fmt.Errorf("publishing creditor's attestation: %w", err)
	}
	_, prev, err := a.registry.QueryMyLast()
	if err != nil {
		return nil, fmt.Errorf("loading last attestation: %w", err)
	}
	attX, err := attestation.ReceiverAttestation(sa.Headers[0], hX, types.AddressPtr(prev), attYAddr, sa.Signature)
	if err != nil {
		return nil, err
	}
	attXAddr, err := a.registry.Commit(ctx, attX, sa.Headers, a.self, from)
	if err != nil {
		return nil, err
	}
	records, err := a.registry.AttestationRecords(ctx, attXAddr, a.self, from)
	if err != nil {
		return nil, fmt.Errorf("loading attestation records: %w", err)
	}
	if _, err := a.updateOffer(txAddr, func(o *types.Offer) (*types.Offer, error) { return o.Complete(attYAddr) }); err != nil {
		return nil, err
	}
	a.log.InfoContext(ctx, fmt.Sprintf("completed transaction of %v to %s", tx.Amount, from.Short()), logger.TxAddress(txAddr))
	a.emit(EventOfferCompleted, txAddr)

	return &protocol.AcceptOfferResponse{
		Proof: protocol.Completed(&types.TransactionCompletedProof{
			Attestation:   attYAddr,
			Headers:       sa.Headers,
			SnapshotProof: sa.Attestation.Proof.Role.SnapshotProof,
		}),
		Records: records,
	}, nil
}

// verifySenderAttestation checks the creditor's attestation returned in response to CompleteTransaction.
func (a *Agent) verifySenderAttestation(tx *types.Transaction, creditor types.Address, hX *types.ChainHeader, sa *protocol.SenderAttestation) (types.Address, error) {
	if err := attestation.ValidateTransactionHeaders(tx, sa.Headers); err != nil {
		return "", err
	}
	att := sa.Attestation
	switch {
	case att == nil || att.IsGenesis():
		return "", errors.New("creditor's attestation is missing")
	case att.Agent != creditor || sa.Headers[0].Author != creditor:
		return "", fmt.Errorf("%w: attestation is not made by the creditor", types.ErrAgentMismatch)
	case att.Proof.Role.Kind != types.RoleSender:
		return "", fmt.Errorf("expected %s attestation, got %s", types.RoleSender, att.Proof.Role.Kind)
	case !att.ContainsHeader(hX.MustAddress()):
		return "", fmt.Errorf("%w: attestation doesn't refer to our transaction header", types.ErrBadTransactionHeader)
	}
	addr, err := att.Address()
	if err != nil {
		return "", err
	}
	if err := crypto.Verify(creditor, []byte(addr), sa.Signature); err != nil {
		return "", fmt.Errorf("verifying creditor's signature of the attestation: %w", err)
	}
	return addr, nil
}

/*
handleCompleteTransaction is run by the creditor: validates the debtor's
transaction header, commits the transaction and gets the attestation
co-signed by the debtor.
*/
func (a *Agent) handleCompleteTransaction(ctx context.Context, from types.Address, req *protocol.CompleteTransactionRequest) (*protocol.CompleteTransactionResponse, error) {
	txAddr := req.TransactionAddress
	offer, err := a.loadOfferFrom(txAddr, from, creditor)
	if err != nil {
		return nil, err
	}
	switch offer.State.Kind {
	case types.OfferCompleted:
		sa, err := a.existingSenderAttestation(ctx, offer.State.Attestation)
		if err != nil {
			return nil, err
		}
		return &protocol.CompleteTransactionResponse{Attestation: protocol.Completed(sa)}, nil
	case types.OfferCanceled:
		return &protocol.CompleteTransactionResponse{Attestation: protocol.Canceled[protocol.SenderAttestation]()}, nil
	case types.OfferPending:
		return nil, notApproved(txAddr)
	}
	anchor := offer.State.ApprovedHeader
	if anchor == nil {
		return nil, notApproved(txAddr)
	}
	hX := req.Header
	if err := validateCounterpartyHeader(txAddr, from, *anchor, hX); err != nil {
		return nil, err
	}

	hY, err := a.committedTransaction(txAddr)
	if err != nil {
		return nil, err
	}
	if hY == nil {
		if hY, err = a.chain.Commit(offer.Transaction); err != nil {
			return nil, fmt.Errorf("committing transaction: %w", err)
		}
	}
	_, prev, err := a.registry.QueryMyLast()
	if err != nil {
		return nil, fmt.Errorf("loading last attestation: %w", err)
	}
	headers := []*types.ChainHeader{hY, hX}

	rsp, err := protocol.Call[*protocol.SignAttestationResponse](ctx, a.net, from, &protocol.SignAttestationRequest{
		TransactionAddress: txAddr,
		Headers:            headers,
		Previous:           types.AddressPtr(prev),
	})
	if err != nil {
		return nil, err
	}
	sigs, err := rsp.Signatures.Result()
	if err != nil {
		if errors.Is(err, types.ErrOfferCanceled) {
			a.markCanceled(ctx, txAddr)
			return &protocol.CompleteTransactionResponse{Attestation: protocol.Canceled[protocol.SenderAttestation]()}, nil
		}
		return nil, err
	}

	if err := crypto.Verify(from, types.SnapshotProofPreimage(txAddr, *anchor), sigs.SnapshotProof); err != nil {
		return nil, fmt.Errorf("verifying snapshot proof: %w", err)
	}
	attY, err := attestation.SenderAttestation(hY, hX, types.AddressPtr(prev), sigs.SnapshotProof)
	if err != nil {
		return nil, err
	}
	attYAddr, err := attY.Address()
	if err != nil {
		return nil, err
	}
	if err := crypto.Verify(from, []byte(attYAddr), sigs.Signature); err != nil {
		return nil, fmt.Errorf("verifying debtor's signature of the attestation: %w", err)
	}

	if _, err := a.registry.Commit(ctx, attY, headers, a.self, from); err != nil {
		return nil, err
	}
	if _, err := a.updateOffer(txAddr, func(o *types.Offer) (*types.Offer, error) { return o.Complete(attYAddr) }); err != nil {
		return nil, err
	}
	a.log.InfoContext(ctx, fmt.Sprintf("completed transaction of %v from %s", offer.Transaction.Amount, from.Short()), logger.TxAddress(txAddr))
	a.emit(EventOfferCompleted, txAddr)

	sig, err := a.signer.SignBytes([]byte(attYAddr))
	if err != nil {
		return nil, fmt.Errorf("signing attestation: %w", err)
	}
	records, err := a.registry.AttestationRecords(ctx, attYAddr, a.self, from)
	if err != nil {
		return nil, fmt.Errorf("loading attestation records: %w", err)
	}
	return &protocol.CompleteTransactionResponse{Attestation: protocol.Pending(&protocol.SenderAttestation{
		Headers:     headers,
		Attestation: attY,
		Signature:   sig,
		Links:       records.Links,
	})}, nil
}

/*
validateCounterpartyHeader checks that "h" is the header of the transaction
"txAddr" in the chain of "author", committed right on top of "anchor".
*/
func validateCounterpartyHeader(txAddr, author, anchor types.Address, h *types.ChainHeader) error {
	err := func() error {
		switch {
		case h == nil:
			return types.ErrHeaderIsNil
		case !h.LinksTo(anchor):
			return fmt.Errorf("header doesn't link to the approved header %s", anchor.Short())
		case h.EntryType != types.EntryTransaction || h.EntryAddress != txAddr:
			return fmt.Errorf("header is not for the transaction %s", txAddr.Short())
		case h.Author != author:
			return fmt.Errorf("header author is %s, expected %s: %w", h.Author.Short(), author.Short(), types.ErrAgentMismatch)
		}
		return types.VerifyHeader(h, crypto.Verify)
	}()
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrBadTransactionHeader, err)
	}
	return nil
}

// existingSenderAttestation rebuilds the response of the creditor for already completed offer.
func (a *Agent) existingSenderAttestation(ctx context.Context, addr types.Address) (*protocol.SenderAttestation, error) {
	proof, err := a.registry.ExistingProof(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("loading existing proof: %w", err)
	}
	records, err := a.registry.AttestationRecords(ctx, proof.Attestation, proof.Headers[0].Author, proof.Headers[1].Author)
	if err != nil {
		return nil, fmt.Errorf("loading attestation records: %w", err)
	}
	sig, err := a.signer.SignBytes([]byte(proof.Attestation))
	if err != nil {
		return nil, fmt.Errorf("signing attestation: %w", err)
	}
	return &protocol.SenderAttestation{Headers: proof.Headers, Attestation: records.Attestations[0], Signature: sig, Links: records.Links}, nil
}

/*
handleSignAttestation is run by the debtor: co-signs the creditor's
attestation of the transaction committed by both parties.
*/
func (a *Agent) handleSignAttestation(ctx context.Context, from types.Address, req *protocol.SignAttestationRequest) (*protocol.SignAttestationResponse, error) {
	txAddr := req.TransactionAddress
	offer, err := a.loadOfferFrom(txAddr, from, debtor)
	if err != nil {
		return nil, err
	}
	switch offer.State.Kind {
	case types.OfferCompleted:
		sigs, err := a.existingSignatures(ctx, offer.State.Attestation)
		if err != nil {
			return nil, err
		}
		return &protocol.SignAttestationResponse{Signatures: protocol.Completed(sigs)}, nil
	case types.OfferCanceled:
		return &protocol.SignAttestationResponse{Signatures: protocol.Canceled[protocol.AttestationSignatures]()}, nil
	case types.OfferPending:
		return nil, notApproved(txAddr)
	}
	if len(req.Headers) != 2 {
		return nil, fmt.Errorf("%w: expected 2 headers, got %d", types.ErrBadTransactionHeader, len(req.Headers))
	}
	hY, hX := req.Headers[0], req.Headers[1]

	if err := attestation.ValidateTransactionHeaders(offer.Transaction, req.Headers); err != nil {
		return nil, err
	}
	if hY.Author != from || hX.Author != a.self {
		return nil, fmt.Errorf("%w: headers must be in order creditor, debtor", types.ErrBadTransactionHeader)
	}
	if hX.Link == nil || hY.Link == nil {
		return nil, fmt.Errorf("%w: transaction header has no back-link", types.ErrBadTransactionHeader)
	}
	// offers received meanwhile are private entries and do not affect the
	// attestations, only another transaction on top of ours is a fork
	last, err := a.chain.LastHeaderOf(types.EntryTransaction)
	if err != nil {
		return nil, fmt.Errorf("loading last transaction header: %w", err)
	}
	hXAddr := hX.MustAddress()
	if last == nil || last.MustAddress() != hXAddr {
		return nil, fmt.Errorf("our transaction header %s is not our newest transaction: %w", hXAddr.Short(), types.ErrHeaderMoved)
	}

	snapshotProof, err := a.signer.SignBytes(types.SnapshotProofPreimage(txAddr, *hX.Link))
	if err != nil {
		return nil, fmt.Errorf("signing snapshot proof: %w", err)
	}
	attY, err := attestation.SenderAttestation(hY, hX, req.Previous, snapshotProof)
	if err != nil {
		return nil, err
	}
	attYAddr, err := attY.Address()
	if err != nil {
		return nil, err
	}
	sig, err := a.signer.SignBytes([]byte(attYAddr))
	if err != nil {
		return nil, fmt.Errorf("signing attestation: %w", err)
	}
	return &protocol.SignAttestationResponse{Signatures: protocol.Pending(&protocol.AttestationSignatures{
		SnapshotProof: snapshotProof,
		Signature:     sig,
	})}, nil
}

// existingSignatures rebuilds the response of the debtor for already completed offer.
func (a *Agent) existingSignatures(ctx context.Context, addr types.Address) (*protocol.AttestationSignatures, error) {
	att, err := a.store.GetAttestation(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("loading attestation: %w", err)
	}
	if att.IsGenesis() {
		return nil, fmt.Errorf("attestation %s is not a transaction attestation", addr.Short())
	}
	sig, err := a.signer.SignBytes([]byte(addr))
	if err != nil {
		return nil, fmt.Errorf("signing attestation: %w", err)
	}
	return &protocol.AttestationSignatures{SnapshotProof: att.Proof.Role.SnapshotProof, Signature: sig}, nil
}

// counterparty notifies us that it has canceled the offer.
func (a *Agent) handleCancelOffer(ctx context.Context, from types.Address, req *protocol.CancelOfferRequest) (*protocol.CancelOfferResponse, error) {
	txAddr := req.TransactionAddress
	offer, err := a.loadOfferFrom(txAddr, from, a.anyParty)
	if err != nil {
		return nil, err
	}
	switch offer.State.Kind {
	case types.OfferCanceled:
		return &protocol.CancelOfferResponse{}, nil
	case types.OfferCompleted:
		return nil, fmt.Errorf("%w: cannot cancel offer since it has already been completed", types.ErrInvalidState)
	}
	if _, err := a.updateOffer(txAddr, (*types.Offer).Cancel); err != nil {
		return nil, err
	}
	a.log.InfoContext(ctx, fmt.Sprintf("offer canceled by %s", from.Short()), logger.TxAddress(txAddr))
	a.emit(EventOfferCanceled, txAddr)
	return &protocol.CancelOfferResponse{}, nil
}
