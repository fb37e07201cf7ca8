package transactor

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mutualcredit/mcledger/logger"
	"github.com/mutualcredit/mcledger/observability"
	"github.com/mutualcredit/mcledger/protocol"
	"github.com/mutualcredit/mcledger/snapshot"
	"github.com/mutualcredit/mcledger/types"
)

func (a *Agent) startOperation(ctx context.Context, op string, txAddr types.Address) (context.Context, func(*error)) {
	ctx, span := a.tracer.Start(ctx, "Agent."+op, trace.WithAttributes(observability.TxAddress(txAddr)))
	return ctx, func(rErr *error) {
		if err := *rErr; err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		a.offers.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op), observability.OutcomeStatus(*rErr)))
	}
}

/*
CreateOffer proposes a transaction where the local agent owes "amount" to
the "creditor". The offer is sent to the creditor and, once acknowledged,
recorded locally as approved by the local agent. Returns the address of the
transaction.
*/
func (a *Agent) CreateOffer(ctx context.Context, creditor types.Address, amount float64, timestamp int64) (_ types.Address, rErr error) {
	tx := &types.Transaction{Debtor: a.self, Creditor: creditor, Amount: amount, Timestamp: timestamp}
	if err := tx.IsValid(); err != nil {
		return "", fmt.Errorf("invalid transaction: %w", err)
	}
	txAddr, err := tx.Address()
	if err != nil {
		return "", err
	}
	ctx, done := a.startOperation(ctx, "CreateOffer", txAddr)
	defer done(&rErr)

	if _, _, err := a.loadOffer(txAddr); !errors.Is(err, types.ErrNotFound) {
		if err == nil {
			err = fmt.Errorf("%w: offer %s already exists", types.ErrInvalidState, txAddr.Short())
		}
		return "", err
	}
	if err := a.checkCreditLimit(tx); err != nil {
		return "", err
	}

	if _, err := protocol.Call[*protocol.SendOfferResponse](ctx, a.net, creditor, &protocol.SendOfferRequest{Transaction: tx}); err != nil {
		return "", err
	}

	offer, err := types.NewOffer(tx).Approve(nil)
	if err != nil {
		return "", err
	}
	if _, err := a.chain.Commit(offer); err != nil {
		return "", fmt.Errorf("committing offer: %w", err)
	}
	a.log.InfoContext(ctx, fmt.Sprintf("sent offer of %v to %s", amount, creditor.Short()), logger.TxAddress(txAddr))
	return txAddr, nil
}

/*
GetCounterpartySnapshot loads the chain snapshot of the counterparty of the
offer and evaluates it. The LastHeaderAddress of the result is the anchor
to pass to AcceptOffer.
*/
func (a *Agent) GetCounterpartySnapshot(ctx context.Context, txAddr types.Address) (_ *snapshot.CounterpartySnapshot, rErr error) {
	ctx, done := a.startOperation(ctx, "GetCounterpartySnapshot", txAddr)
	defer done(&rErr)

	offer, _, err := a.loadOffer(txAddr)
	if err != nil {
		return nil, err
	}
	tx := offer.Transaction
	counterparty, err := tx.Counterparty(a.self)
	if err != nil {
		return nil, err
	}

	rsp, err := protocol.Call[*protocol.GetChainSnapshotResponse](ctx, a.net, counterparty, &protocol.GetChainSnapshotRequest{TransactionAddress: txAddr})
	if err != nil {
		return nil, err
	}
	snap, err := rsp.Snapshot.Result()
	if err != nil {
		if errors.Is(err, types.ErrOfferCanceled) {
			a.markCanceled(ctx, txAddr)
		}
		return nil, err
	}
	a.importRecords(ctx, counterparty, rsp.Records)
	return snapshot.Evaluate(ctx, a.registry, a.limiter, counterparty, snap, tx)
}

/*
AcceptOffer approves the offer received from the debtor and runs the
completion handshake with it. The "anchor" is the debtor's last header
address the offer is approved against (see GetCounterpartySnapshot), when
debtor's chain has moved since the handshake fails with types.ErrHeaderMoved.

Accepting already completed offer returns the existing proof.
*/
func (a *Agent) AcceptOffer(ctx context.Context, txAddr, anchor types.Address) (_ *types.TransactionCompletedProof, rErr error) {
	ctx, done := a.startOperation(ctx, "AcceptOffer", txAddr)
	defer done(&rErr)

	if anchor.IsEmpty() {
		return nil, errors.New("anchor header address must be assigned")
	}
	offer, _, err := a.loadOffer(txAddr)
	if err != nil {
		return nil, err
	}
	switch offer.State.Kind {
	case types.OfferCompleted:
		return a.registry.ExistingProof(ctx, offer.State.Attestation)
	case types.OfferCanceled:
		return nil, fmt.Errorf("%w: offer %s has been canceled", types.ErrInvalidState, txAddr.Short())
	}
	tx := offer.Transaction
	if tx.Creditor != a.self {
		return nil, fmt.Errorf("%w: only the creditor can accept the offer", types.ErrInvalidState)
	}

	if _, err := a.updateOffer(txAddr, func(o *types.Offer) (*types.Offer, error) { return o.Approve(&anchor) }); err != nil {
		return nil, err
	}

	rsp, err := protocol.Call[*protocol.AcceptOfferResponse](ctx, a.net, tx.Debtor, &protocol.AcceptOfferRequest{TransactionAddress: txAddr, Anchor: anchor})
	if err != nil {
		return nil, err
	}
	proof, err := rsp.Proof.Result()
	if err != nil {
		if errors.Is(err, types.ErrOfferCanceled) {
			a.markCanceled(ctx, txAddr)
		}
		return nil, err
	}
	a.importRecords(ctx, tx.Debtor, rsp.Records)

	// the offer has been completed by the nested CompleteTransaction request
	if offer, _, err = a.loadOffer(txAddr); err != nil {
		return nil, err
	}
	if offer.State.Kind != types.OfferCompleted || offer.State.Attestation != proof.Attestation {
		return nil, fmt.Errorf("%w: debtor completed the offer with attestation %s but local offer is %s", types.ErrInvalidState, proof.Attestation.Short(), offer.State)
	}
	a.log.InfoContext(ctx, fmt.Sprintf("accepted offer of %v from %s", tx.Amount, tx.Debtor.Short()), logger.TxAddress(txAddr))
	return proof, nil
}

/*
CancelOffer cancels the offer locally and notifies the counterparty.
Completed offer can't be canceled. Canceling already canceled offer
resends the notification.
*/
func (a *Agent) CancelOffer(ctx context.Context, txAddr types.Address) (rErr error) {
	ctx, done := a.startOperation(ctx, "CancelOffer", txAddr)
	defer done(&rErr)

	offer, _, err := a.loadOffer(txAddr)
	if err != nil {
		return err
	}
	if offer.State.Kind != types.OfferCanceled {
		if offer, err = a.updateOffer(txAddr, (*types.Offer).Cancel); err != nil {
			return err
		}
	}
	counterparty, err := offer.Transaction.Counterparty(a.self)
	if err != nil {
		return err
	}
	if _, err := protocol.Call[*protocol.CancelOfferResponse](ctx, a.net, counterparty, &protocol.CancelOfferRequest{TransactionAddress: txAddr}); err != nil {
		return fmt.Errorf("notifying counterparty: %w", err)
	}
	a.log.InfoContext(ctx, "canceled offer", logger.TxAddress(txAddr))
	return nil
}
