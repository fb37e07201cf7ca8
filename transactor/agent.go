package transactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mutualcredit/mcledger/attestation"
	"github.com/mutualcredit/mcledger/chain"
	"github.com/mutualcredit/mcledger/credit"
	"github.com/mutualcredit/mcledger/dht"
	"github.com/mutualcredit/mcledger/logger"
	"github.com/mutualcredit/mcledger/protocol"
	"github.com/mutualcredit/mcledger/types"
)

var ErrCreditLimitExceeded = errors.New("credit limit exceeded")

type (
	Signer interface {
		SignBytes(data []byte) ([]byte, error)
		Address() types.Address
	}

	Observability interface {
		Tracer(name string, options ...trace.TracerOption) trace.Tracer
		Meter(name string, opts ...metric.MeterOption) metric.Meter
		Logger() *slog.Logger
	}

	/*
	Agent runs the offer protocol on behalf of the local agent: it keeps the
	offers and transactions in the agent's chain, talks to the counterparties
	via the Requester and publishes attestations of completed transactions.

	Agent implements protocol.Handler, requests received from other agents
	must be passed to Handle (or ServeRequest).
	*/
	Agent struct {
		signer   Signer
		self     types.Address
		chain    *chain.Chain
		registry *attestation.Registry
		store    dht.Store
		limiter  credit.Limiter
		net      protocol.Requester
		events   EventHandler

		log     *slog.Logger
		tracer  trace.Tracer
		handled metric.Int64Counter
		offers  metric.Int64Counter
	}

	Option func(*Agent)
)

// WithCreditLimit sets the credit limit policy, default is credit.DefaultCreditLimit for everyone.
func WithCreditLimit(limiter credit.Limiter) Option {
	return func(a *Agent) { a.limiter = limiter }
}

// WithEventHandler sets the receiver of the offer lifecycle notifications.
func WithEventHandler(h EventHandler) Option {
	return func(a *Agent) { a.events = h }
}

/*
New creates Agent for the owner of the chain "ch". Genesis attestation of
the agent is created (when missing) and published into the store.
*/
func New(ctx context.Context, signer Signer, ch *chain.Chain, store dht.Store, net protocol.Requester, obs Observability, opts ...Option) (*Agent, error) {
	if net == nil {
		return nil, errors.New("requester is nil")
	}
	registry, err := attestation.New(ch, store, signer)
	if err != nil {
		return nil, fmt.Errorf("creating attestation registry: %w", err)
	}

	a := &Agent{
		signer:   signer,
		self:     signer.Address(),
		chain:    ch,
		registry: registry,
		store:    store,
		limiter:  credit.FixedLimit(credit.DefaultCreditLimit),
		net:      net,
		events:   func(*Event) {},
		log:      obs.Logger().With(logger.Agent(signer.Address())),
		tracer:   obs.Tracer("transactor"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.initMetrics(obs.Meter("mcledger.transactor")); err != nil {
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}

	if _, err := a.registry.CreateInitial(ctx); err != nil {
		return nil, fmt.Errorf("creating genesis attestation: %w", err)
	}
	return a, nil
}

func (a *Agent) initMetrics(m metric.Meter) (err error) {
	if a.handled, err = m.Int64Counter(
		"msg.handled",
		metric.WithDescription("Number of protocol messages handled, by kind and status"),
		metric.WithUnit("{message}"),
	); err != nil {
		return fmt.Errorf("creating counter for handled messages: %w", err)
	}

	if a.offers, err = m.Int64Counter(
		"offer.operation",
		metric.WithDescription("Number of offer operations, by operation and outcome"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return fmt.Errorf("creating counter for offer operations: %w", err)
	}
	return nil
}

// Address returns the address of the local agent.
func (a *Agent) Address() types.Address {
	return a.self
}

// ServeRequest is the network.RequestHandler of the agent.
func (a *Agent) ServeRequest(ctx context.Context, from types.Address, data []byte) []byte {
	return protocol.Serve(ctx, a, from, data, a.log)
}

func (a *Agent) emit(typ EventType, txAddr types.Address) {
	a.events(&Event{EventType: typ, TransactionAddress: txAddr, Timestamp: time.Now()})
}

/*
loadOffer returns the latest version of the offer of the transaction
"txAddr" and the address of that version.
*/
func (a *Agent) loadOffer(txAddr types.Address) (*types.Offer, types.Address, error) {
	el, err := a.chain.GetByKey(types.EntryOffer, txAddr)
	if err != nil {
		return nil, "", fmt.Errorf("loading offer: %w", err)
	}
	offer := &types.Offer{}
	if err := types.Unmarshal(el.Entry.Data, offer); err != nil {
		return nil, "", fmt.Errorf("decoding offer %s: %w", txAddr.Short(), err)
	}
	return offer, el.Header.EntryAddress, nil
}

/*
updateOffer applies the state transition "next" to the latest version of the
offer and commits the new version.
*/
func (a *Agent) updateOffer(txAddr types.Address, next func(*types.Offer) (*types.Offer, error)) (*types.Offer, error) {
	offer, prior, err := a.loadOffer(txAddr)
	if err != nil {
		return nil, err
	}
	updated, err := next(offer)
	if err != nil {
		return nil, fmt.Errorf("offer %s: %w", txAddr.Short(), err)
	}
	if _, err := a.chain.Update(updated, prior); err != nil {
		return nil, fmt.Errorf("updating offer %s: %w", txAddr.Short(), err)
	}
	a.log.Debug(fmt.Sprintf("offer %s -> %s", offer.State, updated.State), logger.TxAddress(txAddr))
	return updated, nil
}

/*
markCanceled moves the local offer into Canceled state after the
counterparty reported the offer as canceled.
*/
func (a *Agent) markCanceled(ctx context.Context, txAddr types.Address) {
	if _, err := a.updateOffer(txAddr, (*types.Offer).Cancel); err != nil {
		a.log.WarnContext(ctx, "marking offer as canceled", logger.TxAddress(txAddr), logger.Error(err))
		return
	}
	a.emit(EventOfferCanceled, txAddr)
}

/*
importRecords publishes the public records received from the counterparty
into the local store. Records which do not pass validation are not fatal,
the snapshot evaluation reports what is missing.
*/
func (a *Agent) importRecords(ctx context.Context, from types.Address, records *dht.Bundle) {
	if records == nil {
		return
	}
	if err := a.store.Publish(ctx, records); err != nil {
		a.log.WarnContext(ctx, "importing public records of "+from.Short(), logger.Error(err))
	}
}

// myTransactions returns transactions committed into the local chain.
func (a *Agent) myTransactions() ([]*types.Transaction, error) {
	elements, err := a.chain.Query(types.EntryTransaction)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	txs := make([]*types.Transaction, 0, len(elements))
	for _, el := range elements {
		tx, err := el.Entry.Transaction()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// checkCreditLimit returns error when executing "tx" would take the local agent over its credit limit.
func (a *Agent) checkCreditLimit(tx *types.Transaction) error {
	txs, err := a.myTransactions()
	if err != nil {
		return err
	}
	if !credit.WithinCreditLimit(a.limiter, a.self, append(txs, tx)) {
		limit, _ := a.limiter.CreditLimit(a.self)
		return fmt.Errorf("%w: balance %v would go below %v", ErrCreditLimitExceeded, credit.Balance(a.self, txs)-tx.Amount, limit)
	}
	return nil
}

// committedTransaction returns the header of the transaction in the local chain, nil when not committed.
func (a *Agent) committedTransaction(txAddr types.Address) (*types.ChainHeader, error) {
	el, err := a.chain.Get(txAddr)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up transaction: %w", err)
	}
	return el.Header, nil
}

// requireParties checks that the local agent has role "self" in the transaction and the message came from the counterparty.
func (a *Agent) requireParties(tx *types.Transaction, self, from types.Address) error {
	if a.self != self {
		return fmt.Errorf("%w: local agent %s has wrong role in the transaction", types.ErrAgentMismatch, a.self.Short())
	}
	counterparty, err := tx.Counterparty(a.self)
	if err != nil {
		return err
	}
	if from != counterparty {
		return fmt.Errorf("%w: message from %s, counterparty is %s", types.ErrAgentMismatch, from.Short(), counterparty.Short())
	}
	return nil
}
