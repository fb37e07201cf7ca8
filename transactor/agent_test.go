package transactor_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mutualcredit/mcledger/chain"
	"github.com/mutualcredit/mcledger/credit"
	"github.com/mutualcredit/mcledger/crypto"
	"github.com/mutualcredit/mcledger/dht"
	testevent "github.com/mutualcredit/mcledger/internal/testutils/event"
	testobservability "github.com/mutualcredit/mcledger/internal/testutils/observability"
	testsig "github.com/mutualcredit/mcledger/internal/testutils/sig"
	"github.com/mutualcredit/mcledger/keyvaluedb/memorydb"
	"github.com/mutualcredit/mcledger/network"
	"github.com/mutualcredit/mcledger/transactor"
	"github.com/mutualcredit/mcledger/types"
)

type testNetwork struct {
	net   *network.MemNet
	store *dht.KVStore
	// every agent has its own public store, records are exchanged only
	// within the protocol messages
	separateStores bool
	// offers created in the same millisecond must still be different
	clock atomic.Int64
}

type testAgent struct {
	*transactor.Agent
	signer *crypto.InMemorySecp256K1Signer
	chain  *chain.Chain
	store  *dht.KVStore
	events *testevent.TestEventHandler
}

func newTestNetwork(t *testing.T) *testNetwork {
	t.Helper()
	store, err := dht.NewKVStore(memorydb.New())
	require.NoError(t, err)
	tn := &testNetwork{net: network.NewMemNet(), store: store}
	tn.clock.Store(time.Now().UnixMilli())
	return tn
}

func newTestNetworkWithSeparateStores(t *testing.T) *testNetwork {
	t.Helper()
	tn := newTestNetwork(t)
	tn.separateStores = true
	return tn
}

func (tn *testNetwork) timestamp() int64 {
	return tn.clock.Add(1)
}

func (tn *testNetwork) newAgent(t *testing.T, opts ...transactor.Option) *testAgent {
	t.Helper()
	signer := testsig.CreateSigner(t)
	ch, err := chain.New(memorydb.New(), signer)
	require.NoError(t, err)
	store := tn.store
	if tn.separateStores {
		store, err = dht.NewKVStore(memorydb.New())
		require.NoError(t, err)
	}
	eh := &testevent.TestEventHandler{}
	opts = append([]transactor.Option{transactor.WithEventHandler(eh.HandleEvent)}, opts...)
	a, err := transactor.New(context.Background(), signer, ch, store, tn.net.Requester(signer.Address()), testobservability.Default(t), opts...)
	require.NoError(t, err)
	tn.net.Join(a.Address(), a.ServeRequest)
	return &testAgent{Agent: a, signer: signer, chain: ch, store: store, events: eh}
}

// offer creates offer from debtor to creditor and returns the transaction address.
func (tn *testNetwork) offer(t *testing.T, debtor, creditor *testAgent, amount float64) types.Address {
	t.Helper()
	txAddr, err := debtor.CreateOffer(context.Background(), creditor.Address(), amount, tn.timestamp())
	require.NoError(t, err)
	return txAddr
}

// transact runs the whole offer flow and returns the transaction address and the proof.
func (tn *testNetwork) transact(t *testing.T, debtor, creditor *testAgent, amount float64) (types.Address, *types.TransactionCompletedProof) {
	t.Helper()
	ctx := context.Background()
	txAddr := tn.offer(t, debtor, creditor, amount)
	snap, err := creditor.GetCounterpartySnapshot(ctx, txAddr)
	require.NoError(t, err)
	require.True(t, snap.Valid, snap.InvalidReason)
	require.True(t, snap.Executable)
	proof, err := creditor.AcceptOffer(ctx, txAddr, snap.LastHeaderAddress)
	require.NoError(t, err)
	return txAddr, proof
}

func requireBalance(t *testing.T, a *testAgent, expected float64) {
	t.Helper()
	balance, err := a.QueryMyBalance()
	require.NoError(t, err)
	require.InDelta(t, expected, balance, 1e-9)
}

func requireOfferState(t *testing.T, a *testAgent, txAddr types.Address, expected types.OfferStateKind) *types.Offer {
	t.Helper()
	offer, err := a.QueryOffer(txAddr)
	require.NoError(t, err)
	require.Equal(t, expected, offer.State.Kind, "offer is %s", offer.State)
	return offer
}

func Test_New(t *testing.T) {
	tn := newTestNetwork(t)
	signer := testsig.CreateSigner(t)
	ch, err := chain.New(memorydb.New(), signer)
	require.NoError(t, err)
	obs := testobservability.NOPObservability()

	t.Run("requester is nil", func(t *testing.T) {
		a, err := transactor.New(context.Background(), signer, ch, tn.store, nil, obs)
		require.EqualError(t, err, "requester is nil")
		require.Nil(t, a)
	})

	t.Run("chain of other agent", func(t *testing.T) {
		a, err := transactor.New(context.Background(), testsig.CreateSigner(t), ch, tn.store, tn.net.Requester(signer.Address()), obs)
		require.ErrorContains(t, err, "creating attestation registry")
		require.Nil(t, a)
	})

	t.Run("success", func(t *testing.T) {
		a, err := transactor.New(context.Background(), signer, ch, tn.store, tn.net.Requester(signer.Address()), obs)
		require.NoError(t, err)
		require.Equal(t, signer.Address(), a.Address())

		// genesis attestation is created and published
		atts, err := a.QueryMyAttestations()
		require.NoError(t, err)
		require.Len(t, atts, 1)
		require.True(t, atts[0].Attestation.IsGenesis())
		_, err = tn.store.GetAttestation(context.Background(), atts[0].Address)
		require.NoError(t, err)

		// restart doesn't create second genesis
		a, err = transactor.New(context.Background(), signer, ch, tn.store, tn.net.Requester(signer.Address()), obs)
		require.NoError(t, err)
		atts, err = a.QueryMyAttestations()
		require.NoError(t, err)
		require.Len(t, atts, 1)
	})
}

func TestAgent_QueryMyOffers(t *testing.T) {
	tn := newTestNetwork(t)
	x := tn.newAgent(t)
	y := tn.newAgent(t)

	tx1, _ := tn.transact(t, x, y, 10)
	tx2 := tn.offer(t, x, y, 20)
	tx3 := tn.offer(t, y, x, 5)

	offers, err := x.QueryMyOffers()
	require.NoError(t, err)
	require.Len(t, offers, 3)
	require.Equal(t, tx3, offers[0].Address)
	require.Equal(t, types.OfferPending, offers[0].Offer.State.Kind)
	require.Equal(t, tx2, offers[1].Address)
	require.Equal(t, types.OfferApproved, offers[1].Offer.State.Kind)
	require.Equal(t, tx1, offers[2].Address)
	require.Equal(t, types.OfferCompleted, offers[2].Offer.State.Kind)

	txs, err := x.QueryMyTransactions()
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, tx1, txs[0].Address)
	require.Equal(t, x.Address(), txs[0].Transaction.Debtor)

	_, err = x.QueryOffer("unknown")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestAgent_CreateOffer(t *testing.T) {
	ctx := context.Background()
	tn := newTestNetwork(t)
	x := tn.newAgent(t)
	y := tn.newAgent(t)

	t.Run("invalid transaction", func(t *testing.T) {
		_, err := x.CreateOffer(ctx, y.Address(), 0, tn.timestamp())
		require.ErrorContains(t, err, "invalid transaction: amount must be a positive number")
		_, err = x.CreateOffer(ctx, x.Address(), 1, tn.timestamp())
		require.ErrorContains(t, err, "invalid transaction: debtor and creditor must be different agents")
	})

	t.Run("over credit limit", func(t *testing.T) {
		_, err := x.CreateOffer(ctx, y.Address(), 101, tn.timestamp())
		require.ErrorIs(t, err, transactor.ErrCreditLimitExceeded)
		offers, err := y.QueryMyOffers()
		require.NoError(t, err)
		require.Empty(t, offers, "offer must not be sent")
	})

	t.Run("creditor offline", func(t *testing.T) {
		tn.net.SetOffline(y.Address(), true)
		defer tn.net.SetOffline(y.Address(), false)
		_, err := x.CreateOffer(ctx, y.Address(), 1, tn.timestamp())
		require.ErrorIs(t, err, types.ErrTransport)
		offers, err := x.QueryMyOffers()
		require.NoError(t, err)
		require.Empty(t, offers, "offer must not be recorded when creditor didn't receive it")
	})

	t.Run("success", func(t *testing.T) {
		ts := tn.timestamp()
		txAddr, err := x.CreateOffer(ctx, y.Address(), 50, ts)
		require.NoError(t, err)

		offer := requireOfferState(t, x, txAddr, types.OfferApproved)
		require.Nil(t, offer.State.ApprovedHeader)
		require.Equal(t, &types.Transaction{Debtor: x.Address(), Creditor: y.Address(), Amount: 50, Timestamp: ts}, offer.Transaction)
		requireOfferState(t, y, txAddr, types.OfferPending)
		testevent.ContainsEvent(t, y.events, transactor.EventOfferReceived, txAddr)

		// the same offer again
		_, err = x.CreateOffer(ctx, y.Address(), 50, ts)
		require.ErrorIs(t, err, types.ErrInvalidState)
		require.ErrorContains(t, err, "already exists")
	})
}

func TestAgent_CreditLimit(t *testing.T) {
	ctx := context.Background()
	tn := newTestNetwork(t)
	x := tn.newAgent(t, transactor.WithCreditLimit(credit.NoLimit{}))
	y := tn.newAgent(t, transactor.WithCreditLimit(credit.FixedLimit(-200)))

	txAddr := tn.offer(t, x, y, 150)
	snap, err := y.GetCounterpartySnapshot(ctx, txAddr)
	require.NoError(t, err)
	require.True(t, snap.Valid, snap.InvalidReason)
	require.True(t, snap.Executable)
	require.Zero(t, snap.Balance)

	_, err = y.AcceptOffer(ctx, txAddr, snap.LastHeaderAddress)
	require.NoError(t, err)
	requireBalance(t, x, -150)

	// y allows x to go down to -200
	txAddr = tn.offer(t, x, y, 60)
	snap, err = y.GetCounterpartySnapshot(ctx, txAddr)
	require.NoError(t, err)
	require.True(t, snap.Valid, snap.InvalidReason)
	require.False(t, snap.Executable)
	require.InDelta(t, -150, snap.Balance, 1e-9)
}
