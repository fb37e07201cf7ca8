package attestation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mutualcredit/mcledger/chain"
	"github.com/mutualcredit/mcledger/crypto"
	"github.com/mutualcredit/mcledger/dht"
	"github.com/mutualcredit/mcledger/keyvaluedb/memorydb"
	"github.com/mutualcredit/mcledger/types"
)

type testAgent struct {
	signer   *crypto.InMemorySecp256K1Signer
	chain    *chain.Chain
	registry *Registry
}

func newTestAgent(t *testing.T, store dht.Store) *testAgent {
	t.Helper()
	signer, err := crypto.NewInMemorySecp256K1Signer()
	require.NoError(t, err)
	ch, err := chain.New(memorydb.New(), signer)
	require.NoError(t, err)
	reg, err := New(ch, store, signer)
	require.NoError(t, err)
	return &testAgent{signer: signer, chain: ch, registry: reg}
}

func newTestStore(t *testing.T) *dht.KVStore {
	t.Helper()
	store, err := dht.NewKVStore(memorydb.New())
	require.NoError(t, err)
	return store
}

// completeTransaction commits the transaction into chains of both agents and
// creates attestations the same way the offer protocol does.
func completeTransaction(t *testing.T, debtor, creditor *testAgent, amount float64) (*types.Transaction, types.Address) {
	t.Helper()
	ctx := context.Background()
	tx := &types.Transaction{Debtor: debtor.signer.Address(), Creditor: creditor.signer.Address(), Amount: amount, Timestamp: time.Now().UnixMilli()}

	anchor, err := debtor.chain.LastHeaderAddress()
	require.NoError(t, err)
	hX, err := debtor.chain.Commit(tx)
	require.NoError(t, err)
	hY, err := creditor.chain.Commit(tx)
	require.NoError(t, err)
	headers := []*types.ChainHeader{hY, hX}
	require.NoError(t, ValidateTransactionHeaders(tx, headers))

	txAddr, err := tx.Address()
	require.NoError(t, err)
	snapshotProof, err := debtor.signer.SignBytes(types.SnapshotProofPreimage(txAddr, anchor))
	require.NoError(t, err)
	_, prevY, err := creditor.registry.QueryMyLast()
	require.NoError(t, err)
	attY, err := SenderAttestation(hY, hX, types.AddressPtr(prevY), snapshotProof)
	require.NoError(t, err)
	attYAddr, err := creditor.registry.Commit(ctx, attY, headers, creditor.signer.Address(), debtor.signer.Address())
	require.NoError(t, err)

	sigY, err := creditor.signer.SignBytes([]byte(attYAddr))
	require.NoError(t, err)
	_, prevX, err := debtor.registry.QueryMyLast()
	require.NoError(t, err)
	attX, err := ReceiverAttestation(hY, hX, types.AddressPtr(prevX), attYAddr, sigY)
	require.NoError(t, err)
	_, err = debtor.registry.Commit(ctx, attX, headers, debtor.signer.Address(), creditor.signer.Address())
	require.NoError(t, err)
	return tx, attYAddr
}

func Test_New(t *testing.T) {
	store := newTestStore(t)
	a := newTestAgent(t, store)
	b := newTestAgent(t, store)

	_, err := New(nil, store, a.signer)
	require.EqualError(t, err, "chain is nil")
	_, err = New(a.chain, nil, a.signer)
	require.EqualError(t, err, "public store is nil")
	_, err = New(a.chain, store, nil)
	require.EqualError(t, err, "signer is nil")
	_, err = New(a.chain, store, b.signer)
	require.ErrorContains(t, err, "chain belongs to")
}

func TestRegistry_CreateInitial(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	a := newTestAgent(t, store)

	att, addr, err := a.registry.QueryMyLast()
	require.NoError(t, err)
	require.Nil(t, att)
	require.Empty(t, addr)

	genesis, err := a.registry.CreateInitial(ctx)
	require.NoError(t, err)
	require.True(t, genesis.IsGenesis())

	// idempotent
	_, err = a.registry.CreateInitial(ctx)
	require.NoError(t, err)
	mine, err := a.registry.QueryMine()
	require.NoError(t, err)
	require.Len(t, mine, 1)

	att, addr, err = a.registry.QueryMyLast()
	require.NoError(t, err)
	require.Equal(t, genesis, att)
	published, err := store.GetAttestation(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, genesis, published)

	// self-links do not count
	latest, count, err := a.registry.LatestFor(ctx, a.signer.Address())
	require.NoError(t, err)
	require.Nil(t, latest)
	require.Zero(t, count)
}

func TestRegistry_LatestFor(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	x := newTestAgent(t, store)
	y := newTestAgent(t, store)
	z := newTestAgent(t, store)
	for _, a := range []*testAgent{x, y, z} {
		_, err := a.registry.CreateInitial(ctx)
		require.NoError(t, err)
	}

	_, _ = completeTransaction(t, x, y, 10)
	time.Sleep(2 * time.Millisecond)
	_, _ = completeTransaction(t, z, x, 5)

	// every transaction is counted once for both parties
	for _, tc := range []struct {
		agent *testAgent
		count int
	}{{x, 2}, {y, 1}, {z, 1}} {
		latest, count, err := tc.agent.registry.LatestFor(ctx, tc.agent.signer.Address())
		require.NoError(t, err)
		require.Equal(t, tc.count, count)
		require.NotNil(t, latest)

		// latest attestation covers the newest transaction header of the agent
		h, err := tc.agent.chain.Query(types.EntryTransaction)
		require.NoError(t, err)
		require.True(t, latest.ContainsHeader(h[0].Header.MustAddress()))
	}

	// attestations of the agent form a chain
	mine, err := x.registry.QueryMine()
	require.NoError(t, err)
	require.Len(t, mine, 3)
	prevAddr, err := mine[1].Address()
	require.NoError(t, err)
	require.Equal(t, prevAddr, *mine[0].Previous)
	require.Equal(t, types.RoleSender, mine[0].Proof.Role.Kind, "x was the creditor of the second transaction")
	require.Equal(t, types.RoleReceiver, mine[1].Proof.Role.Kind)
}

func TestRegistry_ExistingProof(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	x := newTestAgent(t, store)
	y := newTestAgent(t, store)
	for _, a := range []*testAgent{x, y} {
		_, err := a.registry.CreateInitial(ctx)
		require.NoError(t, err)
	}
	tx, attYAddr := completeTransaction(t, x, y, 10)
	txAddr, err := tx.Address()
	require.NoError(t, err)

	proof, err := x.registry.ExistingProof(ctx, attYAddr)
	require.NoError(t, err)
	require.Equal(t, attYAddr, proof.Attestation)
	require.Len(t, proof.Headers, 2)
	require.Equal(t, y.signer.Address(), proof.Headers[0].Author)
	require.Equal(t, x.signer.Address(), proof.Headers[1].Author)
	require.NoError(t, ValidateTransactionHeaders(tx, proof.Headers))
	require.NoError(t, crypto.Verify(x.signer.Address(), types.SnapshotProofPreimage(txAddr, *proof.Headers[1].Link), proof.SnapshotProof))

	// receiver attestation resolves to the same proof
	attX, attXAddr, err := x.registry.QueryMyLast()
	require.NoError(t, err)
	require.Equal(t, types.RoleReceiver, attX.Proof.Role.Kind)
	proofX, err := y.registry.ExistingProof(ctx, attXAddr)
	require.NoError(t, err)
	require.Equal(t, proof, proofX)

	_, err = x.registry.ExistingProof(ctx, "unknown")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func Test_ValidateTransactionHeaders(t *testing.T) {
	store := newTestStore(t)
	x := newTestAgent(t, store)
	y := newTestAgent(t, store)
	z := newTestAgent(t, store)
	tx := &types.Transaction{Debtor: x.signer.Address(), Creditor: y.signer.Address(), Amount: 1, Timestamp: time.Now().UnixMilli()}
	hX, err := x.chain.Commit(tx)
	require.NoError(t, err)
	hY, err := y.chain.Commit(tx)
	require.NoError(t, err)
	hZ, err := z.chain.Commit(tx)
	require.NoError(t, err)
	other, err := x.chain.Commit(&types.Transaction{Debtor: x.signer.Address(), Creditor: y.signer.Address(), Amount: 2, Timestamp: 1})
	require.NoError(t, err)

	require.NoError(t, ValidateTransactionHeaders(tx, []*types.ChainHeader{hY, hX}))
	require.NoError(t, ValidateTransactionHeaders(tx, []*types.ChainHeader{hX, hY}))

	var testCases = []struct {
		name    string
		headers []*types.ChainHeader
		errMsg  string
	}{
		{name: "one header", headers: []*types.ChainHeader{hY}, errMsg: "expected 2 headers, got 1"},
		{name: "nil header", headers: []*types.ChainHeader{hY, nil}, errMsg: "chain header is nil"},
		{name: "same author", headers: []*types.ChainHeader{hX, hX}, errMsg: "must be authored by the parties"},
		{name: "outsider", headers: []*types.ChainHeader{hY, hZ}, errMsg: "must be authored by the parties"},
		{name: "other transaction", headers: []*types.ChainHeader{hY, other}, errMsg: "is not for the transaction"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTransactionHeaders(tx, tc.headers)
			require.ErrorIs(t, err, types.ErrBadTransactionHeader)
			require.ErrorContains(t, err, tc.errMsg)
		})
	}

	t.Run("invalid signature", func(t *testing.T) {
		forged := *hX
		forged.Signature = hY.Signature
		err := ValidateTransactionHeaders(tx, []*types.ChainHeader{hY, &forged})
		require.ErrorIs(t, err, types.ErrBadTransactionHeader)
		require.ErrorIs(t, err, types.ErrSignatureInvalid)
	})
}
