package client

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mutualcredit/mcledger/chain"
	"github.com/mutualcredit/mcledger/dht"
	"github.com/mutualcredit/mcledger/internal/testutils/observability"
	testsig "github.com/mutualcredit/mcledger/internal/testutils/sig"
	"github.com/mutualcredit/mcledger/keyvaluedb/memorydb"
	"github.com/mutualcredit/mcledger/network"
	"github.com/mutualcredit/mcledger/rpc"
	"github.com/mutualcredit/mcledger/transactor"
	"github.com/mutualcredit/mcledger/types"
)

// startAgent creates agent connected to the "net" and serves its REST API, returns client of the API.
func startAgent(t *testing.T, net *network.MemNet, store dht.Store) (*transactor.Agent, *AgentClient) {
	t.Helper()
	signer := testsig.CreateSigner(t)
	ch, err := chain.New(memorydb.New(), signer)
	require.NoError(t, err)
	obs := observability.Default(t)
	agent, err := transactor.New(context.Background(), signer, ch, store, net.Requester(signer.Address()), obs)
	require.NoError(t, err)
	net.Join(agent.Address(), agent.ServeRequest)

	srv := httptest.NewServer(rpc.NewHTTPServer(&rpc.ServerConfiguration{}, obs, rpc.AgentEndpoints(agent, obs.Logger())).Handler)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL)
	require.NoError(t, err)
	return agent, c
}

func TestNew(t *testing.T) {
	c, err := New("localhost:1234")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:1234/api/v1/balance", c.BaseUrl.JoinPath(BalancePath).String())

	c, err = New("https://example.com")
	require.NoError(t, err)
	require.Equal(t, "https", c.BaseUrl.Scheme)

	_, err = New("http://[::1")
	require.ErrorContains(t, err, "error parsing agent client base URL")
}

func TestAgentClient_OfferFlow(t *testing.T) {
	ctx := context.Background()
	net := network.NewMemNet()
	store, err := dht.NewKVStore(memorydb.New())
	require.NoError(t, err)
	x, xc := startAgent(t, net, store)
	y, yc := startAgent(t, net, store)

	txAddr, err := xc.CreateOffer(ctx, y.Address(), 25)
	require.NoError(t, err)
	require.NotEmpty(t, txAddr)

	offer, err := yc.GetOffer(ctx, txAddr)
	require.NoError(t, err)
	require.Equal(t, types.OfferPending, offer.State.Kind)
	require.Equal(t, x.Address(), offer.Transaction.Debtor)

	snap, err := yc.GetSnapshot(ctx, txAddr)
	require.NoError(t, err)
	require.True(t, snap.Valid, snap.InvalidReason)
	require.True(t, snap.Executable)

	proof, err := yc.AcceptOffer(ctx, txAddr, snap.LastHeaderAddress)
	require.NoError(t, err)
	require.NotEmpty(t, proof.Attestation)
	require.Len(t, proof.Headers, 2)

	balance, err := xc.GetBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, x.Address(), balance.Agent)
	require.InDelta(t, -25, balance.Balance, 1e-9)
	balance, err = yc.GetBalance(ctx)
	require.NoError(t, err)
	require.InDelta(t, 25, balance.Balance, 1e-9)

	txs, err := yc.GetTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, txAddr, txs[0].Address)

	offers, err := xc.GetOffers(ctx)
	require.NoError(t, err)
	require.Len(t, offers, 1)
	require.Equal(t, types.OfferCompleted, offers[0].Offer.State.Kind)
	require.Equal(t, proof.Attestation, offers[0].Offer.State.Attestation)

	atts, err := xc.GetAttestations(ctx)
	require.NoError(t, err)
	require.Len(t, atts, 2, "genesis and receiver attestation")
	require.Equal(t, types.RoleReceiver, atts[0].Attestation.Proof.Role.Kind)

	// completed offer can't be canceled
	err = xc.CancelOffer(ctx, txAddr)
	require.ErrorContains(t, err, "status 409")
}

func TestAgentClient_Errors(t *testing.T) {
	ctx := context.Background()
	net := network.NewMemNet()
	store, err := dht.NewKVStore(memorydb.New())
	require.NoError(t, err)
	x, xc := startAgent(t, net, store)
	y, _ := startAgent(t, net, store)

	_, err = xc.GetOffer(ctx, "unknown")
	require.ErrorIs(t, err, types.ErrNotFound)

	_, err = xc.CreateOffer(ctx, x.Address(), 1)
	require.ErrorContains(t, err, "debtor and creditor must be different agents (status 400)")

	_, err = xc.CreateOffer(ctx, y.Address(), 1000)
	require.ErrorContains(t, err, "status 422")

	net.SetOffline(y.Address(), true)
	_, err = xc.CreateOffer(ctx, y.Address(), 1)
	require.ErrorContains(t, err, "status 502")
}
