package types_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mutualcredit/mcledger/crypto"
	"github.com/mutualcredit/mcledger/types"
)

func TestChainHeader_SignAndVerify(t *testing.T) {
	signer, err := crypto.NewInMemorySecp256K1Signer()
	require.NoError(t, err)

	prev := types.Address("prev")
	h := &types.ChainHeader{
		EntryType:    types.EntryTransaction,
		EntryAddress: "entry",
		Link:         &prev,
		Author:       signer.Address(),
		Timestamp:    1,
	}
	addr, err := h.Address()
	require.NoError(t, err)
	require.NoError(t, types.SignHeader(h, signer.SignBytes))
	require.NoError(t, types.VerifyHeader(h, crypto.Verify))

	// signature is not part of the address
	addr2, err := h.Address()
	require.NoError(t, err)
	require.Equal(t, addr, addr2)
	require.True(t, h.LinksTo(prev))
	require.False(t, h.LinksTo("other"))

	h.EntryAddress = "forged"
	require.ErrorIs(t, types.VerifyHeader(h, crypto.Verify), types.ErrSignatureInvalid)

	var nilHeader *types.ChainHeader
	_, err = nilHeader.Address()
	require.ErrorIs(t, err, types.ErrHeaderIsNil)
}

func TestAttestation_ContainsHeader(t *testing.T) {
	genesis := types.GenesisAttestation("agent")
	require.True(t, genesis.IsGenesis())
	require.False(t, genesis.ContainsHeader("h1"))

	att := &types.Attestation{
		Agent: "agent",
		Proof: &types.TransactionProof{TransactionAddress: "tx", HeaderAddresses: []types.Address{"h1", "h2"}},
	}
	require.False(t, att.IsGenesis())
	require.True(t, att.ContainsHeader("h2"))
	require.False(t, att.ContainsHeader("h3"))

	a1, err := att.Address()
	require.NoError(t, err)
	att.Previous = types.AddressPtr("prev")
	a2, err := att.Address()
	require.NoError(t, err)
	require.NotEqual(t, a1, a2)

	require.Equal(t, "tx,anchor", string(types.SnapshotProofPreimage("tx", "anchor")))
}
