package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testTransaction() *Transaction {
	return &Transaction{Debtor: "debtor", Creditor: "creditor", Amount: 50, Timestamp: 1681971084000}
}

func TestOffer_Transitions(t *testing.T) {
	pending := NewOffer(testTransaction())
	require.Equal(t, OfferPending, pending.State.Kind)

	anchor := Address("anchor")
	approved, err := pending.Approve(&anchor)
	require.NoError(t, err)
	require.Equal(t, OfferApproved, approved.State.Kind)
	require.Equal(t, anchor, *approved.State.ApprovedHeader)
	// original version is not mutated
	require.Equal(t, OfferPending, pending.State.Kind)

	reapproved, err := approved.Approve(nil)
	require.NoError(t, err)
	require.Nil(t, reapproved.State.ApprovedHeader)

	completed, err := approved.Complete("att")
	require.NoError(t, err)
	require.Equal(t, "Completed{att}", completed.State.String())
	require.True(t, completed.State.IsTerminal())

	_, err = pending.Complete("att")
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = approved.Complete("")
	require.EqualError(t, err, "attestation address must be assigned")

	canceled, err := pending.Cancel()
	require.NoError(t, err)
	require.True(t, canceled.State.IsTerminal())
	canceled, err = approved.Cancel()
	require.NoError(t, err)
	require.Equal(t, OfferCanceled, canceled.State.Kind)
}

func TestOffer_TerminalStates(t *testing.T) {
	approved, err := NewOffer(testTransaction()).Approve(nil)
	require.NoError(t, err)
	completed, err := approved.Complete("att")
	require.NoError(t, err)
	canceled, err := approved.Cancel()
	require.NoError(t, err)

	_, err = completed.Cancel()
	require.ErrorIs(t, err, ErrInvalidState)
	require.ErrorContains(t, err, "already been completed")

	for _, o := range []*Offer{completed, canceled} {
		_, err = o.Approve(nil)
		require.ErrorIs(t, err, ErrInvalidState)
		_, err = o.Complete("other")
		require.ErrorIs(t, err, ErrInvalidState)
	}
	_, err = canceled.Cancel()
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestOfferStateKind_Text(t *testing.T) {
	for _, k := range []OfferStateKind{OfferPending, OfferApproved, OfferCompleted, OfferCanceled} {
		b, err := k.MarshalText()
		require.NoError(t, err)
		var back OfferStateKind
		require.NoError(t, back.UnmarshalText(b))
		require.Equal(t, k, back)
	}
	var k OfferStateKind
	require.EqualError(t, k.UnmarshalText([]byte("Approving")), `unknown offer state "Approving"`)
	require.Equal(t, "OfferStateKind(9)", OfferStateKind(9).String())
}
