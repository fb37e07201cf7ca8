package credit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mutualcredit/mcledger/types"
)

func Test_Balance(t *testing.T) {
	const alice, bob, carol = types.Address("alice"), types.Address("bob"), types.Address("carol")
	txs := []*types.Transaction{
		{Debtor: alice, Creditor: bob, Amount: 10},
		{Debtor: bob, Creditor: carol, Amount: 2.5},
		{Debtor: carol, Creditor: alice, Amount: 4},
		{Debtor: alice, Creditor: carol, Amount: 1},
	}

	require.EqualValues(t, 0, Balance(alice, nil))
	require.EqualValues(t, -7, Balance(alice, txs))
	require.EqualValues(t, 7.5, Balance(bob, txs))
	require.EqualValues(t, -0.5, Balance(carol, txs))
	require.EqualValues(t, 0, Balance("dave", txs))

	// credit is neither created nor destroyed
	require.EqualValues(t, 0, Balance(alice, txs)+Balance(bob, txs)+Balance(carol, txs))
}

func Test_WithinCreditLimit(t *testing.T) {
	const alice, bob = types.Address("alice"), types.Address("bob")
	limiter := FixedLimit(DefaultCreditLimit)

	var testCases = []struct {
		name   string
		amount float64
		within bool
	}{
		{name: "no debt", amount: 0, within: true},
		{name: "some debt", amount: 50, within: true},
		{name: "exactly on limit", amount: 100, within: true},
		{name: "over limit", amount: 100.5, within: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			txs := []*types.Transaction{{Debtor: alice, Creditor: bob, Amount: tc.amount}}
			require.Equal(t, tc.within, WithinCreditLimit(limiter, alice, txs))
			require.True(t, WithinCreditLimit(limiter, bob, txs))
			require.True(t, WithinCreditLimit(NoLimit{}, alice, txs))
		})
	}
}
