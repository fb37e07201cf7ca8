package observability

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mutualcredit/mcledger/types"
)

func Test_OutcomeStatus(t *testing.T) {
	var testCases = []struct {
		err    error
		status string
	}{
		{err: nil, status: "ok"},
		{err: types.ErrHeaderMoved, status: "fork"},
		{err: fmt.Errorf("accepting: %w", types.ErrBadChainSnapshot), status: "fork"},
		{err: types.ErrOfferCanceled, status: "canceled"},
		{err: types.ErrCounterpartyUnreachable, status: "transport"},
		{err: types.ErrInvalidState, status: "state"},
		{err: types.ErrBadTransactionHeader, status: "invalid"},
		{err: errors.New("other"), status: "err"},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.status, OutcomeStatus(tc.err).Value.AsString(), "error: %v", tc.err)
	}
	require.Equal(t, "err", ErrStatus(errors.New("x")).Value.AsString())
	require.Equal(t, "ok", ErrStatus(nil).Value.AsString())
}
