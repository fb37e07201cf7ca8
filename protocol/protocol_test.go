package protocol

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mutualcredit/mcledger/internal/testutils/logger"
	"github.com/mutualcredit/mcledger/snapshot"
	"github.com/mutualcredit/mcledger/types"
)

type handlerFunc func(ctx context.Context, from types.Address, msg MessageBody) (MessageBody, error)

func (f handlerFunc) Handle(ctx context.Context, from types.Address, msg MessageBody) (MessageBody, error) {
	return f(ctx, from, msg)
}

// loopback delivers requests directly to the handler
type loopback struct {
	t       *testing.T
	from    types.Address
	handler Handler
	err     error
}

func (l *loopback) Request(ctx context.Context, to types.Address, data []byte) ([]byte, error) {
	if l.err != nil {
		return nil, l.err
	}
	return Serve(ctx, l.handler, l.from, data, logger.New(l.t)), nil
}

func Test_EncodeDecode(t *testing.T) {
	anchor := types.Address("anchor")
	messages := []MessageBody{
		&SendOfferRequest{Transaction: &types.Transaction{Debtor: "x", Creditor: "y", Amount: 1.5, Timestamp: 3}},
		&SendOfferResponse{},
		&GetChainSnapshotRequest{TransactionAddress: "tx"},
		&GetChainSnapshotResponse{Snapshot: Pending(&snapshot.Snapshot{})},
		&AcceptOfferRequest{TransactionAddress: "tx", Anchor: anchor},
		&AcceptOfferResponse{Proof: Completed(&types.TransactionCompletedProof{Attestation: "att", SnapshotProof: []byte{1, 2}})},
		&CompleteTransactionRequest{TransactionAddress: "tx", Header: &types.ChainHeader{EntryType: types.EntryTransaction, Link: &anchor}},
		&CompleteTransactionResponse{Attestation: Canceled[SenderAttestation]()},
		&SignAttestationRequest{TransactionAddress: "tx", Previous: &anchor},
		&SignAttestationResponse{Signatures: Pending(&AttestationSignatures{SnapshotProof: []byte{1}, Signature: []byte{2}})},
		&CancelOfferRequest{TransactionAddress: "tx"},
		&CancelOfferResponse{},
	}
	for _, msg := range messages {
		t.Run(fmt.Sprintf("%T", msg), func(t *testing.T) {
			data, err := Encode(msg)
			require.NoError(t, err)
			decoded, err := Decode(data)
			require.NoError(t, err)
			require.Equal(t, msg, decoded)
		})
	}

	_, err := Encode(nil)
	require.EqualError(t, err, "message is nil")

	_, err = Decode([]byte{0xff})
	require.ErrorContains(t, err, "decoding envelope")

	data, err := types.Marshal(&Envelope{Kind: "unknown"})
	require.NoError(t, err)
	_, err = Decode(data)
	require.EqualError(t, err, `unknown message kind "unknown"`)
}

func Test_ErrorResponse(t *testing.T) {
	var testCases = []struct {
		err  error
		code ErrorCode
		is   []error
	}{
		{err: types.ErrHeaderMoved, code: CodeHeaderMoved, is: []error{types.ErrHeaderMoved, types.ErrForkDetected}},
		{err: fmt.Errorf("validating: %w", types.ErrBadChainSnapshot), code: CodeBadChainSnapshot, is: []error{types.ErrBadChainSnapshot, types.ErrForkDetected}},
		{err: fmt.Errorf("%w: %w", types.ErrBadTransactionHeader, types.ErrSignatureInvalid), code: CodeBadTransactionHeader, is: []error{types.ErrBadTransactionHeader}},
		{err: types.ErrOfferCanceled, code: CodeOfferCanceled, is: []error{types.ErrOfferCanceled}},
		{err: types.ErrCounterpartyUnreachable, code: CodeTransport, is: []error{types.ErrTransport}},
		{err: errors.New("boom"), code: CodeInternal},
	}
	for _, tc := range testCases {
		data, err := EncodeError(KindAcceptOffer, tc.err)
		require.NoError(t, err)
		msg, err := Decode(data)
		require.Nil(t, msg)
		var rspErr *ErrorResponse
		require.ErrorAs(t, err, &rspErr)
		require.Equal(t, tc.code, rspErr.Code)
		require.Equal(t, "counterparty: "+tc.err.Error(), err.Error())
		for _, target := range tc.is {
			require.ErrorIs(t, err, target)
		}
	}
}

func Test_OfferResponse_Result(t *testing.T) {
	v, err := Pending(&AttestationSignatures{}).Result()
	require.NoError(t, err)
	require.NotNil(t, v)

	_, err = Canceled[AttestationSignatures]().Result()
	require.ErrorIs(t, err, types.ErrOfferCanceled)

	_, err = OfferResponse[AttestationSignatures]{Status: OfferCompleted}.Result()
	require.EqualError(t, err, "Completed response without value")

	_, err = OfferResponse[AttestationSignatures]{}.Result()
	require.EqualError(t, err, "unknown offer status OfferStatus(0)")
}

func Test_Call(t *testing.T) {
	ctx := context.Background()
	const alice = types.Address("alice")

	t.Run("success", func(t *testing.T) {
		h := handlerFunc(func(ctx context.Context, from types.Address, msg MessageBody) (MessageBody, error) {
			require.Equal(t, alice, from)
			req := msg.(*AcceptOfferRequest)
			return &AcceptOfferResponse{Proof: Completed(&types.TransactionCompletedProof{Attestation: req.Anchor})}, nil
		})
		rsp, err := Call[*AcceptOfferResponse](ctx, &loopback{t: t, from: alice, handler: h}, "bob", &AcceptOfferRequest{Anchor: "a"})
		require.NoError(t, err)
		require.Equal(t, types.Address("a"), rsp.Proof.Value.Attestation)
	})

	t.Run("handler error", func(t *testing.T) {
		h := handlerFunc(func(ctx context.Context, from types.Address, msg MessageBody) (MessageBody, error) {
			return nil, fmt.Errorf("checking anchor: %w", types.ErrHeaderMoved)
		})
		_, err := Call[*AcceptOfferResponse](ctx, &loopback{t: t, from: alice, handler: h}, "bob", &AcceptOfferRequest{})
		require.ErrorIs(t, err, types.ErrForkDetected)
		require.ErrorContains(t, err, "checking anchor: last header has changed")
	})

	t.Run("wrong response type", func(t *testing.T) {
		h := handlerFunc(func(ctx context.Context, from types.Address, msg MessageBody) (MessageBody, error) {
			return &CancelOfferResponse{}, nil
		})
		_, err := Call[*AcceptOfferResponse](ctx, &loopback{t: t, from: alice, handler: h}, "bob", &AcceptOfferRequest{})
		require.ErrorContains(t, err, "handler returned invalid response *protocol.CancelOfferResponse to accept-offer request")
	})

	t.Run("request as response", func(t *testing.T) {
		h := handlerFunc(func(ctx context.Context, from types.Address, msg MessageBody) (MessageBody, error) {
			return msg, nil
		})
		_, err := Call[*CancelOfferResponse](ctx, &loopback{t: t, from: alice, handler: h}, "bob", &CancelOfferRequest{})
		require.ErrorContains(t, err, "handler returned invalid response")
	})

	t.Run("transport failure", func(t *testing.T) {
		_, err := Call[*CancelOfferResponse](ctx, &loopback{t: t, err: errors.New("no route")}, "bob", &CancelOfferRequest{})
		require.ErrorIs(t, err, types.ErrCounterpartyUnreachable)
		require.ErrorIs(t, err, types.ErrTransport)
	})
}
