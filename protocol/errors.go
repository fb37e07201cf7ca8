package protocol

import (
	"errors"

	"github.com/mutualcredit/mcledger/types"
)

type ErrorCode string

const (
	CodeInternal             ErrorCode = "internal"
	CodeInvalidState         ErrorCode = "invalid-state"
	CodeAgentMismatch        ErrorCode = "agent-mismatch"
	CodeHeaderMoved          ErrorCode = "header-moved"
	CodeBadChainHeader       ErrorCode = "bad-chain-header"
	CodeBadChainSnapshot     ErrorCode = "bad-chain-snapshot"
	CodeForkDetected         ErrorCode = "fork-detected"
	CodeSignatureInvalid     ErrorCode = "signature-invalid"
	CodeOfferCanceled        ErrorCode = "offer-canceled"
	CodeBadTransactionHeader ErrorCode = "bad-transaction-header"
	CodeNotFound             ErrorCode = "not-found"
	CodeTransport            ErrorCode = "transport"
)

// more specific errors must come before the errors they wrap
var codes = []struct {
	code ErrorCode
	err  error
}{
	{CodeHeaderMoved, types.ErrHeaderMoved},
	{CodeBadChainHeader, types.ErrBadChainHeader},
	{CodeBadChainSnapshot, types.ErrBadChainSnapshot},
	{CodeForkDetected, types.ErrForkDetected},
	{CodeBadTransactionHeader, types.ErrBadTransactionHeader},
	{CodeSignatureInvalid, types.ErrSignatureInvalid},
	{CodeAgentMismatch, types.ErrAgentMismatch},
	{CodeInvalidState, types.ErrInvalidState},
	{CodeOfferCanceled, types.ErrOfferCanceled},
	{CodeNotFound, types.ErrNotFound},
	{CodeTransport, types.ErrTransport},
}

/*
ErrorResponse is error returned by the counterparty. Code identifies the
sentinel error of the types package so the errors.Is works with the errors
received from the network.
*/
type ErrorResponse struct {
	_       struct{} `cbor:",toarray"`
	Code    ErrorCode
	Message string
}

func NewErrorResponse(err error) *ErrorResponse {
	r := &ErrorResponse{Code: CodeInternal, Message: err.Error()}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			r.Code = c.code
			break
		}
	}
	return r
}

func (e *ErrorResponse) Error() string {
	return "counterparty: " + e.Message
}

func (e *ErrorResponse) Unwrap() error {
	for _, c := range codes {
		if c.code == e.Code {
			return c.err
		}
	}
	return nil
}
