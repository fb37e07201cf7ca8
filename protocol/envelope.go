package protocol

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/mutualcredit/mcledger/types"
)

// Envelope is the wire format of the messages.
type Envelope struct {
	_          struct{} `cbor:",toarray"`
	Kind       Kind
	IsResponse bool
	Payload    cbor.RawMessage
	Error      *ErrorResponse
}

func Encode(msg MessageBody) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("message is nil")
	}
	payload, err := types.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s message: %w", msg.Kind(), err)
	}
	return types.Marshal(&Envelope{Kind: msg.Kind(), IsResponse: IsResponse(msg), Payload: payload})
}

// EncodeError returns encoded response envelope carrying error "err".
func EncodeError(kind Kind, err error) ([]byte, error) {
	return types.Marshal(&Envelope{Kind: kind, IsResponse: true, Error: NewErrorResponse(err)})
}

/*
Decode returns the message in the envelope. When the envelope carries an
error response the error is returned, it can be tested with errors.Is
against the types package sentinel errors.
*/
func Decode(data []byte) (MessageBody, error) {
	env := &Envelope{}
	if err := types.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Error != nil {
		if !env.IsResponse {
			return nil, fmt.Errorf("%s request with error", env.Kind)
		}
		return nil, env.Error
	}
	msg, err := newBody(env.Kind, env.IsResponse)
	if err != nil {
		return nil, err
	}
	if err := types.Unmarshal(env.Payload, msg); err != nil {
		return nil, fmt.Errorf("decoding %s message: %w", env.Kind, err)
	}
	return msg, nil
}
