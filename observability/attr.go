package observability

import (
	"errors"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mutualcredit/mcledger/types"
)

const TxAddressKey attribute.Key = "tx.address"
const MsgKindKey attribute.Key = "msg.kind"
const NodeIDKey attribute.Key = "service.node.name" // ECS convention

func TxAddress(addr types.Address) attribute.KeyValue {
	return TxAddressKey.String(addr.String())
}

func MsgKind(kind string) attribute.KeyValue {
	return MsgKindKey.String(kind)
}

func PeerID(key attribute.Key, id peer.ID) attribute.KeyValue {
	return key.String(id.String())
}

/*
ErrStatus returns attribute named "status" with value "ok" if the param
err is nil and "err" when it is not.
*/
func ErrStatus(err error) attribute.KeyValue {
	status := "ok"
	if err != nil {
		status = "err"
	}
	return attribute.String("status", status)
}

/*
OutcomeStatus is like ErrStatus but classifies protocol errors, so that
metrics show why offers fail.
*/
func OutcomeStatus(err error) attribute.KeyValue {
	var status string
	switch {
	case err == nil:
		status = "ok"
	case errors.Is(err, types.ErrForkDetected):
		status = "fork"
	case errors.Is(err, types.ErrOfferCanceled):
		status = "canceled"
	case errors.Is(err, types.ErrTransport):
		status = "transport"
	case errors.Is(err, types.ErrInvalidState):
		status = "state"
	case errors.Is(err, types.ErrAgentMismatch), errors.Is(err, types.ErrSignatureInvalid), errors.Is(err, types.ErrBadTransactionHeader):
		status = "invalid"
	default:
		status = "err"
	}
	return attribute.String("status", status)
}
