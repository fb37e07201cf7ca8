package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mutualcredit/mcledger/logger"
	"github.com/mutualcredit/mcledger/types"
)

type (
	// Requester sends request to an agent and returns its response.
	Requester interface {
		Request(ctx context.Context, to types.Address, data []byte) ([]byte, error)
	}

	// Handler processes messages received from other agents.
	Handler interface {
		Handle(ctx context.Context, from types.Address, msg MessageBody) (MessageBody, error)
	}
)

/*
Call sends the request "req" to the agent "to" and returns the response of
the same kind. Failure to reach the agent is reported as
types.ErrCounterpartyUnreachable.
*/
func Call[T MessageBody](ctx context.Context, r Requester, to types.Address, req MessageBody) (T, error) {
	var zero T
	data, err := Encode(req)
	if err != nil {
		return zero, err
	}
	rsp, err := r.Request(ctx, to, data)
	if err != nil {
		if !errors.Is(err, types.ErrTransport) {
			err = fmt.Errorf("%w: %w", types.ErrCounterpartyUnreachable, err)
		}
		return zero, fmt.Errorf("sending %s request: %w", req.Kind(), err)
	}
	msg, err := Decode(rsp)
	if err != nil {
		return zero, err
	}
	res, ok := msg.(T)
	if !ok || msg.Kind() != req.Kind() {
		return zero, fmt.Errorf("unexpected response %T to %s request", msg, req.Kind())
	}
	return res, nil
}

/*
Serve decodes request "data" received from the agent "from", passes it to
the handler and returns the encoded response. Handler errors are encoded as
error responses.
*/
func Serve(ctx context.Context, h Handler, from types.Address, data []byte, log *slog.Logger) []byte {
	kind, rsp, err := serve(ctx, h, from, data)
	if err != nil {
		log.DebugContext(ctx, fmt.Sprintf("%s request from %s failed", kind, from.Short()), logger.Error(err))
		if rsp, err = EncodeError(kind, err); err != nil {
			log.ErrorContext(ctx, "encoding error response", logger.Error(err))
		}
	}
	return rsp
}

func serve(ctx context.Context, h Handler, from types.Address, data []byte) (Kind, []byte, error) {
	msg, err := Decode(data)
	if err != nil {
		return "", nil, err
	}
	if IsResponse(msg) {
		return msg.Kind(), nil, fmt.Errorf("expected request, got %s response", msg.Kind())
	}
	rsp, err := h.Handle(ctx, from, msg)
	if err != nil {
		return msg.Kind(), nil, err
	}
	if rsp == nil || !IsResponse(rsp) || rsp.Kind() != msg.Kind() {
		return msg.Kind(), nil, fmt.Errorf("handler returned invalid response %T to %s request", rsp, msg.Kind())
	}
	b, err := Encode(rsp)
	return msg.Kind(), b, err
}
