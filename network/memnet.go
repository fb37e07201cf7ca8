package network

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/mutualcredit/mcledger/types"
)

/*
MemNet is in-process network of agents, requests are delivered by calling
the handler of the receiver synchronously. Agents can be taken offline to
simulate counterparty which is unreachable.
*/
type MemNet struct {
	mu       sync.RWMutex
	handlers map[types.Address]RequestHandler
	offline  map[types.Address]bool
}

func NewMemNet() *MemNet {
	return &MemNet{
		handlers: make(map[types.Address]RequestHandler),
		offline:  make(map[types.Address]bool),
	}
}

// Join registers handler for the requests sent to agent "addr".
func (n *MemNet) Join(addr types.Address, h RequestHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[addr] = h
}

// SetOffline controls whether the agent can send and receive requests.
func (n *MemNet) SetOffline(addr types.Address, offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline[addr] = offline
}

// Requester returns requester for sending requests as agent "from".
func (n *MemNet) Requester(from types.Address) *MemRequester {
	return &MemRequester{net: n, from: from}
}

func (n *MemNet) handler(from, to types.Address) (RequestHandler, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.offline[from] {
		return nil, fmt.Errorf("%w: agent %s is offline", types.ErrCounterpartyUnreachable, from.Short())
	}
	if n.offline[to] {
		return nil, fmt.Errorf("%w: agent %s is offline", types.ErrCounterpartyUnreachable, to.Short())
	}
	h, ok := n.handlers[to]
	if !ok {
		return nil, fmt.Errorf("%w: unknown agent %s", types.ErrCounterpartyUnreachable, to.Short())
	}
	return h, nil
}

type MemRequester struct {
	net  *MemNet
	from types.Address
}

func (r *MemRequester) Request(ctx context.Context, to types.Address, data []byte) ([]byte, error) {
	h, err := r.net.handler(r.from, to)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrCounterpartyUnreachable, err)
	}
	// handler must not share memory with the caller
	rsp := h(ctx, r.from, bytes.Clone(data))
	if len(rsp) == 0 {
		return nil, fmt.Errorf("%w: empty response", types.ErrCounterpartyUnreachable)
	}
	return bytes.Clone(rsp), nil
}
