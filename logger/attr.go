package logger

import (
	"log/slog"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/mutualcredit/mcledger/types"
)

/*
Keys of the attributes shared by the packages of the ledger node, use the
constructor functions below instead of the keys directly.
*/
const (
	NodeIDKey = "node_id"
	ErrorKey  = "err"
	TxKey     = "tx_address"
	AgentKey  = "agent"
	DataKey   = "data"

	traceID = "TraceId" // OTEL data model
	spanID  = "SpanId"  // OTEL data model
)

/*
NodeID identifies the ledger node (ie the local agent) in the log.

Use it with logger.With to create the sub-logger of the node once rather than
adding it to every logging call.
*/
func NodeID(id peer.ID) slog.Attr {
	return slog.Any(NodeIDKey, id)
}

// Error adds "err" to the log record.
func Error(err error) slog.Attr {
	return slog.Any(ErrorKey, err)
}

/*
Data adds a value which is rendered as JSON by the text handler. Do not use
slog.GroupValue or anonymous types as the data.
*/
func Data(d any) slog.Attr {
	return slog.Any(DataKey, d)
}

// TxAddress is the address of the transaction (and so of the offer) the record is about.
func TxAddress(addr types.Address) slog.Attr {
	return slog.String(TxKey, addr.String())
}

/*
Agent is the address of the counterparty, own address is part of the
node sub-logger (see NodeID).
*/
func Agent(addr types.Address) slog.Attr {
	return slog.String(AgentKey, addr.String())
}
