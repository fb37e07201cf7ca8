package transactor

import (
	"time"

	"github.com/mutualcredit/mcledger/types"
)

type EventType string

const (
	// EventOfferReceived counterparty has sent us an offer, it is waiting for approval.
	EventOfferReceived EventType = "offer-received"
	// EventOfferCompleted transaction of the offer has been committed and attested by both parties.
	EventOfferCompleted EventType = "offer-completed"
	// EventOfferCanceled offer has been canceled by the counterparty.
	EventOfferCanceled EventType = "offer-canceled"
)

type (
	Event struct {
		EventType          EventType     `json:"type"`
		TransactionAddress types.Address `json:"transactionAddress"`
		Timestamp          time.Time     `json:"timestamp"`
	}

	// EventHandler is called synchronously, it must not block.
	EventHandler func(e *Event)
)
