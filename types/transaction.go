package types

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrTransactionIsNil   = errors.New("transaction is nil")
	errSameParty          = errors.New("debtor and creditor must be different agents")
	errInvalidAmount      = errors.New("amount must be a positive number")
	errMissingParty       = errors.New("debtor and creditor must be assigned")
	errMissingTimestamp   = errors.New("timestamp must be assigned")
	errNotTransactionPart = fmt.Errorf("agent is neither the debtor nor the creditor: %w", ErrAgentMismatch)
)

/*
Transaction moves Amount of credit from Debtor to Creditor.

Both parties commit their own copy of the same transaction into their chains,
the address of the transaction is derived from its content so both parties
end up with the same address as long as they agree on all the fields.
*/
type Transaction struct {
	_         struct{} `cbor:",toarray"`
	Debtor    Address  `json:"debtor"`
	Creditor  Address  `json:"creditor"`
	Amount    float64  `json:"amount"`
	Timestamp int64    `json:"timestamp"` // unix milliseconds, assigned by the proposer
}

func (tx *Transaction) EntryType() EntryType { return EntryTransaction }

func (tx *Transaction) IsValid() error {
	if tx == nil {
		return ErrTransactionIsNil
	}
	if tx.Debtor == "" || tx.Creditor == "" {
		return errMissingParty
	}
	if tx.Debtor == tx.Creditor {
		return errSameParty
	}
	if !(tx.Amount > 0) || math.IsInf(tx.Amount, 0) {
		return errInvalidAmount
	}
	if tx.Timestamp <= 0 {
		return errMissingTimestamp
	}
	return nil
}

func (tx *Transaction) Address() (Address, error) {
	return AddressOf(tx)
}

// Counterparty returns the other party of the transaction from the point of view of "me".
func (tx *Transaction) Counterparty(me Address) (Address, error) {
	switch me {
	case tx.Debtor:
		return tx.Creditor, nil
	case tx.Creditor:
		return tx.Debtor, nil
	default:
		return "", fmt.Errorf("%s: %w", me.Short(), errNotTransactionPart)
	}
}

func (tx *Transaction) IsParty(agent Address) bool {
	return agent == tx.Debtor || agent == tx.Creditor
}
