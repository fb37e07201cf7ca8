package types

import (
	"errors"
	"fmt"
)

// Error taxonomy of the ledger. Callers check errors with errors.Is, the
// wrapping message carries the details.
var (
	// ErrInvalidState operation is not allowed in the current offer state.
	ErrInvalidState = errors.New("invalid offer state")
	// ErrAgentMismatch sender or counterparty identity does not match the transaction.
	ErrAgentMismatch = errors.New("agent mismatch")
	// ErrForkDetected chain anchor moved, hash chain is broken or the history
	// doesn't match public attestations. Transaction must be re-negotiated.
	ErrForkDetected = errors.New("fork detected")
	// ErrSignatureInvalid cryptographic verification failed.
	ErrSignatureInvalid = errors.New("invalid signature")
	// ErrTransport counterparty could not be reached.
	ErrTransport = errors.New("transport error")
	// ErrOfferCanceled counterparty has canceled the offer.
	ErrOfferCanceled = errors.New("offer was canceled")
	// ErrBadTransactionHeader counterparty's transaction header failed validation.
	ErrBadTransactionHeader = errors.New("bad transaction header")
	// ErrNotFound requested entry doesn't exist.
	ErrNotFound = errors.New("not found")
)

var (
	ErrBadChainHeader          = fmt.Errorf("bad chain header: %w", ErrForkDetected)
	ErrBadChainSnapshot        = fmt.Errorf("bad chain snapshot: %w", ErrForkDetected)
	ErrHeaderMoved             = fmt.Errorf("last header has changed: %w", ErrForkDetected)
	ErrCounterpartyUnreachable = fmt.Errorf("counterparty is unreachable: %w", ErrTransport)
)
