package types

/*
TransactionCompletedProof is the evidence both parties have committed the
transaction: signed chain headers of both parties (sender of the attestation
first) and the debtor's snapshot proof signature.
*/
type TransactionCompletedProof struct {
	_             struct{}       `cbor:",toarray"`
	Attestation   Address        `json:"attestationAddress"`
	Headers       []*ChainHeader `json:"headers"`
	SnapshotProof Bytes          `json:"snapshotProof"`
}

// ChainElement is a header with its entry as committed to a source chain.
type ChainElement struct {
	_      struct{}     `cbor:",toarray"`
	Header *ChainHeader `json:"header"`
	Entry  *RawEntry    `json:"entry"`
}
