package transactor

import (
	"fmt"

	"github.com/mutualcredit/mcledger/credit"
	"github.com/mutualcredit/mcledger/types"
)

type (
	TransactionItem struct {
		Address     types.Address      `json:"address"`
		Transaction *types.Transaction `json:"transaction"`
	}

	OfferItem struct {
		Address types.Address `json:"transactionAddress"`
		Offer   *types.Offer  `json:"offer"`
	}

	AttestationItem struct {
		Address     types.Address      `json:"address"`
		Attestation *types.Attestation `json:"attestation"`
	}
)

// QueryMyBalance returns the sum of the committed transactions of the local agent.
func (a *Agent) QueryMyBalance() (float64, error) {
	txs, err := a.myTransactions()
	if err != nil {
		return 0, err
	}
	return credit.Balance(a.self, txs), nil
}

// QueryMyTransactions returns the transactions committed into the local chain, newest first.
func (a *Agent) QueryMyTransactions() ([]*TransactionItem, error) {
	txs, err := a.myTransactions()
	if err != nil {
		return nil, err
	}
	res := make([]*TransactionItem, 0, len(txs))
	for _, tx := range txs {
		addr, err := tx.Address()
		if err != nil {
			return nil, err
		}
		res = append(res, &TransactionItem{Address: addr, Transaction: tx})
	}
	return res, nil
}

// QueryOffer returns the current version of the offer of the transaction "txAddr".
func (a *Agent) QueryOffer(txAddr types.Address) (*types.Offer, error) {
	offer, _, err := a.loadOffer(txAddr)
	return offer, err
}

// QueryMyOffers returns the current versions of all offers, the most recently changed first.
func (a *Agent) QueryMyOffers() ([]*OfferItem, error) {
	elements, err := a.chain.Query(types.EntryOffer)
	if err != nil {
		return nil, fmt.Errorf("querying offers: %w", err)
	}
	seen := map[types.Address]struct{}{}
	var res []*OfferItem
	for _, el := range elements {
		offer := &types.Offer{}
		if err := types.Unmarshal(el.Entry.Data, offer); err != nil {
			return nil, fmt.Errorf("decoding offer: %w", err)
		}
		txAddr, err := offer.TransactionAddress()
		if err != nil {
			return nil, err
		}
		// elements are newest first, older versions of the offer follow
		if _, ok := seen[txAddr]; ok {
			continue
		}
		seen[txAddr] = struct{}{}
		res = append(res, &OfferItem{Address: txAddr, Offer: offer})
	}
	return res, nil
}

// QueryMyAttestations returns the attestations of the local agent, newest first.
func (a *Agent) QueryMyAttestations() ([]*AttestationItem, error) {
	atts, err := a.registry.QueryMine()
	if err != nil {
		return nil, err
	}
	res := make([]*AttestationItem, 0, len(atts))
	for _, att := range atts {
		addr, err := att.Address()
		if err != nil {
			return nil, err
		}
		res = append(res, &AttestationItem{Address: addr, Attestation: att})
	}
	return res, nil
}
