package credit

import (
	"github.com/mutualcredit/mcledger/types"
)

// DefaultCreditLimit is the lowest balance an agent may reach.
const DefaultCreditLimit = -100

type (
	// Limiter returns the credit limit of the agent, ok is false when the
	// agent has no limit.
	Limiter interface {
		CreditLimit(agent types.Address) (limit float64, ok bool)
	}

	// FixedLimit applies the same limit to every agent.
	FixedLimit float64

	NoLimit struct{}
)

func (l FixedLimit) CreditLimit(types.Address) (float64, bool) {
	return float64(l), true
}

func (NoLimit) CreditLimit(types.Address) (float64, bool) {
	return 0, false
}

/*
Balance of the "agent" according to the transaction list: sum of amounts
where agent is the creditor minus sum of amounts where agent is the debtor.
Transactions where the agent is not a party are ignored.
*/
func Balance(agent types.Address, txs []*types.Transaction) float64 {
	var balance float64
	for _, tx := range txs {
		switch agent {
		case tx.Creditor:
			balance += tx.Amount
		case tx.Debtor:
			balance -= tx.Amount
		}
	}
	return balance
}

// WithinCreditLimit returns false when agent's balance is below its credit limit.
func WithinCreditLimit(limiter Limiter, agent types.Address, txs []*types.Transaction) bool {
	limit, ok := limiter.CreditLimit(agent)
	if !ok {
		return true
	}
	return Balance(agent, txs) >= limit
}
