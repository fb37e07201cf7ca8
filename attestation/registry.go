package attestation

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/mutualcredit/mcledger/chain"
	"github.com/mutualcredit/mcledger/crypto"
	"github.com/mutualcredit/mcledger/dht"
	"github.com/mutualcredit/mcledger/types"
)

type (
	Signer interface {
		SignBytes(data []byte) ([]byte, error)
		Address() types.Address
	}

	/*
	Registry manages the attestations of the local agent: commits them into
	the agent's chain and publishes them (with the links) into the public
	store. It also answers questions about attestations of other agents
	using the public store.
	*/
	Registry struct {
		chain  *chain.Chain
		store  dht.Store
		signer Signer
		now    func() time.Time
	}
)

func New(ch *chain.Chain, store dht.Store, signer Signer) (*Registry, error) {
	switch {
	case ch == nil:
		return nil, errors.New("chain is nil")
	case store == nil:
		return nil, errors.New("public store is nil")
	case signer == nil:
		return nil, errors.New("signer is nil")
	case ch.Author() != signer.Address():
		return nil, fmt.Errorf("chain belongs to %s, not to the signer %s", ch.Author().Short(), signer.Address().Short())
	}
	return &Registry{chain: ch, store: store, signer: signer, now: time.Now}, nil
}

/*
CreateInitial creates the genesis attestation of the agent. When the agent
already has attestations in its chain the genesis is not created again, it
is just (re)published.
*/
func (r *Registry) CreateInitial(ctx context.Context) (*types.Attestation, error) {
	genesis := types.GenesisAttestation(r.signer.Address())
	addr, err := genesis.Address()
	if err != nil {
		return nil, err
	}
	if _, err := r.chain.Get(addr); err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("looking up genesis attestation: %w", err)
		}
		if _, err := r.chain.Commit(genesis); err != nil {
			return nil, fmt.Errorf("committing genesis attestation: %w", err)
		}
	}

	link, err := dht.NewAttestationLink(r.signer.Address(), addr, r.now().UnixMilli(), r.signer)
	if err != nil {
		return nil, fmt.Errorf("creating genesis link: %w", err)
	}
	if err := r.store.Publish(ctx, &dht.Bundle{Attestations: []*types.Attestation{genesis}, Links: []*dht.Link{link}}); err != nil {
		return nil, fmt.Errorf("publishing genesis attestation: %w", err)
	}
	return genesis, nil
}

// QueryMyLast returns the newest attestation in the local chain, nil when there is none.
func (r *Registry) QueryMyLast() (*types.Attestation, types.Address, error) {
	atts, err := r.QueryMine()
	if err != nil || len(atts) == 0 {
		return nil, "", err
	}
	addr, err := atts[0].Address()
	return atts[0], addr, err
}

// QueryMine returns all the attestations in the local chain, newest first.
func (r *Registry) QueryMine() ([]*types.Attestation, error) {
	elements, err := r.chain.Query(types.EntryAttestation)
	if err != nil {
		return nil, fmt.Errorf("querying attestations: %w", err)
	}
	res := make([]*types.Attestation, 0, len(elements))
	for _, el := range elements {
		att := &types.Attestation{}
		if err := types.Unmarshal(el.Entry.Data, att); err != nil {
			return nil, fmt.Errorf("decoding attestation: %w", err)
		}
		res = append(res, att)
	}
	return res, nil
}

/*
LatestFor returns the latest attestation vouching for a transaction of the
"agent" and the number of such attestations.

Only attestations linked to the agent by someone else than the agent itself
count, so the genesis attestation is never counted. When multiple links
qualify the one with the latest timestamp wins.
*/
func (r *Registry) LatestFor(ctx context.Context, agent types.Address) (*types.Attestation, int, error) {
	links, err := r.store.GetLinks(ctx, agent, dht.LinkTypeAgentAttestation)
	if err != nil {
		return nil, 0, fmt.Errorf("loading links of %s: %w", agent.Short(), err)
	}
	targets := map[types.Address]struct{}{}
	var latest *dht.Link
	for _, l := range links {
		if l.IsSelfAuthored() {
			continue
		}
		targets[l.Target] = struct{}{}
		if latest == nil || cmp.Or(cmp.Compare(l.Timestamp, latest.Timestamp), cmp.Compare(l.Target, latest.Target)) > 0 {
			latest = l
		}
	}
	if latest == nil {
		return nil, 0, nil
	}
	att, err := r.store.GetAttestation(ctx, latest.Target)
	if err != nil {
		return nil, 0, fmt.Errorf("loading latest attestation of %s: %w", agent.Short(), err)
	}
	return att, len(targets), nil
}

/*
ValidateTransactionHeaders checks that "headers" are the signed chain
headers of both parties of the transaction "tx".
*/
func ValidateTransactionHeaders(tx *types.Transaction, headers []*types.ChainHeader) error {
	if err := validateTransactionHeaders(tx, headers); err != nil {
		return fmt.Errorf("%w: %w", types.ErrBadTransactionHeader, err)
	}
	return nil
}

func validateTransactionHeaders(tx *types.Transaction, headers []*types.ChainHeader) error {
	if len(headers) != 2 {
		return fmt.Errorf("expected 2 headers, got %d", len(headers))
	}
	txAddr, err := tx.Address()
	if err != nil {
		return err
	}
	for i, h := range headers {
		if h == nil {
			return fmt.Errorf("header %d: %w", i, types.ErrHeaderIsNil)
		}
		if h.EntryType != types.EntryTransaction || h.EntryAddress != txAddr {
			return fmt.Errorf("header %d is not for the transaction %s", i, txAddr.Short())
		}
		if err := types.VerifyHeader(h, crypto.Verify); err != nil {
			return err
		}
	}
	authors := []types.Address{headers[0].Author, headers[1].Author}
	if !slices.Contains(authors, tx.Debtor) || !slices.Contains(authors, tx.Creditor) {
		return fmt.Errorf("headers must be authored by the parties of the transaction: %w", types.ErrAgentMismatch)
	}
	return nil
}

/*
SenderAttestation builds attestation of the "sender" header's author.
The receiver's signature over the snapshot proof preimage is the proof
the transaction was executed on top of the chain state the sender saw.
*/
func SenderAttestation(sender, receiver *types.ChainHeader, previous *types.Address, snapshotProof []byte) (*types.Attestation, error) {
	if sender == nil || receiver == nil {
		return nil, types.ErrHeaderIsNil
	}
	return newAttestation(sender, receiver, previous, types.Role{Kind: types.RoleSender, SnapshotProof: snapshotProof})
}

/*
ReceiverAttestation builds attestation of the "receiver" header's author
referring to the Sender attestation of the same transaction.
*/
func ReceiverAttestation(sender, receiver *types.ChainHeader, previous *types.Address, senderAtt types.Address, senderSig []byte) (*types.Attestation, error) {
	if sender == nil || receiver == nil {
		return nil, types.ErrHeaderIsNil
	}
	att, err := newAttestation(sender, receiver, previous, types.Role{Kind: types.RoleReceiver, SenderAttestation: senderAtt, SenderSignature: senderSig})
	if err != nil {
		return nil, err
	}
	att.Agent = receiver.Author
	att.Proof.Header = types.SignedHeader{Address: receiver.MustAddress(), Signature: receiver.Signature}
	return att, nil
}

func newAttestation(sender, receiver *types.ChainHeader, previous *types.Address, role types.Role) (*types.Attestation, error) {
	senderAddr, err := sender.Address()
	if err != nil {
		return nil, err
	}
	receiverAddr, err := receiver.Address()
	if err != nil {
		return nil, err
	}
	return &types.Attestation{
		Agent:    sender.Author,
		Previous: previous,
		Proof: &types.TransactionProof{
			TransactionAddress: sender.EntryAddress,
			HeaderAddresses:    []types.Address{senderAddr, receiverAddr},
			Header:             types.SignedHeader{Address: senderAddr, Signature: sender.Signature},
			Role:               role,
		},
	}, nil
}

/*
Commit adds own attestation "att" to the local chain and publishes it
together with the transaction headers. The attestation is linked from
every agent in "linkFrom", the links are authored by the local agent.
*/
func (r *Registry) Commit(ctx context.Context, att *types.Attestation, headers []*types.ChainHeader, linkFrom ...types.Address) (types.Address, error) {
	if att.Agent != r.signer.Address() {
		return "", fmt.Errorf("attestation of %s can't be committed by %s: %w", att.Agent.Short(), r.signer.Address().Short(), types.ErrAgentMismatch)
	}
	addr, err := att.Address()
	if err != nil {
		return "", err
	}
	if _, err := r.chain.Get(addr); err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			return "", fmt.Errorf("looking up attestation: %w", err)
		}
		if _, err := r.chain.Commit(att); err != nil {
			return "", fmt.Errorf("committing attestation: %w", err)
		}
	}

	b := &dht.Bundle{Headers: headers, Attestations: []*types.Attestation{att}}
	for _, base := range linkFrom {
		link, err := dht.NewAttestationLink(base, addr, linkTimestamp(base, headers, r.now), r.signer)
		if err != nil {
			return "", fmt.Errorf("creating link: %w", err)
		}
		b.Links = append(b.Links, link)
	}
	if err := r.store.Publish(ctx, b); err != nil {
		return "", fmt.Errorf("publishing attestation: %w", err)
	}
	return addr, nil
}

/*
linkTimestamp returns the timestamp of the base agent's transaction header
so that the links of an agent are ordered the same way as the transactions
in the agent's chain. When the base has no header among "headers" current
time is used.
*/
func linkTimestamp(base types.Address, headers []*types.ChainHeader, now func() time.Time) int64 {
	for _, h := range headers {
		if h != nil && h.Author == base {
			return h.Timestamp
		}
	}
	return now().UnixMilli()
}

/*
ExistingProof reconstructs the proof of completed transaction from the
published Sender attestation "addr" (Receiver attestation is resolved to
the Sender attestation it refers to).
*/
func (r *Registry) ExistingProof(ctx context.Context, addr types.Address) (*types.TransactionCompletedProof, error) {
	att, err := r.store.GetAttestation(ctx, addr)
	if err != nil {
		return nil, err
	}
	if att.IsGenesis() {
		return nil, fmt.Errorf("attestation %s is genesis, not a transaction proof", addr.Short())
	}
	if att.Proof.Role.Kind == types.RoleReceiver {
		return r.ExistingProof(ctx, att.Proof.Role.SenderAttestation)
	}

	proof := &types.TransactionCompletedProof{
		Attestation:   addr,
		SnapshotProof: att.Proof.Role.SnapshotProof,
	}
	for _, ha := range att.Proof.HeaderAddresses {
		h, err := r.store.GetHeader(ctx, ha)
		if err != nil {
			return nil, fmt.Errorf("loading transaction header: %w", err)
		}
		proof.Headers = append(proof.Headers, h)
	}
	return proof, nil
}
