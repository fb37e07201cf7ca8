package attestation

import (
	"context"
	"fmt"

	"github.com/mutualcredit/mcledger/dht"
	"github.com/mutualcredit/mcledger/types"
)

/*
PublicRecords returns the records of the public store the attestation
count of the "agent" is based on: the links from the agent, the attestations
they point to and the transaction headers of those attestations.

Agents hand their records over with the chain snapshot so that the
counterparty can validate the snapshot even when it hasn't received the
records by replication.
*/
func (r *Registry) PublicRecords(ctx context.Context, agent types.Address) (*dht.Bundle, error) {
	links, err := r.store.GetLinks(ctx, agent, dht.LinkTypeAgentAttestation)
	if err != nil {
		return nil, fmt.Errorf("loading links of %s: %w", agent.Short(), err)
	}
	rb := newRecordsBuilder(r.store)
	for _, l := range links {
		if err := rb.addAttestation(ctx, l.Target); err != nil {
			return nil, err
		}
		rb.b.Links = append(rb.b.Links, l)
	}
	return rb.b, nil
}

/*
AttestationRecords returns the attestation "addr" with its transaction
headers and the links pointing to it from the agents "bases".
*/
func (r *Registry) AttestationRecords(ctx context.Context, addr types.Address, bases ...types.Address) (*dht.Bundle, error) {
	rb := newRecordsBuilder(r.store)
	if err := rb.addAttestation(ctx, addr); err != nil {
		return nil, err
	}
	for _, base := range bases {
		links, err := r.store.GetLinks(ctx, base, dht.LinkTypeAgentAttestation)
		if err != nil {
			return nil, fmt.Errorf("loading links of %s: %w", base.Short(), err)
		}
		for _, l := range links {
			if l.Target == addr {
				rb.b.Links = append(rb.b.Links, l)
			}
		}
	}
	return rb.b, nil
}

type recordsBuilder struct {
	store dht.Store
	b     *dht.Bundle
	seen  map[types.Address]struct{}
}

func newRecordsBuilder(store dht.Store) *recordsBuilder {
	return &recordsBuilder{store: store, b: &dht.Bundle{}, seen: map[types.Address]struct{}{}}
}

func (rb *recordsBuilder) addAttestation(ctx context.Context, addr types.Address) error {
	if _, ok := rb.seen[addr]; ok {
		return nil
	}
	att, err := rb.store.GetAttestation(ctx, addr)
	if err != nil {
		return err
	}
	rb.seen[addr] = struct{}{}
	rb.b.Attestations = append(rb.b.Attestations, att)
	if att.IsGenesis() {
		return nil
	}
	for _, ha := range att.Proof.HeaderAddresses {
		if _, ok := rb.seen[ha]; ok {
			continue
		}
		h, err := rb.store.GetHeader(ctx, ha)
		if err != nil {
			return fmt.Errorf("loading transaction header: %w", err)
		}
		rb.seen[ha] = struct{}{}
		rb.b.Headers = append(rb.b.Headers, h)
	}
	return nil
}
