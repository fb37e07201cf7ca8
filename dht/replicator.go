package dht

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/mutualcredit/mcledger/logger"
	"github.com/mutualcredit/mcledger/types"
)

type (
	// Gossip is the one-way messaging used to spread published bundles.
	Gossip interface {
		SendBundle(ctx context.Context, b *Bundle, receivers ...peer.ID) error
		ReceivedBundles() <-chan *Bundle
	}

	/*
	Replicator is a Store which forwards locally published bundles to the
	peers and applies bundles received from them to the local store.
	*/
	Replicator struct {
		store Store
		net   Gossip
		peers func() []peer.ID
		log   *slog.Logger
	}
)

func NewReplicator(store Store, net Gossip, peers func() []peer.ID, log *slog.Logger) *Replicator {
	return &Replicator{store: store, net: net, peers: peers, log: log}
}

/*
Publish stores the bundle locally and sends it to the currently connected
peers. Failure to reach the peers is not an error, the bundle has been
published once it is in the local store.
*/
func (r *Replicator) Publish(ctx context.Context, b *Bundle) error {
	if err := r.store.Publish(ctx, b); err != nil {
		return err
	}
	if receivers := r.peers(); len(receivers) > 0 {
		if err := r.net.SendBundle(ctx, b, receivers...); err != nil {
			r.log.WarnContext(ctx, fmt.Sprintf("replicating bundle to %d peers", len(receivers)), logger.Error(err))
		}
	}
	return nil
}

func (r *Replicator) GetAttestation(ctx context.Context, addr types.Address) (*types.Attestation, error) {
	return r.store.GetAttestation(ctx, addr)
}

func (r *Replicator) GetHeader(ctx context.Context, addr types.Address) (*types.ChainHeader, error) {
	return r.store.GetHeader(ctx, addr)
}

func (r *Replicator) GetLinks(ctx context.Context, base types.Address, typ LinkType) ([]*Link, error) {
	return r.store.GetLinks(ctx, base, typ)
}

/*
Run applies bundles received from the peers until ctx is cancelled. Received
bundles are not forwarded further.
*/
func (r *Replicator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-r.net.ReceivedBundles():
			if !ok {
				return fmt.Errorf("network channel closed")
			}
			if err := r.store.Publish(ctx, b); err != nil {
				r.log.WarnContext(ctx, "applying replicated bundle", logger.Error(err))
			}
		}
	}
}
