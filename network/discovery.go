package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	kaddht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/mutualcredit/mcledger/logger"
)

const (
	dhtProtocolPrefix = "/mcledger/kad/0.1.0"

	// RendezvousTopic is advertised by every ledger node so that the nodes
	// find each other via the DHT.
	RendezvousTopic = "mcledger/agents/0.1.0"
)

// ParseBootstrapPeers converts "/ip4/.../tcp/.../p2p/<id>" strings into peer address infos.
func ParseBootstrapPeers(addrs []string) ([]peer.AddrInfo, error) {
	var res []peer.AddrInfo
	for _, s := range addrs {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid bootstrap address %q: %w", s, err)
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid bootstrap address %q: %w", s, err)
		}
		res = append(res, *info)
	}
	return res, nil
}

func newDHT(ctx context.Context, h host.Host, bootstrapPeers []peer.AddrInfo, log *slog.Logger) (*kaddht.IpfsDHT, error) {
	kdht, err := kaddht.New(ctx, h,
		kaddht.ProtocolPrefix(dhtProtocolPrefix),
		kaddht.BootstrapPeers(bootstrapPeers...),
		kaddht.Mode(kaddht.ModeServer),
	)
	if err != nil {
		return nil, fmt.Errorf("creating DHT: %w", err)
	}
	rt := kdht.RoutingTable()
	added, removed := rt.PeerAdded, rt.PeerRemoved
	rt.PeerAdded = func(id peer.ID) {
		added(id)
		log.DebugContext(ctx, fmt.Sprintf("peer %s added to routing table", id))
	}
	rt.PeerRemoved = func(id peer.ID) {
		removed(id)
		log.DebugContext(ctx, fmt.Sprintf("peer %s removed from routing table", id))
	}
	return kdht, nil
}

/*
BootstrapConnect dials all the bootstrap peers concurrently. It is an error
only when none of the bootstrap peers could be reached.
*/
func (p *Peer) BootstrapConnect(ctx context.Context, log *slog.Logger) error {
	seeds := p.conf.BootstrapPeers
	if len(seeds) == 0 {
		return nil
	}

	errs := make([]error, len(seeds))
	var wg sync.WaitGroup
	for i, info := range seeds {
		wg.Add(1)
		go func(i int, info peer.AddrInfo) {
			defer wg.Done()
			if errs[i] = p.Connect(ctx, info); errs[i] != nil {
				log.WarnContext(ctx, fmt.Sprintf("dialing bootstrap peer %s", info.ID), logger.Error(errs[i]))
			}
		}(i, info)
	}
	wg.Wait()

	if !slices.Contains(errs, nil) {
		return fmt.Errorf("failed to bootstrap: %w", errors.Join(errs...))
	}
	return p.dht.Bootstrap(ctx)
}

// Advertise announces via the DHT that the peer participates in the "topic".
func (p *Peer) Advertise(ctx context.Context, topic string) error {
	_, err := drouting.NewRoutingDiscovery(p.dht).Advertise(ctx, topic)
	return err
}

// Discover returns the peers which have advertised the "topic".
func (p *Peer) Discover(ctx context.Context, topic string) (<-chan peer.AddrInfo, error) {
	return drouting.NewRoutingDiscovery(p.dht).FindPeers(ctx, topic)
}

/*
DiscoverAndConnect advertises the rendezvous topic and connects to the agents
found under it. Returns number of new connections.
*/
func (p *Peer) DiscoverAndConnect(ctx context.Context, log *slog.Logger) (int, error) {
	if err := p.Advertise(ctx, RendezvousTopic); err != nil {
		return 0, fmt.Errorf("advertising rendezvous topic: %w", err)
	}
	found, err := p.Discover(ctx, RendezvousTopic)
	if err != nil {
		return 0, fmt.Errorf("discovering agents: %w", err)
	}
	cnt := 0
	for info := range found {
		if info.ID == p.ID() || p.host.Network().Connectedness(info.ID) == network.Connected {
			continue
		}
		if err := p.Connect(ctx, info); err != nil {
			log.DebugContext(ctx, fmt.Sprintf("connecting to discovered agent %s", info.ID), logger.Error(err))
			continue
		}
		cnt++
	}
	return cnt, nil
}
