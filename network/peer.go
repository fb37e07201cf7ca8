package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/libp2p/go-libp2p"
	kaddht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/libp2p/go-libp2p/p2p/host/peerstore/pstoremem"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/prometheus/client_golang/prometheus"

	mcrypto "github.com/mutualcredit/mcledger/crypto"
	"github.com/mutualcredit/mcledger/types"
)

const defaultListenAddress = "/ip4/0.0.0.0/tcp/0"

var ErrPeerConfigurationIsNil = errors.New("peer configuration is nil")

type (
	/*
	PeerConfiguration of the libp2p host of the agent. The agent signing key is
	also the identity of the host, so the peer ID decodes to the agent address.
	*/
	PeerConfiguration struct {
		Key            crypto.PrivKey
		ListenAddress  string          // libp2p multiaddress, defaults to all interfaces and random port
		AnnounceAddrs  []ma.Multiaddr  // when set replaces the listen addresses announced to other peers
		BootstrapPeers []peer.AddrInfo // seed nodes of the DHT
	}

	// Peer is the agent node in the p2p network, wrapper around libp2p host.Host.
	Peer struct {
		host host.Host
		conf *PeerConfiguration
		dht  *kaddht.IpfsDHT
	}
)

/*
NewPeerConfiguration validates the addresses given as strings. Bootstrap
addresses must include the peer ID, ie "/ip4/.../tcp/.../p2p/<id>".
*/
func NewPeerConfiguration(key crypto.PrivKey, listenAddr string, announceAddrs, bootstrapAddrs []string) (*PeerConfiguration, error) {
	if key == nil {
		return nil, errors.New("private key is nil")
	}
	if key.Type() != crypto.Secp256k1 {
		return nil, fmt.Errorf("unsupported key type %s", key.Type())
	}

	conf := &PeerConfiguration{Key: key, ListenAddress: listenAddr}
	for _, s := range announceAddrs {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid announce address %q: %w", s, err)
		}
		conf.AnnounceAddrs = append(conf.AnnounceAddrs, addr)
	}
	var err error
	if conf.BootstrapPeers, err = ParseBootstrapPeers(bootstrapAddrs); err != nil {
		return nil, err
	}
	return conf, nil
}

/*
NewPeer starts libp2p host with the Kademlia DHT as the peer router so that
agents can be dialed knowing only their address. Host metrics are registered
with "prom" when it is not nil.
*/
func NewPeer(ctx context.Context, conf *PeerConfiguration, log *slog.Logger, prom prometheus.Registerer) (*Peer, error) {
	if conf == nil {
		return nil, ErrPeerConfigurationIsNil
	}
	if conf.Key == nil {
		return nil, errors.New("private key is nil")
	}
	listenAddr := conf.ListenAddress
	if listenAddr == "" {
		listenAddr = defaultListenAddress
	}
	ps, err := pstoremem.NewPeerstore()
	if err != nil {
		return nil, fmt.Errorf("creating peerstore: %w", err)
	}

	var kdht *kaddht.IpfsDHT
	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.Identity(conf.Key),
		libp2p.Peerstore(ps),
		libp2p.Routing(func(h host.Host) (routing.PeerRouting, error) {
			kdht, err = newDHT(ctx, h, conf.BootstrapPeers, log)
			return kdht, err
		}),
		libp2p.Ping(true),
	}
	if prom != nil {
		opts = append(opts, libp2p.PrometheusRegisterer(prom))
	}
	if len(conf.AnnounceAddrs) > 0 {
		opts = append(opts, libp2p.AddrsFactory(func([]ma.Multiaddr) []ma.Multiaddr {
			// callers may modify the returned slice
			return append([]ma.Multiaddr(nil), conf.AnnounceAddrs...)
		}))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	if err := kdht.Bootstrap(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("bootstrapping DHT: %w", err), h.Close())
	}
	log.DebugContext(ctx, fmt.Sprintf("peer %s listening on %v, bootstrap peers %v", h.ID(), h.Addrs(), conf.BootstrapPeers))

	return &Peer{host: h, conf: conf, dht: kdht}, nil
}

func (p *Peer) ID() peer.ID {
	return p.host.ID()
}

// AgentAddress returns the ledger address of the agent running the peer.
func (p *Peer) AgentAddress() types.Address {
	return mcrypto.AgentAddress(p.ID())
}

// MultiAddresses the peer is reachable on.
func (p *Peer) MultiAddresses() []ma.Multiaddr {
	return p.host.Addrs()
}

func (p *Peer) Network() network.Network {
	return p.host.Network()
}

// BootstrapPeers returns the seed nodes the peer was configured with.
func (p *Peer) BootstrapPeers() []peer.AddrInfo {
	return p.conf.BootstrapPeers
}

// ConnectedPeers returns IDs of the peers we currently have open connection with.
func (p *Peer) ConnectedPeers() []peer.ID {
	return p.host.Network().Peers()
}

// Connect adds the addresses of the peer into peerstore and dials it.
func (p *Peer) Connect(ctx context.Context, info peer.AddrInfo) error {
	if info.ID == p.ID() {
		return nil
	}
	p.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
	return p.host.Connect(ctx, info)
}

func (p *Peer) RegisterProtocolHandler(protocolID string, handler network.StreamHandler) {
	p.host.SetStreamHandler(protocol.ID(protocolID), handler)
}

// CreateStream opens a new stream of protocol "protocolID" to the peer "to".
func (p *Peer) CreateStream(ctx context.Context, to peer.ID, protocolID string) (network.Stream, error) {
	return p.host.NewStream(ctx, to, protocol.ID(protocolID))
}

// Close shuts down the DHT and the libp2p host.
func (p *Peer) Close() error {
	var errs []error
	if err := p.dht.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing the DHT: %w", err))
	}
	if err := p.host.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing the host: %w", err))
	}
	return errors.Join(errs...)
}
