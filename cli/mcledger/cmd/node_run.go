package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ainvaltin/httpsrv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mutualcredit/mcledger/chain"
	"github.com/mutualcredit/mcledger/credit"
	"github.com/mutualcredit/mcledger/dht"
	"github.com/mutualcredit/mcledger/keyvaluedb/boltdb"
	"github.com/mutualcredit/mcledger/logger"
	"github.com/mutualcredit/mcledger/network"
	"github.com/mutualcredit/mcledger/rpc"
	"github.com/mutualcredit/mcledger/transactor"
)

const (
	chainDBFileName = "chain.db"
	storeDBFileName = "store.db"

	defaultP2PAddress  = "/ip4/127.0.0.1/tcp/26652"
	defaultRESTAddress = "localhost:26866"
)

type nodeRunFlags struct {
	*rootConfig
	keys *keysConfig

	// p2p
	Address            string
	AnnounceAddresses  []string
	BootstrapAddresses []string
	RequestTimeout     time.Duration
	DiscoveryInterval  time.Duration

	rest rpc.ServerConfiguration

	ChainDBFile   string
	StoreDBFile   string
	CreditLimit   float64
	NoCreditLimit bool
}

func newNodeRunCmd(conf *rootConfig) *cobra.Command {
	flags := &nodeRunFlags{rootConfig: conf, keys: newKeysConf(conf)}
	var cmd = &cobra.Command{
		Use:   "run",
		Short: "Starts the ledger node of the agent",
		Long:  `Starts the ledger node: joins the p2p network of agents, serves offers of other agents and the REST API of the local agent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return nodeRun(cmd.Context(), flags)
		},
	}

	flags.keys.addCmdFlags(cmd)
	cmd.Flags().StringVar(&flags.Address, "address", defaultP2PAddress, "address in libp2p multiaddress-format")
	cmd.Flags().StringSliceVar(&flags.AnnounceAddresses, "announce-addresses", nil, "list of multiaddresses to announce to other peers, overrides the listen addresses")
	cmd.Flags().StringSliceVar(&flags.BootstrapAddresses, "bootstrap-addresses", nil, `comma separated list of bootstrap peers, in the form "/ip4/<host>/tcp/<port>/p2p/<peer id>"`)
	cmd.Flags().DurationVar(&flags.RequestTimeout, "request-timeout", network.DefaultAgentNetworkOptions.RequestTimeout, "how long to wait for the response of the counterparty")
	cmd.Flags().DurationVar(&flags.DiscoveryInterval, "discovery-interval", time.Minute, "how often to look for other agents in the network")

	cmd.Flags().StringVar(&flags.rest.Address, "rest-address", defaultRESTAddress, "address the REST server listens on, REST server is disabled when empty")
	cmd.Flags().DurationVar(&flags.rest.ReadTimeout, "rest-read-timeout", 3*time.Second, "maximum duration for reading the entire REST request, including the body")
	cmd.Flags().DurationVar(&flags.rest.ReadHeaderTimeout, "rest-read-header-timeout", time.Second, "amount of time allowed to read REST request headers")
	cmd.Flags().DurationVar(&flags.rest.WriteTimeout, "rest-write-timeout", time.Minute, "maximum duration before timing out writes of the REST response")
	cmd.Flags().DurationVar(&flags.rest.IdleTimeout, "rest-idle-timeout", 30*time.Second, "maximum amount of time to wait for the next REST request when keep-alive is enabled")
	cmd.Flags().Int64Var(&flags.rest.MaxBodyBytes, "rest-max-body", rpc.DefaultMaxBodyBytes, "maximum number of bytes the REST server will read parsing the request body")

	cmd.Flags().StringVar(&flags.ChainDBFile, "chain-db", "", fmt.Sprintf("path to the chain database (default %s)", filepath.Join("$MCL_HOME", chainDBFileName)))
	cmd.Flags().StringVar(&flags.StoreDBFile, "store-db", "", fmt.Sprintf("path to the public store database (default %s)", filepath.Join("$MCL_HOME", storeDBFileName)))
	cmd.Flags().Float64Var(&flags.CreditLimit, "credit-limit", credit.DefaultCreditLimit, "lowest balance the counterparties (and the agent itself) may reach")
	cmd.Flags().BoolVar(&flags.NoCreditLimit, "no-credit-limit", false, "do not limit the balance of the agents")
	return cmd
}

func (f *nodeRunFlags) limiter() credit.Limiter {
	if f.NoCreditLimit {
		return credit.NoLimit{}
	}
	return credit.FixedLimit(f.CreditLimit)
}

// nodeObservability replaces the logger of the Observability.
type nodeObservability struct {
	Observability
	log *slog.Logger
}

func (o nodeObservability) Logger() *slog.Logger { return o.log }

func nodeRun(ctx context.Context, flags *nodeRunFlags) error {
	if flags.DiscoveryInterval <= 0 {
		return fmt.Errorf("discovery interval must be positive, got %s", flags.DiscoveryInterval)
	}
	keys, err := flags.keys.load()
	if err != nil {
		return err
	}
	log := flags.observe.Logger().With(logger.NodeID(keys.Signer.PeerID()))
	obs := nodeObservability{Observability: flags.observe, log: log}

	chainDB, err := boltdb.New(flags.pathInHome(flags.ChainDBFile, chainDBFileName))
	if err != nil {
		return fmt.Errorf("opening chain database: %w", err)
	}
	defer chainDB.Close()
	storeDB, err := boltdb.New(flags.pathInHome(flags.StoreDBFile, storeDBFileName))
	if err != nil {
		return fmt.Errorf("opening public store database: %w", err)
	}
	defer storeDB.Close()

	ch, err := chain.New(chainDB, keys.Signer)
	if err != nil {
		return fmt.Errorf("loading chain: %w", err)
	}
	kvStore, err := dht.NewKVStore(storeDB)
	if err != nil {
		return fmt.Errorf("creating public store: %w", err)
	}

	peer, err := createPeer(ctx, flags, keys, obs)
	if err != nil {
		return err
	}
	defer func() {
		if err := peer.Close(); err != nil {
			log.Warn("closing peer", logger.Error(err))
		}
	}()

	netOpts := network.DefaultAgentNetworkOptions
	netOpts.RequestTimeout = flags.RequestTimeout
	net, err := network.NewLibP2PAgentNetwork(peer, netOpts, obs)
	if err != nil {
		return fmt.Errorf("creating agent network: %w", err)
	}
	store := dht.NewReplicator(kvStore, net, net.Peers, log)

	agent, err := transactor.New(ctx, keys.Signer, ch, store, net, obs,
		transactor.WithCreditLimit(flags.limiter()),
		transactor.WithEventHandler(func(e *transactor.Event) {
			log.Info(fmt.Sprintf("offer event %s", e.EventType), logger.TxAddress(e.TransactionAddress))
		}),
	)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}
	net.Handle(agent.ServeRequest)

	log.InfoContext(ctx, fmt.Sprintf("starting ledger node of agent %s, addresses %v", agent.Address(), peer.MultiAddresses()))
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return store.Run(ctx) })

	g.Go(func() error { return discoverAgents(ctx, peer, flags.DiscoveryInterval, log) })

	g.Go(func() error {
		if flags.rest.IsAddressEmpty() {
			return nil // return nil in this case in order not to kill the group!
		}
		server := rpc.NewHTTPServer(&flags.rest, obs,
			rpc.AgentEndpoints(agent, log),
			rpc.InfoEndpoints(peer, log),
			rpc.MetricsEndpoints(obs.MetricsHandler()),
		)
		log.InfoContext(ctx, fmt.Sprintf("REST server starting on %s", server.Addr))
		return httpsrv.Run(ctx, *server, httpsrv.ShutdownTimeout(5*time.Second))
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createPeer(ctx context.Context, flags *nodeRunFlags, keys *Keys, obs nodeObservability) (*network.Peer, error) {
	peerConf, err := network.NewPeerConfiguration(keys.Signer.PrivateKey(), flags.Address, flags.AnnounceAddresses, flags.BootstrapAddresses)
	if err != nil {
		return nil, fmt.Errorf("creating peer configuration: %w", err)
	}
	peer, err := network.NewPeer(ctx, peerConf, obs.Logger(), obs.PrometheusRegisterer())
	if err != nil {
		return nil, fmt.Errorf("creating peer: %w", err)
	}
	return peer, nil
}

/*
discoverAgents connects to the bootstrap peers and then periodically looks for
other agents in the network until ctx is cancelled. Failures are logged, the node
keeps serving the agents which are already connected.
*/
func discoverAgents(ctx context.Context, peer *network.Peer, interval time.Duration, log *slog.Logger) error {
	if err := peer.BootstrapConnect(ctx, log); err != nil {
		log.WarnContext(ctx, "connecting to bootstrap peers", logger.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if cnt, err := peer.DiscoverAndConnect(ctx, log); err != nil {
			log.DebugContext(ctx, "discovering agents", logger.Error(err))
		} else if cnt > 0 {
			log.InfoContext(ctx, fmt.Sprintf("connected to %d new agents", cnt))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
