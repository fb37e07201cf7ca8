package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	libp2pNetwork "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	mcrypto "github.com/mutualcredit/mcledger/crypto"
	"github.com/mutualcredit/mcledger/dht"
	"github.com/mutualcredit/mcledger/logger"
	"github.com/mutualcredit/mcledger/observability"
	"github.com/mutualcredit/mcledger/types"
)

const (
	ProtocolOfferRequest = "/mcledger/offer/0.1.0"
	ProtocolDHTBundle    = "/mcledger/dht/0.1.0"
)

var DefaultAgentNetworkOptions = AgentNetworkOptions{
	ReceivedChannelCapacity: 1000,
	RequestTimeout:          10 * time.Second,
	BundleTimeout:           300 * time.Millisecond,
}

type (
	AgentNetworkOptions struct {
		// How many replicated bundles will be buffered (ReceivedBundles) in
		// case of slow consumer. Once buffer is full bundles are dropped.
		ReceivedChannelCapacity uint
		// RequestTimeout is the time the requester waits for the response, it
		// covers the time the counterparty spends processing the request.
		RequestTimeout time.Duration
		// BundleTimeout is per receiver timeout of sending replicated bundle.
		BundleTimeout time.Duration
	}

	// RequestHandler returns response to the request "data" received from agent "from".
	RequestHandler func(ctx context.Context, from types.Address, data []byte) []byte

	Observability interface {
		Tracer(name string, options ...trace.TracerOption) trace.Tracer
		Meter(name string, opts ...metric.MeterOption) metric.Meter
		Logger() *slog.Logger
	}

	/*
	AgentNetwork carries the agent to agent request-response protocol
	of offer negotiation and replicates DHT bundles between the nodes.
	*/
	AgentNetwork struct {
		self          *Peer
		timeout       time.Duration
		bundleTimeout time.Duration
		handler       atomic.Pointer[RequestHandler]
		bundles       chan *dht.Bundle

		tracer      trace.Tracer
		log         *slog.Logger
		reqCount    metric.Int64Counter
		reqDur      metric.Float64Histogram
		bundleCount metric.Int64Counter
	}
)

// maxMessageSize limits amount of data read from single stream.
const maxMessageSize = 16 << 20

var ErrMessageTooLarge = errors.New("message too large")

/*
NewLibP2PAgentNetwork creates agent network on top of the libp2p peer "self".

Requests received before handler has been assigned (see Handle) are reset.
*/
func NewLibP2PAgentNetwork(self *Peer, opts AgentNetworkOptions, obs Observability) (*AgentNetwork, error) {
	if self == nil {
		return nil, errors.New("peer is nil")
	}
	if opts.RequestTimeout <= 0 {
		return nil, fmt.Errorf("request timeout must be positive, got %s", opts.RequestTimeout)
	}
	if opts.BundleTimeout <= 0 {
		return nil, fmt.Errorf("bundle timeout must be positive, got %s", opts.BundleTimeout)
	}

	n := &AgentNetwork{
		self:          self,
		timeout:       opts.RequestTimeout,
		bundleTimeout: opts.BundleTimeout,
		bundles:       make(chan *dht.Bundle, opts.ReceivedChannelCapacity),
		tracer:        obs.Tracer("network.AgentNetwork"),
		log:           obs.Logger(),
	}
	if err := n.initMetrics(obs); err != nil {
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}

	self.RegisterProtocolHandler(ProtocolOfferRequest, n.requestStreamHandler)
	self.RegisterProtocolHandler(ProtocolDHTBundle, n.bundleStreamHandler)
	return n, nil
}

func (n *AgentNetwork) initMetrics(obs Observability) (err error) {
	m := obs.Meter("mcledger.network")

	if n.reqCount, err = m.Int64Counter(
		"request.count",
		metric.WithDescription("Number of requests sent to other agents"),
		metric.WithUnit("{request}"),
	); err != nil {
		return fmt.Errorf("creating counter for requests: %w", err)
	}

	if n.reqDur, err = m.Float64Histogram(
		"request.duration",
		metric.WithDescription("Time it took to get response from the agent"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.2, 0.4, 0.8, 1.5, 3, 6, 10),
	); err != nil {
		return fmt.Errorf("creating histogram for request duration: %w", err)
	}

	if n.bundleCount, err = m.Int64Counter(
		"bundle.received",
		metric.WithDescription("Number of DHT bundles received from other nodes"),
		metric.WithUnit("{bundle}"),
	); err != nil {
		return fmt.Errorf("creating counter for received bundles: %w", err)
	}
	return nil
}

// Handle assigns the handler for requests received from other agents.
func (n *AgentNetwork) Handle(h RequestHandler) {
	n.handler.Store(&h)
}

// Peers returns IDs of the nodes bundles are replicated to.
func (n *AgentNetwork) Peers() []peer.ID {
	return n.self.ConnectedPeers()
}

/*
Request sends "data" to the agent "to" and waits for the response. Failure
to deliver the request or to receive the response is reported as
types.ErrCounterpartyUnreachable.
*/
func (n *AgentNetwork) Request(ctx context.Context, to types.Address, data []byte) (rsp []byte, rErr error) {
	ctx, span := n.tracer.Start(ctx, "AgentNetwork.Request", trace.WithAttributes(attribute.String("receiver", to.Short())))
	start := time.Now()
	defer func() {
		if rErr != nil {
			span.RecordError(rErr)
			span.SetStatus(codes.Error, rErr.Error())
		}
		span.End()
		n.reqCount.Add(ctx, 1, metric.WithAttributes(observability.ErrStatus(rErr)))
		n.reqDur.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(observability.ErrStatus(rErr)))
	}()

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if to == n.self.AgentAddress() {
		h := n.handler.Load()
		if h == nil {
			return nil, fmt.Errorf("%w: request handler is not assigned", types.ErrCounterpartyUnreachable)
		}
		return (*h)(ctx, to, data), nil
	}

	id, err := mcrypto.PeerID(to)
	if err != nil {
		return nil, err
	}
	rsp, err = request(ctx, n.self, id, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrCounterpartyUnreachable, err)
	}
	return rsp, nil
}

func request(ctx context.Context, host *Peer, to peer.ID, data []byte) ([]byte, error) {
	s, err := host.CreateStream(ctx, to, ProtocolOfferRequest)
	if err != nil {
		return nil, fmt.Errorf("open p2p stream: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.SetDeadline(deadline); err != nil {
			return nil, errors.Join(fmt.Errorf("setting stream deadline: %w", err), s.Reset())
		}
	}
	if _, err := s.Write(data); err != nil {
		return nil, errors.Join(fmt.Errorf("writing request: %w", err), s.Reset())
	}
	if err := s.CloseWrite(); err != nil {
		return nil, errors.Join(fmt.Errorf("closing stream for writing: %w", err), s.Reset())
	}
	rsp, err := readMessage(s)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("reading response: %w", err), s.Reset())
	}
	if err := s.Close(); err != nil {
		return nil, fmt.Errorf("closing p2p stream: %w", err)
	}
	if len(rsp) == 0 {
		return nil, errors.New("empty response")
	}
	return rsp, nil
}

func (n *AgentNetwork) requestStreamHandler(s libp2pNetwork.Stream) {
	success := false
	defer func() {
		if success {
			if err := s.Close(); err != nil {
				n.log.Warn(fmt.Sprintf("closing p2p stream %q", ProtocolOfferRequest), logger.Error(err))
			}
		} else {
			if err := s.Reset(); err != nil {
				n.log.Warn(fmt.Sprintf("reset p2p stream %q", ProtocolOfferRequest), logger.Error(err))
			}
		}
	}()

	h := n.handler.Load()
	if h == nil {
		n.log.Warn("request received before handler was assigned")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	deadline, _ := ctx.Deadline()
	if err := s.SetDeadline(deadline); err != nil {
		n.log.Warn("failed to set deadline for request stream", logger.Error(err))
		return
	}

	data, err := readMessage(s)
	if err != nil {
		n.log.Warn("reading request", logger.Error(err))
		return
	}
	from := mcrypto.AgentAddress(s.Conn().RemotePeer())
	rsp := (*h)(ctx, from, data)
	if len(rsp) == 0 {
		return
	}
	if _, err := s.Write(rsp); err != nil {
		n.log.Warn(fmt.Sprintf("writing response to %s", from.Short()), logger.Error(err))
		return
	}
	success = true
}

// readMessage reads the stream until EOF, streams longer than maxMessageSize are rejected.
func readMessage(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxMessageSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxMessageSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrMessageTooLarge, maxMessageSize)
	}
	return data, nil
}
