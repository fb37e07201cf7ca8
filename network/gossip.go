package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	libp2pNetwork "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mutualcredit/mcledger/dht"
	"github.com/mutualcredit/mcledger/logger"
	"github.com/mutualcredit/mcledger/types"
)

// how long the receiver waits for the bundle once the stream has been opened
const bundleReadTimeout = time.Second

// ReceivedBundles returns channel of the bundles replicated to this node by other nodes.
func (n *AgentNetwork) ReceivedBundles() <-chan *dht.Bundle {
	return n.bundles
}

/*
SendBundle sends the bundle to the "receivers", each receiver over its own
stream. Bundle sent to self is delivered without the network. Error is
returned only when none of the receivers got the bundle.
*/
func (n *AgentNetwork) SendBundle(ctx context.Context, b *dht.Bundle, receivers ...peer.ID) error {
	if len(receivers) == 0 {
		return nil
	}
	ctx, span := n.tracer.Start(ctx, "AgentNetwork.SendBundle", trace.WithAttributes(attribute.Int("receivers", len(receivers))))
	defer span.End()

	data, err := types.Marshal(b)
	if err != nil {
		return fmt.Errorf("encoding bundle: %w", err)
	}

	// per receiver error slots, failure to reach one receiver must not
	// cancel sending to the others
	errs := make([]error, len(receivers))
	var g errgroup.Group
	for i, id := range receivers {
		// libp2p refuses to dial self
		if id == n.self.ID() {
			n.bundleReceived(ctx, id, b)
			continue
		}
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, n.bundleTimeout)
			defer cancel()
			if err := n.pushBundle(sendCtx, id, data); err != nil {
				errs[i] = fmt.Errorf("sending bundle to %s: %w", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed == len(receivers) {
		err := errors.Join(errs...)
		span.RecordError(err)
		return err
	}
	return nil
}

func (n *AgentNetwork) pushBundle(ctx context.Context, to peer.ID, data []byte) error {
	s, err := n.self.CreateStream(ctx, to, ProtocolDHTBundle)
	if err != nil {
		return fmt.Errorf("open p2p stream: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.SetWriteDeadline(deadline); err != nil {
			return errors.Join(fmt.Errorf("setting write deadline: %w", err), s.Reset())
		}
	}
	if _, err := s.Write(data); err != nil {
		// reset so that the error doesn't leak into the next stream
		return errors.Join(fmt.Errorf("writing bundle: %w", err), s.Reset())
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("closing p2p stream: %w", err)
	}
	return nil
}

func (n *AgentNetwork) bundleStreamHandler(s libp2pNetwork.Stream) {
	from := s.Conn().RemotePeer()
	ctx := context.Background()
	b, err := readBundle(s)
	if err != nil {
		n.bundleCount.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "invalid")))
		n.log.Warn(fmt.Sprintf("reading bundle from %s", from), logger.Error(err))
		if err := s.Reset(); err != nil {
			n.log.Debug("resetting bundle stream", logger.Error(err))
		}
		return
	}
	if err := s.Close(); err != nil {
		n.log.Debug("closing bundle stream", logger.Error(err))
	}
	n.bundleReceived(ctx, from, b)
}

func readBundle(s libp2pNetwork.Stream) (*dht.Bundle, error) {
	if err := s.SetReadDeadline(time.Now().Add(bundleReadTimeout)); err != nil {
		return nil, fmt.Errorf("setting read deadline: %w", err)
	}
	data, err := readMessage(s)
	if err != nil {
		return nil, err
	}
	b := &dht.Bundle{}
	if err := types.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("decoding bundle: %w", err)
	}
	return b, nil
}

// bundleReceived queues the bundle for the consumer, bundle is dropped when the queue is full.
func (n *AgentNetwork) bundleReceived(ctx context.Context, from peer.ID, b *dht.Bundle) {
	select {
	case n.bundles <- b:
		n.bundleCount.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "ok")))
	default:
		n.bundleCount.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "dropped")))
		n.log.Warn(fmt.Sprintf("dropping bundle from %s because of slow consumer", from))
	}
}
