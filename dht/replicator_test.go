package dht

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/mutualcredit/mcledger/internal/testutils/logger"
	"github.com/mutualcredit/mcledger/types"
)

type mockGossip struct {
	mu       sync.Mutex
	sent     []*Bundle
	sendErr  error
	received chan *Bundle
}

func (m *mockGossip) SendBundle(ctx context.Context, b *Bundle, receivers ...peer.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, b)
	return m.sendErr
}

func (m *mockGossip) ReceivedBundles() <-chan *Bundle { return m.received }

func (m *mockGossip) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func TestReplicator_Publish(t *testing.T) {
	ctx := context.Background()
	agent := newTestSigner(t)
	genesis := types.GenesisAttestation(agent.Address())

	t.Run("no peers", func(t *testing.T) {
		gossip := &mockGossip{}
		r := NewReplicator(newTestStore(t), gossip, func() []peer.ID { return nil }, logger.New(t))
		require.NoError(t, r.Publish(ctx, &Bundle{Attestations: []*types.Attestation{genesis}}))
		require.Zero(t, gossip.sentCount())

		_, err := r.GetAttestation(ctx, attestationAddress(t, genesis))
		require.NoError(t, err)
	})

	t.Run("gossip failure is not an error", func(t *testing.T) {
		gossip := &mockGossip{sendErr: errors.New("unreachable")}
		r := NewReplicator(newTestStore(t), gossip, func() []peer.ID { return []peer.ID{agent.PeerID()} }, logger.New(t))
		require.NoError(t, r.Publish(ctx, &Bundle{Attestations: []*types.Attestation{genesis}}))
		require.Equal(t, 1, gossip.sentCount())
	})

	t.Run("invalid bundle is not gossiped", func(t *testing.T) {
		gossip := &mockGossip{}
		r := NewReplicator(newTestStore(t), gossip, func() []peer.ID { return []peer.ID{agent.PeerID()} }, logger.New(t))
		require.Error(t, r.Publish(ctx, &Bundle{Attestations: []*types.Attestation{{}}}))
		require.Zero(t, gossip.sentCount())
	})
}

func TestReplicator_Run(t *testing.T) {
	agent := newTestSigner(t)
	genesis := types.GenesisAttestation(agent.Address())
	genesisAddr := attestationAddress(t, genesis)

	gossip := &mockGossip{received: make(chan *Bundle, 2)}
	store := newTestStore(t)
	r := NewReplicator(store, gossip, func() []peer.ID { return nil }, logger.New(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	gossip.received <- &Bundle{Attestations: []*types.Attestation{{}}}
	gossip.received <- &Bundle{Attestations: []*types.Attestation{genesis}}

	require.Eventually(t, func() bool {
		_, err := store.GetAttestation(ctx, genesisAddr)
		return err == nil
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("replicator didn't stop")
	}
}
