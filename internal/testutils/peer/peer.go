package peer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mutualcredit/mcledger/crypto"
	"github.com/mutualcredit/mcledger/internal/testutils/logger"
	"github.com/mutualcredit/mcledger/network"
)

// CreatePeer starts new peer on random localhost port, the peer is closed when the test ends.
func CreatePeer(t *testing.T, bootstrapAddrs ...string) *network.Peer {
	t.Helper()
	signer, err := crypto.NewInMemorySecp256K1Signer()
	require.NoError(t, err)
	conf, err := network.NewPeerConfiguration(signer.PrivateKey(), "/ip4/127.0.0.1/tcp/0", nil, bootstrapAddrs)
	require.NoError(t, err)
	p, err := network.NewPeer(context.Background(), conf, logger.New(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}
