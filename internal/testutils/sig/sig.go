package testsig

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mutualcredit/mcledger/crypto"
)

func CreateSigner(t *testing.T) *crypto.InMemorySecp256K1Signer {
	t.Helper()
	signer, err := crypto.NewInMemorySecp256K1Signer()
	require.NoError(t, err)
	return signer
}
