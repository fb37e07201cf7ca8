package crypto

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/mutualcredit/mcledger/types"
)

// AgentAddress returns the ledger address of the agent identified by peer ID.
func AgentAddress(id peer.ID) types.Address {
	return types.Address(id.String())
}

// PeerID decodes the agent address back to libp2p peer ID.
func PeerID(agent types.Address) (peer.ID, error) {
	id, err := peer.Decode(string(agent))
	if err != nil {
		return "", fmt.Errorf("invalid agent address %q: %w", agent, err)
	}
	return id, nil
}

/*
Verify checks that "sig" is signature of "data" by the agent "signer".
The public key is extracted from the agent address, so no key registry is needed.
Returned error wraps types.ErrSignatureInvalid when the signature doesn't verify.
*/
func Verify(signer types.Address, data, sig []byte) error {
	id, err := PeerID(signer)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrSignatureInvalid, err)
	}
	pub, err := id.ExtractPublicKey()
	if err != nil {
		return fmt.Errorf("%w: extracting public key of %s: %w", types.ErrSignatureInvalid, signer.Short(), err)
	}
	if len(sig) == 0 {
		return fmt.Errorf("%w: signature is missing", types.ErrSignatureInvalid)
	}
	ok, err := pub.Verify(data, sig)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrSignatureInvalid, err)
	}
	if !ok {
		return fmt.Errorf("%w: signature of %s doesn't verify", types.ErrSignatureInvalid, signer.Short())
	}
	return nil
}
