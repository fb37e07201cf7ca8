package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/mutualcredit/mcledger/types"
)

var ErrSignerIsNil = errors.New("signer is nil")

type (
	// Signer signs data on behalf of the local agent.
	Signer interface {
		// SignBytes signs the data (SHA-256 hash of the data is signed).
		SignBytes(data []byte) ([]byte, error)
		// Address returns the agent address of the signer.
		Address() types.Address
		// PeerID returns libp2p identity of the signer.
		PeerID() peer.ID
	}

	// InMemorySecp256K1Signer keeps the private key in memory.
	InMemorySecp256K1Signer struct {
		key  p2pcrypto.PrivKey
		id   peer.ID
		addr types.Address
	}
)

// NewInMemorySecp256K1Signer generates new key and creates a new signer.
func NewInMemorySecp256K1Signer() (*InMemorySecp256K1Signer, error) {
	key, _, err := p2pcrypto.GenerateSecp256k1Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating secp256k1 key: %w", err)
	}
	return NewSigner(key)
}

// NewInMemorySecp256K1SignerFromKey creates signer from raw secp256k1 private key bytes.
func NewInMemorySecp256K1SignerFromKey(privKey []byte) (*InMemorySecp256K1Signer, error) {
	key, err := p2pcrypto.UnmarshalSecp256k1PrivateKey(privKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewSigner(key)
}

func NewSigner(key p2pcrypto.PrivKey) (*InMemorySecp256K1Signer, error) {
	if key == nil {
		return nil, errors.New("private key is nil")
	}
	id, err := peer.IDFromPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("deriving peer ID: %w", err)
	}
	return &InMemorySecp256K1Signer{key: key, id: id, addr: AgentAddress(id)}, nil
}

func (s *InMemorySecp256K1Signer) SignBytes(data []byte) ([]byte, error) {
	if s == nil {
		return nil, ErrSignerIsNil
	}
	return s.key.Sign(data)
}

func (s *InMemorySecp256K1Signer) Address() types.Address {
	return s.addr
}

func (s *InMemorySecp256K1Signer) PeerID() peer.ID {
	return s.id
}

// PrivateKey returns the libp2p private key, it is also the network identity of the node.
func (s *InMemorySecp256K1Signer) PrivateKey() p2pcrypto.PrivKey {
	return s.key
}

// MarshalPrivateKey returns raw private key bytes.
func (s *InMemorySecp256K1Signer) MarshalPrivateKey() ([]byte, error) {
	return s.key.Raw()
}

// MarshalPublicKey returns raw compressed public key bytes.
func (s *InMemorySecp256K1Signer) MarshalPublicKey() ([]byte, error) {
	return s.key.GetPublic().Raw()
}
