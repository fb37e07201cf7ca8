package rpc

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/multiformats/go-multiaddr"

	"github.com/mutualcredit/mcledger/logger"
	"github.com/mutualcredit/mcledger/network"
	"github.com/mutualcredit/mcledger/types"
)

type (
	InfoResponse struct {
		Agent           types.Address `json:"agent"` // address of the agent served by the node
		Self            PeerInfo      `json:"self"`  // information about this peer
		BootstrapNodes  []PeerInfo    `json:"bootstrap_nodes"`
		OpenConnections []PeerInfo    `json:"open_connections"` // all libp2p connections to other peers in the network
	}

	PeerInfo struct {
		Identifier string                `json:"identifier"`
		Addresses  []multiaddr.Multiaddr `json:"addresses"`
	}
)

func InfoEndpoints(self *network.Peer, log *slog.Logger) RegistrarFunc {
	return func(r *mux.Router) {
		r.HandleFunc("/info", infoHandler(self, log)).Methods(http.MethodGet, http.MethodOptions)
	}
}

func infoHandler(self *network.Peer, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i := InfoResponse{
			Agent: self.AgentAddress(),
			Self: PeerInfo{
				Identifier: self.ID().String(),
				Addresses:  self.MultiAddresses(),
			},
			BootstrapNodes:  getBootstrapNodes(self),
			OpenConnections: getOpenConnections(self),
		}
		w.Header().Set(headerContentType, applicationJson)
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(i); err != nil {
			log.WarnContext(r.Context(), "failed to write info message", logger.Error(err))
		}
	}
}

func getOpenConnections(self *network.Peer) []PeerInfo {
	connections := self.Network().Conns()
	peers := make([]PeerInfo, len(connections))
	for i, connection := range connections {
		peers[i] = PeerInfo{
			Identifier: connection.RemotePeer().String(),
			Addresses:  []multiaddr.Multiaddr{connection.RemoteMultiaddr()},
		}
	}
	return peers
}

func getBootstrapNodes(self *network.Peer) []PeerInfo {
	bootstrapPeers := self.BootstrapPeers()
	infos := make([]PeerInfo, len(bootstrapPeers))
	for i, p := range bootstrapPeers {
		infos[i] = PeerInfo{Identifier: p.ID.String(), Addresses: p.Addrs}
	}
	return infos
}

func (pi *PeerInfo) UnmarshalJSON(data []byte) error {
	var d struct {
		Identifier string   `json:"identifier"`
		Addresses  []string `json:"addresses"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}

	pi.Identifier = d.Identifier
	pi.Addresses = nil
	for _, addr := range d.Addresses {
		multiAddr, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return err
		}
		pi.Addresses = append(pi.Addresses, multiAddr)
	}
	return nil
}
