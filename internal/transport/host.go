// Package transport wires a libp2p host up to the overlay package's
// narrow collaborator interfaces (ConnectedPeerSource, LatencyProbe,
// DirectSender, GossipPubSub), so pkg/overlay never imports libp2p
// directly beyond the PeerId/Address type aliases it already uses.
package transport

import (
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"

	"github.com/nodeweave/overlay/pkg/overlay"
)

// NewHost constructs a libp2p host listening on listenAddrs under the
// given identity, with TCP and QUIC transports and NAT traversal
// assistance enabled — the same transport set home-node/client-node
// wire up for themselves.
func NewHost(priv crypto.PrivKey, listenAddrs []string) (host.Host, error) {
	opts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(listenAddrs...),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(libp2pquic.NewTransport),
		libp2p.NATPortMap(),
		libp2p.EnableHolePunching(),
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}
	return h, nil
}

// ConnectedPeers implements overlay.ConnectedPeerSource.
type ConnectedPeers struct {
	Host host.Host
}

func (c ConnectedPeers) ConnectedPeers() map[overlay.PeerId]struct{} {
	peers := c.Host.Network().Peers()
	out := make(map[overlay.PeerId]struct{}, len(peers))
	for _, p := range peers {
		out[p] = struct{}{}
	}
	return out
}
