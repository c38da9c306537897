package overlay

import (
	"context"
	"io"
)

// ConnectedPeerSource reports the set of peers the transport currently
// holds an open bidirectional connection to. RouteTable consults this
// via SetConnectedPeers snapshots rather than owning the transport's
// event bus itself — internal/transport.ConnectedPeers implements it over
// a libp2p host, and cmd/overlayd polls it into periodic snapshots.
type ConnectedPeerSource interface {
	ConnectedPeers() map[PeerId]struct{}
}

// LatencyProbe supplies the per-connection round-trip measurement the
// lower transport layer is assumed to provide (§1c of the overlay spec).
type LatencyProbe interface {
	MeasureLatency(ctx context.Context, p PeerId) (float64, error)
}

// DirectSender opens a unidirectional byte stream to an identified peer.
// The core never interprets the bytes written to the returned writer;
// it hands the frame to the application layer through this boundary.
type DirectSender interface {
	OpenStream(ctx context.Context, p PeerId) (io.WriteCloser, error)
}

// GossipPubSub is the minimal gossip primitive the overlay assumes:
// topic subscribe/publish with delivery of messages from arbitrary
// senders. Shaped after pubsub.PubSub's Join/Subscribe/Publish surface.
type GossipPubSub interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(topic string, handler func(from PeerId, data []byte)) (unsubscribe func(), err error)
}
