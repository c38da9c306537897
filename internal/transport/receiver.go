package transport

import (
	"io"
	"log/slog"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"

	"github.com/nodeweave/overlay/pkg/overlay"
)

// FrameHandler matches pkg/overlay.Forwarder.Ingest's (fromPeer, raw)
// shape: the receiver just hands the frame and its sender across, the
// overlay package owns deserialization.
type FrameHandler func(fromPeer overlay.PeerId, data []byte)

// RegisterMessageHandler installs the inbound side of messageProtocol,
// reading one frame per stream and passing it to handle along with the
// stream's remote peer.
func RegisterMessageHandler(h host.Host, handle FrameHandler) {
	h.SetStreamHandler(messageProtocol, func(s network.Stream) {
		defer s.Close()
		data, err := io.ReadAll(io.LimitReader(s, maxFrameSize))
		if err != nil {
			slog.Debug("transport: failed to read message frame", "error", err)
			return
		}
		handle(s.Conn().RemotePeer(), data)
	})
}

// maxFrameSize caps a single overlay message frame. Generous for typical
// JSON-encoded payloads while bounding memory from a misbehaving peer.
const maxFrameSize = 1 << 20
