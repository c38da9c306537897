package transport

import (
	"context"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/nodeweave/overlay/pkg/overlay"
)

// messageProtocol is the stream protocol overlay frames travel over.
const messageProtocol = protocol.ID("/overlay/message/1.0.0")

// DirectStreamSender implements overlay.DirectSender by opening a raw
// libp2p stream per frame, mirroring pkg/p2pnet/service.go's
// one-stream-per-message direct-send convention.
type DirectStreamSender struct {
	Host host.Host
}

func (d DirectStreamSender) OpenStream(ctx context.Context, peerID overlay.PeerId) (io.WriteCloser, error) {
	s, err := d.Host.NewStream(ctx, peerID, messageProtocol)
	if err != nil {
		return nil, fmt.Errorf("open message stream to %s: %w", peerID, err)
	}
	return s, nil
}
