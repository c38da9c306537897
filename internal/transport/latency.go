package transport

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/nodeweave/overlay/pkg/overlay"
)

const (
	pingProtocol    = protocol.ID("/overlay/ping/1.0.0")
	pingStreamTimeout = 15 * time.Second
)

// PingLatencyProbe implements overlay.LatencyProbe with a minimal
// ping/pong stream protocol, grounded on the same round-trip-timing
// shape as the teacher's own PingPeer helper.
type PingLatencyProbe struct {
	Host host.Host
}

// RegisterHandler installs the pong-responder side of the protocol.
// Call once per host, typically alongside the overlay's own frame
// handler registration.
func (p PingLatencyProbe) RegisterHandler() {
	p.Host.SetStreamHandler(pingProtocol, func(s network.Stream) {
		defer s.Close()
		reader := bufio.NewReader(s)
		line, err := reader.ReadString('\n')
		if err != nil || line != "ping\n" {
			return
		}
		s.Write([]byte("pong\n"))
	})
}

// MeasureLatency opens a stream to p, sends a ping, and times the pong.
func (p PingLatencyProbe) MeasureLatency(ctx context.Context, peerID overlay.PeerId) (float64, error) {
	streamCtx, cancel := context.WithTimeout(ctx, pingStreamTimeout)
	defer cancel()

	s, err := p.Host.NewStream(streamCtx, peerID, pingProtocol)
	if err != nil {
		return 0, fmt.Errorf("open ping stream: %w", err)
	}
	defer s.Close()

	start := time.Now()
	if _, err := s.Write([]byte("ping\n")); err != nil {
		return 0, fmt.Errorf("write ping: %w", err)
	}

	reader := bufio.NewReader(s)
	resp, err := reader.ReadString('\n')
	if err != nil {
		return 0, fmt.Errorf("read pong: %w", err)
	}
	if resp != "pong\n" {
		return 0, fmt.Errorf("unexpected ping response %q", resp)
	}

	return float64(time.Since(start).Microseconds()) / 1000.0, nil
}
