package discovery

import (
	"testing"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"

	"github.com/nodeweave/overlay/pkg/overlay"
)

func newTestHost(t *testing.T) host.Host {
	t.Helper()
	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("libp2p.New: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func newTestCatalog(t *testing.T) *overlay.PeerCatalog {
	t.Helper()
	cfg := overlay.DiscoveryConfig{}
	cfg.ApplyDefaults()
	return overlay.NewPeerCatalog(cfg, nil, nil)
}
