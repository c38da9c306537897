package discovery

import (
	"context"
	"testing"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
)

func TestDHTPollFeedsRoutingTableIntoCatalog(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hostA := newTestHost(t)
	hostB := newTestHost(t)

	dhtA, err := dht.New(ctx, hostA, dht.Mode(dht.ModeServer))
	if err != nil {
		t.Fatalf("dht.New: %v", err)
	}
	t.Cleanup(func() { dhtA.Close() })

	hostA.Peerstore().AddAddrs(hostB.ID(), hostB.Addrs(), time.Hour)
	if err := hostA.Connect(ctx, hostA.Peerstore().PeerInfo(hostB.ID())); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := dhtA.RoutingTable().TryAddPeer(hostB.ID(), true); err != nil {
		t.Fatalf("TryAddPeer: %v", err)
	}

	catalog := newTestCatalog(t)
	d := NewDHTDiscovery(dhtA, hostA, catalog, nil)
	d.poll()

	rec, ok := catalog.ByID(hostB.ID())
	if !ok {
		t.Fatal("expected routing-table peer to be added to catalog")
	}
	if rec.DiscoveryMethod != "dht" {
		t.Errorf("DiscoveryMethod = %q, want dht", rec.DiscoveryMethod)
	}
}
