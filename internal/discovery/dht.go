package discovery

import (
	"context"
	"log/slog"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"

	"github.com/nodeweave/overlay/pkg/overlay"
)

const dhtPollInterval = 20 * time.Second

// DHTDiscovery periodically drains the Kademlia DHT's own routing table
// into the catalog. It rides on whatever peers the DHT has already
// found through its normal bucket-refresh traffic rather than issuing
// its own FindPeer queries, keeping this feed a thin bridge instead of
// a second DHT client.
type DHTDiscovery struct {
	node    *dht.IpfsDHT
	host    host.Host
	catalog *overlay.PeerCatalog
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDHTDiscovery creates a DHT discovery feed over an already-bootstrapped
// *dht.IpfsDHT and the host it was constructed with. metrics may be nil.
func NewDHTDiscovery(node *dht.IpfsDHT, h host.Host, catalog *overlay.PeerCatalog, metrics *Metrics) *DHTDiscovery {
	return &DHTDiscovery{node: node, host: h, catalog: catalog, metrics: metrics, done: make(chan struct{})}
}

// Start begins the periodic routing-table poll.
func (d *DHTDiscovery) Start(ctx context.Context) {
	d.ctx, d.cancel = context.WithCancel(ctx)
	go d.pollLoop()
}

// Stop cancels the poll loop and waits for it to exit.
func (d *DHTDiscovery) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	<-d.done
}

func (d *DHTDiscovery) pollLoop() {
	defer close(d.done)

	ticker := time.NewTicker(dhtPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.poll()
		}
	}
}

func (d *DHTDiscovery) poll() {
	peers := d.node.RoutingTable().ListPeers()
	for _, id := range peers {
		addrs := d.host.Peerstore().Addrs(id)
		if len(addrs) == 0 {
			continue
		}
		addrStrs := make([]overlay.Address, 0, len(addrs))
		for _, a := range addrs {
			addrStrs = append(addrStrs, overlay.Address(a.String()))
		}
		d.catalog.AddOrUpdate(overlay.PeerUpdate{
			ID:              id,
			Addresses:       addrStrs,
			DiscoveryMethod: overlay.DiscoveryDHT,
		})
		if d.metrics != nil {
			d.metrics.DHTDiscoveredTotal.WithLabelValues("discovered").Inc()
		}
	}
	slog.Debug("discovery: dht poll", "routing_table_size", len(peers))
}
