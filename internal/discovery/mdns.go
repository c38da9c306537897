package discovery

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/zeroconf/v2"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/nodeweave/overlay/pkg/overlay"
)

// mdnsServiceName is the DNS-SD service type used for LAN discovery.
// Fixed for all overlay nodes; peer authorization is handled above this
// layer, not by the service name itself.
const mdnsServiceName = "_overlay._udp"

const (
	mdnsBrowseInterval = 30 * time.Second
	mdnsBrowseTimeout  = 10 * time.Second
	dnsaddrPrefix      = "dnsaddr="
)

// MDNSDiscovery advertises this node and periodically browses the LAN
// for others via zeroconf (DNS-SD), feeding anything it finds into a
// PeerCatalog as DiscoveryMDNS candidates. It never dials a transport
// connection itself — that remains the host's job once the catalog and
// RouteTable decide a peer is worth reaching.
type MDNSDiscovery struct {
	host    host.Host
	catalog *overlay.PeerCatalog
	metrics *Metrics

	server *zeroconf.Server
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMDNSDiscovery creates an mDNS discovery feed. metrics may be nil.
func NewMDNSDiscovery(h host.Host, catalog *overlay.PeerCatalog, metrics *Metrics) *MDNSDiscovery {
	return &MDNSDiscovery{host: h, catalog: catalog, metrics: metrics}
}

// Start begins advertising and browsing. The returned error is from the
// initial zeroconf registration only; browse failures are logged and
// retried on the next tick.
func (md *MDNSDiscovery) Start(ctx context.Context) error {
	md.ctx, md.cancel = context.WithCancel(ctx)

	if err := md.startServer(); err != nil {
		return err
	}

	md.wg.Add(1)
	go md.browseLoop()
	return nil
}

// Stop shuts down advertising and waits for the browse loop to exit.
func (md *MDNSDiscovery) Stop() {
	if md.cancel != nil {
		md.cancel()
	}
	if md.server != nil {
		md.server.Shutdown()
	}
	md.wg.Wait()
}

func (md *MDNSDiscovery) startServer() error {
	interfaceAddrs, err := md.host.Network().InterfaceListenAddresses()
	if err != nil {
		return err
	}
	p2pAddrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: md.host.ID(), Addrs: interfaceAddrs})
	if err != nil {
		return err
	}

	var txts []string
	for _, addr := range p2pAddrs {
		if isSuitableForMDNS(addr) {
			txts = append(txts, dnsaddrPrefix+addr.String())
		}
	}

	instance := randomInstanceName(32 + rand.Intn(32))
	server, err := zeroconf.RegisterProxy(
		instance, mdnsServiceName, "local", 4001, instance, []string{"127.0.0.1"}, txts, nil,
	)
	if err != nil {
		return err
	}
	md.server = server
	return nil
}

func (md *MDNSDiscovery) browseLoop() {
	defer md.wg.Done()

	select {
	case <-time.After(2 * time.Second):
	case <-md.ctx.Done():
		return
	}
	md.runBrowse()

	ticker := time.NewTicker(mdnsBrowseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-md.ctx.Done():
			return
		case <-ticker.C:
			md.runBrowse()
		}
	}
}

// runBrowse runs a single bounded zeroconf browse round, feeding each
// discovered entry's TXT records into the catalog.
func (md *MDNSDiscovery) runBrowse() {
	browseCtx, cancel := context.WithTimeout(md.ctx, mdnsBrowseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 100)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			md.processTextRecords(entry.Text)
		}
	}()

	if err := zeroconf.Browse(browseCtx, mdnsServiceName, "local", entries); err != nil {
		if md.ctx.Err() == nil {
			slog.Debug("discovery: mdns browse round error", "error", err)
		}
	}
	wg.Wait()
}

func (md *MDNSDiscovery) processTextRecords(txts []string) {
	addrs := make([]ma.Multiaddr, 0, len(txts))
	for _, txt := range txts {
		if !strings.HasPrefix(txt, dnsaddrPrefix) {
			continue
		}
		addr, err := ma.NewMultiaddr(txt[len(dnsaddrPrefix):])
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return
	}

	infos, err := peer.AddrInfosFromP2pAddrs(addrs...)
	if err != nil {
		slog.Debug("discovery: mdns failed to parse peer addrs", "error", err)
		return
	}
	for _, info := range infos {
		if info.ID == md.host.ID() {
			continue
		}
		md.handlePeerFound(info)
	}
}

func (md *MDNSDiscovery) handlePeerFound(pi peer.AddrInfo) {
	if pi.ID == md.host.ID() {
		return
	}
	addrStrs := make([]overlay.Address, 0, len(pi.Addrs))
	for _, a := range pi.Addrs {
		addrStrs = append(addrStrs, overlay.Address(a.String()))
	}

	md.catalog.AddOrUpdate(overlay.PeerUpdate{
		ID:              pi.ID,
		Addresses:       addrStrs,
		DiscoveryMethod: overlay.DiscoveryMDNS,
	})

	if md.metrics != nil {
		md.metrics.MDNSDiscoveredTotal.WithLabelValues("discovered").Inc()
	}
	slog.Debug("discovery: mdns peer observed", "peer", pi.ID.String(), "addrs", len(pi.Addrs))
}

// isSuitableForMDNS returns true for multiaddrs worth advertising on the
// LAN: plain IP addresses or .local DNS names, excluding relay/browser
// transports that a same-subnet peer could never dial directly.
func isSuitableForMDNS(addr ma.Multiaddr) bool {
	if addr == nil {
		return false
	}
	first, _ := ma.SplitFirst(addr)
	if first == nil {
		return false
	}
	switch first.Protocol().Code {
	case ma.P_IP4, ma.P_IP6:
	case ma.P_DNS, ma.P_DNS4, ma.P_DNS6, ma.P_DNSADDR:
		if !strings.HasSuffix(strings.ToLower(first.Value()), ".local") {
			return false
		}
	default:
		return false
	}
	excluded := false
	ma.ForEach(addr, func(c ma.Component) bool {
		switch c.Protocol().Code {
		case ma.P_CIRCUIT, ma.P_WEBTRANSPORT, ma.P_WEBRTC, ma.P_WEBRTC_DIRECT, ma.P_P2P_WEBRTC_DIRECT, ma.P_WS, ma.P_WSS:
			excluded = true
			return false
		}
		return true
	})
	return !excluded
}

func randomInstanceName(l int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	s := make([]byte, 0, l)
	for i := 0; i < l; i++ {
		s = append(s, alphabet[rand.Intn(len(alphabet))])
	}
	return string(s)
}
