package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nodeweave/overlay/internal/config"
	"github.com/nodeweave/overlay/internal/discovery"
	"github.com/nodeweave/overlay/internal/identity"
	"github.com/nodeweave/overlay/internal/reputation"
	"github.com/nodeweave/overlay/internal/transport"
	"github.com/nodeweave/overlay/pkg/overlay"
)

// Set via -ldflags at build time:
//
//	go build -ldflags "-X main.version=0.1.0 -X main.commit=$(git rev-parse --short HEAD)" -o overlayd ./cmd/overlayd
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runDaemon(os.Args[2:])
	case "whoami":
		runWhoami(os.Args[2:])
	case "version", "--version":
		fmt.Printf("overlayd %s (%s)\n", version, commit)
		fmt.Printf("Go %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: overlayd <command> [options]")
	fmt.Println()
	fmt.Println("  run --config <path>     Start the overlay daemon")
	fmt.Println("  whoami --config <path>  Print this node's PeerId")
	fmt.Println("  version                 Show version information")
}

func configPathFlag(args []string) string {
	for i, a := range args {
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func runWhoami(args []string) {
	path, err := config.FindConfigFile(configPathFlag(args))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fc, _, _, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	config.ResolveConfigPaths(fc, filepath.Dir(path))

	id, err := identity.PeerIDFromKeyFile(fc.Identity.KeyFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(id.String())
}

func runDaemon(args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path, err := config.FindConfigFile(configPathFlag(args))
	if err != nil {
		slog.Error("overlayd: config not found", "error", err)
		os.Exit(1)
	}
	fc, routerCfg, discoveryCfg, err := config.Load(path)
	if err != nil {
		slog.Error("overlayd: failed to load config", "error", err)
		os.Exit(1)
	}
	config.ResolveConfigPaths(fc, filepath.Dir(path))
	if err := config.Validate(fc); err != nil {
		slog.Error("overlayd: invalid config", "error", err)
		os.Exit(1)
	}

	priv, err := identity.LoadOrCreateIdentity(fc.Identity.KeyFile)
	if err != nil {
		slog.Error("overlayd: identity error", "error", err)
		os.Exit(1)
	}

	h, err := transport.NewHost(priv, fc.Network.ListenAddresses)
	if err != nil {
		slog.Error("overlayd: failed to create host", "error", err)
		os.Exit(1)
	}
	defer h.Close()
	selfID := h.ID()
	slog.Info("overlayd: started", "peer_id", selfID.String())

	metrics := overlay.NewMetrics()
	discoveryMetrics := discovery.NewMetrics()
	if fc.Telemetry.Metrics.Enabled {
		serveMetrics(fc.Telemetry.Metrics.ListenAddress, metrics.Registry, discoveryMetrics.Registry)
	}

	histPath := filepath.Join(filepath.Dir(fc.Identity.KeyFile), "peer_history.json")
	history := reputation.NewHistory(histPath)

	catalog := overlay.NewPeerCatalog(discoveryCfg, metrics, nil)
	catalog.Start(ctx, selfID)
	defer catalog.Stop()
	history.SeedCatalog(catalog)

	routes := overlay.NewRouteTable(routerCfg, catalog, metrics, nil)
	routes.SetConnectedPeers(transport.ConnectedPeers{Host: h}.ConnectedPeers())

	sender := transport.DirectStreamSender{Host: h}
	forwarder := overlay.NewForwarder(routerCfg, selfID, routes, sender, metrics, nil)
	forwarder.Start(ctx)
	defer forwarder.Stop()

	transport.RegisterMessageHandler(h, func(fromPeer overlay.PeerId, data []byte) {
		result := forwarder.Ingest(ctx, fromPeer, data)
		if result.Action == overlay.ActionDelivered {
			history.RecordConnection(fromPeer, "direct", 0)
		}
	})

	latencyProbe := transport.PingLatencyProbe{Host: h}
	latencyProbe.RegisterHandler()

	if discoveryCfg.IsMDNSEnabled() {
		mdnsFeed := discovery.NewMDNSDiscovery(h, catalog, discoveryMetrics)
		if err := mdnsFeed.Start(ctx); err != nil {
			slog.Warn("overlayd: mdns discovery failed to start", "error", err)
		} else {
			defer mdnsFeed.Stop()
		}
	}

	var kdht *dht.IpfsDHT
	if discoveryCfg.IsDHTEnabled() {
		kdht, err = dht.New(ctx, h, dht.Mode(dht.ModeAutoServer))
		if err != nil {
			slog.Warn("overlayd: dht init failed", "error", err)
		} else if err := kdht.Bootstrap(ctx); err != nil {
			slog.Warn("overlayd: dht bootstrap failed", "error", err)
		} else {
			dhtFeed := discovery.NewDHTDiscovery(kdht, h, catalog, discoveryMetrics)
			dhtFeed.Start(ctx)
			defer dhtFeed.Stop()
		}
	}

	if discoveryCfg.IsPubSubEnabled() {
		ps, err := pubsub.NewGossipSub(ctx, h)
		if err != nil {
			slog.Warn("overlayd: pubsub init failed", "error", err)
		} else {
			gossip := transport.NewGossipPubSub(ps, selfID)
			presenceFeed := discovery.NewPresenceFeed(selfID, gossip, catalog, discoveryMetrics, func() ([]overlay.Address, []string, string) {
				addrs := make([]overlay.Address, 0, len(h.Addrs()))
				for _, a := range h.Addrs() {
					addrs = append(addrs, overlay.Address(a.String()))
				}
				return addrs, []string{overlay.RelayCapability}, version
			})
			if err := presenceFeed.Start(ctx); err != nil {
				slog.Warn("overlayd: presence feed failed to start", "error", err)
			} else {
				defer presenceFeed.Stop()
			}
		}
	}

	go connectedPeersLoop(ctx, h, routes)
	go persistHistoryLoop(ctx, history)

	slog.Info("overlayd: running", "peer_id", selfID.String())
	waitForShutdown()
	slog.Info("overlayd: shutting down")
	if err := history.Save(); err != nil {
		slog.Warn("overlayd: failed to save peer history", "error", err)
	}
}

// connectedPeersLoop keeps RouteTable's connected-peer snapshot fresh;
// the overlay core intentionally has no event bus into the transport
// layer, per the ConnectedPeerSource collaborator boundary.
func connectedPeersLoop(ctx context.Context, h host.Host, routes *overlay.RouteTable) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			routes.SetConnectedPeers(transport.ConnectedPeers{Host: h}.ConnectedPeers())
		}
	}
}

func persistHistoryLoop(ctx context.Context, history *reputation.History) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := history.Save(); err != nil {
				slog.Warn("overlayd: periodic history save failed", "error", err)
			}
		}
	}
}

// serveMetrics exposes each component's isolated Prometheus registry on
// its own /metrics path (/metrics/overlay, /metrics/discovery) so a
// scraper can distinguish router metrics from discovery-feed metrics.
func serveMetrics(addr string, overlayReg, discoveryReg *prometheus.Registry) {
	if addr == "" {
		addr = "127.0.0.1:9091"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics/overlay", promhttp.HandlerFor(overlayReg, promhttp.HandlerOpts{}))
	mux.Handle("/metrics/discovery", promhttp.HandlerFor(discoveryReg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Warn("overlayd: metrics server stopped", "error", err)
		}
	}()
}

func waitForShutdown() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}
