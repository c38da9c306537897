package overlay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the overlay's Prometheus collectors. It uses an isolated
// registry so overlay metrics never collide with a host application's
// default registry; each PeerCatalog/RouteTable/Forwarder test gets its
// own Metrics instance.
type Metrics struct {
	Registry *prometheus.Registry

	PeerCatalogSize          prometheus.Gauge
	PeerCatalogEvictionTotal *prometheus.CounterVec

	RouteCacheSize        prometheus.Gauge
	RouteCacheHitTotal    prometheus.Counter
	RouteCacheMissTotal   prometheus.Counter
	RoutePruneTotal       prometheus.Counter

	MessagesRoutedTotal    prometheus.Counter
	MessagesDeliveredTotal prometheus.Counter
	MessagesFailedTotal    prometheus.Counter
	MessagesDroppedTotal   *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with all collectors registered
// on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		PeerCatalogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "overlay_peer_catalog_size",
			Help: "Number of peers currently tracked by the catalog.",
		}),
		PeerCatalogEvictionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overlay_peer_catalog_eviction_total",
			Help: "Total peer evictions, labeled by reason.",
		}, []string{"reason"}),
		RouteCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "overlay_route_cache_size",
			Help: "Number of routes currently cached.",
		}),
		RouteCacheHitTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overlay_route_cache_hit_total",
			Help: "Total RouteTable.find calls resolved without a miss.",
		}),
		RouteCacheMissTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overlay_route_cache_miss_total",
			Help: "Total RouteTable.find calls that found no route.",
		}),
		RoutePruneTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overlay_route_prune_total",
			Help: "Total routes removed by size-based pruning.",
		}),
		MessagesRoutedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overlay_messages_routed_total",
			Help: "Total messages successfully originated or forwarded onto a route.",
		}),
		MessagesDeliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overlay_messages_delivered_total",
			Help: "Total ingested messages delivered to the local application.",
		}),
		MessagesFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overlay_messages_failed_total",
			Help: "Total messages that could not be routed.",
		}),
		MessagesDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overlay_messages_dropped_total",
			Help: "Total ingested messages dropped, labeled by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.PeerCatalogSize,
		m.PeerCatalogEvictionTotal,
		m.RouteCacheSize,
		m.RouteCacheHitTotal,
		m.RouteCacheMissTotal,
		m.RoutePruneTotal,
		m.MessagesRoutedTotal,
		m.MessagesDeliveredTotal,
		m.MessagesFailedTotal,
		m.MessagesDroppedTotal,
	)

	return m
}
