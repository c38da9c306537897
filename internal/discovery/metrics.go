package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the discovery feeds' Prometheus collectors, isolated on
// their own registry the same way pkg/overlay.Metrics is.
type Metrics struct {
	Registry *prometheus.Registry

	MDNSDiscoveredTotal   *prometheus.CounterVec
	DHTDiscoveredTotal    *prometheus.CounterVec
	PresenceReceivedTotal *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with all collectors registered
// on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		MDNSDiscoveredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overlay_discovery_mdns_total",
			Help: "Total peers observed via mDNS, labeled by outcome.",
		}, []string{"outcome"}),
		DHTDiscoveredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overlay_discovery_dht_total",
			Help: "Total peers observed via the DHT routing table, labeled by outcome.",
		}, []string{"outcome"}),
		PresenceReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overlay_discovery_presence_total",
			Help: "Total presence gossip messages processed, labeled by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.MDNSDiscoveredTotal, m.DHTDiscoveredTotal, m.PresenceReceivedTotal)
	return m
}
