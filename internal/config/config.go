// Package config loads the overlay daemon's on-disk YAML configuration
// into the pkg/overlay RouterConfig/DiscoveryConfig types consumed at
// startup.
package config

// CurrentConfigVersion is the latest configuration schema version. Bump
// this when adding fields that require migration.
const CurrentConfigVersion = 1

// FileConfig is the root of an overlay daemon's YAML configuration file.
type FileConfig struct {
	Version   int             `yaml:"version,omitempty"`
	Identity  IdentityConfig  `yaml:"identity"`
	Network   NetworkConfig   `yaml:"network"`
	Router    RouterConfig    `yaml:"router,omitempty"`
	Discovery DiscoveryConfig `yaml:"discovery,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// IdentityConfig locates the private key the daemon derives its PeerId
// from. Key generation/loading itself lives in internal/identity.
type IdentityConfig struct {
	KeyFile string `yaml:"key_file"`
}

// NetworkConfig holds the listen addresses handed to the underlying
// libp2p host; the overlay core never interprets these itself.
type NetworkConfig struct {
	ListenAddresses []string `yaml:"listen_addresses"`
}

// RouterConfig mirrors overlay.RouterConfig with YAML-friendly string
// durations and optional toggle fields. Zero/empty fields are left for
// overlay.RouterConfig.ApplyDefaults to fill after Load parses durations.
type RouterConfig struct {
	MaxHops            int    `yaml:"max_hops,omitempty"`
	MessageTTL         string `yaml:"message_ttl,omitempty"`
	RouteCacheSize     int    `yaml:"route_cache_size,omitempty"`
	RouteCacheTTL      string `yaml:"route_cache_ttl,omitempty"`
	ConnectionTimeout  string `yaml:"connection_timeout,omitempty"`
	EnableRelayRouting *bool  `yaml:"enable_relay_routing,omitempty"`
	PreferDirectRoutes *bool  `yaml:"prefer_direct_routes,omitempty"`
}

// DiscoveryConfig mirrors overlay.DiscoveryConfig the same way.
type DiscoveryConfig struct {
	EnableMDNS        *bool    `yaml:"enable_mdns,omitempty"`
	EnableDHT         *bool    `yaml:"enable_dht,omitempty"`
	EnableBootstrap   *bool    `yaml:"enable_bootstrap,omitempty"`
	EnablePubSub      *bool    `yaml:"enable_pubsub,omitempty"`
	BootstrapPeers    []string `yaml:"bootstrap_peers,omitempty"`
	DiscoveryInterval string   `yaml:"discovery_interval,omitempty"`
	PeerTimeout       string   `yaml:"peer_timeout,omitempty"`
	MaxPeers          int      `yaml:"max_peers,omitempty"`
}

// TelemetryConfig holds observability settings, disabled by default.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// MetricsConfig controls Prometheus metrics exposure.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address,omitempty"` // default: "127.0.0.1:9091"
}
