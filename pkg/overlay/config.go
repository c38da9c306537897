package overlay

import "time"

// RouterConfig controls RouteTable and Forwarder behavior. A zero-value
// RouterConfig is not ready to use; call NewRouterConfig or ApplyDefaults
// first so unset fields get sane defaults. An explicit false set through
// the Set* setters is honoured; numeric and duration fields left at zero
// are always replaced by their defaults.
type RouterConfig struct {
	MaxHops              int
	MessageTTL           time.Duration
	RouteCacheSize       int
	RouteCacheTTL        time.Duration
	enableRelayRouting   *bool
	preferDirectRoutes   *bool
	ConnectionTimeout    time.Duration
}

// NewRouterConfig returns a RouterConfig with every field defaulted.
func NewRouterConfig() RouterConfig {
	var c RouterConfig
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills any zero-valued field with its spec default.
// Fields explicitly set to their zero value by a caller that never
// calls ApplyDefaults are indistinguishable from unset — callers that
// need an explicit zero should set it after calling ApplyDefaults.
func (c *RouterConfig) ApplyDefaults() {
	if c.MaxHops == 0 {
		c.MaxHops = 5
	}
	if c.MessageTTL == 0 {
		c.MessageTTL = 60 * time.Second
	}
	if c.RouteCacheSize == 0 {
		c.RouteCacheSize = 1000
	}
	if c.RouteCacheTTL == 0 {
		c.RouteCacheTTL = 300 * time.Second
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = 30 * time.Second
	}
	if c.enableRelayRouting == nil {
		c.enableRelayRouting = boolPtr(true)
	}
	if c.preferDirectRoutes == nil {
		c.preferDirectRoutes = boolPtr(true)
	}
}

// EnableRelayRouting reports whether ingress may forward messages via
// the RouteTable. Defaults to true.
func (c *RouterConfig) EnableRelayRouting() bool {
	if c.enableRelayRouting == nil {
		return true
	}
	return *c.enableRelayRouting
}

// SetEnableRelayRouting overrides the relay-routing toggle.
func (c *RouterConfig) SetEnableRelayRouting(v bool) { c.enableRelayRouting = &v }

// PreferDirectRoutes is a declared option with no behavioral branch —
// selection already prefers hopCount=1 through route scoring (§9 open
// question). Surfaced as an informational toggle only.
func (c *RouterConfig) PreferDirectRoutes() bool {
	if c.preferDirectRoutes == nil {
		return true
	}
	return *c.preferDirectRoutes
}

// SetPreferDirectRoutes sets the informational toggle.
func (c *RouterConfig) SetPreferDirectRoutes(v bool) { c.preferDirectRoutes = &v }

// DiscoveryConfig controls PeerCatalog discovery and staleness behavior.
type DiscoveryConfig struct {
	enableMdns      *bool
	enableDht       *bool
	enableBootstrap *bool
	enablePubsub    *bool

	BootstrapPeers     []Address
	DiscoveryInterval  time.Duration
	PeerTimeout        time.Duration
	MaxPeers           int
}

// NewDiscoveryConfig returns a DiscoveryConfig with every field defaulted.
func NewDiscoveryConfig() DiscoveryConfig {
	var c DiscoveryConfig
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills any zero-valued field with its spec default.
func (c *DiscoveryConfig) ApplyDefaults() {
	if c.DiscoveryInterval == 0 {
		c.DiscoveryInterval = 30 * time.Second
	}
	if c.PeerTimeout == 0 {
		c.PeerTimeout = 120 * time.Second
	}
	if c.MaxPeers == 0 {
		c.MaxPeers = 1000
	}
	if c.enableMdns == nil {
		c.enableMdns = boolPtr(true)
	}
	if c.enableDht == nil {
		c.enableDht = boolPtr(true)
	}
	if c.enableBootstrap == nil {
		c.enableBootstrap = boolPtr(true)
	}
	if c.enablePubsub == nil {
		c.enablePubsub = boolPtr(true)
	}
}

// IsMDNSEnabled reports whether the mDNS discovery feed is consulted
// during a discovery cycle. Defaults to true when unset.
func (c *DiscoveryConfig) IsMDNSEnabled() bool { return derefOrTrue(c.enableMdns) }

// SetMDNSEnabled overrides the mDNS feed toggle.
func (c *DiscoveryConfig) SetMDNSEnabled(v bool) { c.enableMdns = &v }

// IsDHTEnabled reports whether the DHT discovery feed is consulted.
func (c *DiscoveryConfig) IsDHTEnabled() bool { return derefOrTrue(c.enableDht) }

// SetDHTEnabled overrides the DHT feed toggle.
func (c *DiscoveryConfig) SetDHTEnabled(v bool) { c.enableDht = &v }

// IsBootstrapEnabled reports whether the bootstrap feed re-seeds peers
// from BootstrapPeers during a discovery cycle.
func (c *DiscoveryConfig) IsBootstrapEnabled() bool { return derefOrTrue(c.enableBootstrap) }

// SetBootstrapEnabled overrides the bootstrap feed toggle.
func (c *DiscoveryConfig) SetBootstrapEnabled(v bool) { c.enableBootstrap = &v }

// IsPubSubEnabled reports whether presence announcements on the
// discovery gossip topic are consulted.
func (c *DiscoveryConfig) IsPubSubEnabled() bool { return derefOrTrue(c.enablePubsub) }

// SetPubSubEnabled overrides the pubsub feed toggle.
func (c *DiscoveryConfig) SetPubSubEnabled(v bool) { c.enablePubsub = &v }

func derefOrTrue(b *bool) bool {
	if b == nil {
		return true
	}
	return *b
}

func boolPtr(v bool) *bool { return &v }
