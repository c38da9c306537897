package overlay

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// PeerId is the opaque, comparable identifier of an overlay participant.
// It is the libp2p peer.ID already in use throughout the surrounding
// host stack, so a PeerId derived from an identity key can be handed
// straight to host.Connect / host.NewStream without conversion.
type PeerId = peer.ID

// Address is an opaque location string understood by the transport
// (typically a multiaddr string such as "/ip4/.../tcp/.../p2p/...").
type Address = string

// DiscoveryMethod tags how a peer was first learned. It determines the
// peer's initial composite score before any online measurement replaces
// the prior.
type DiscoveryMethod string

const (
	DiscoveryMDNS      DiscoveryMethod = "mdns"
	DiscoveryDHT       DiscoveryMethod = "dht"
	DiscoveryBootstrap DiscoveryMethod = "bootstrap"
	DiscoveryPubSub    DiscoveryMethod = "pubsub"
	DiscoveryManual    DiscoveryMethod = "manual"
)

// initialScore returns the bootstrap composite score assigned to a peer
// discovered via the given method, overwritten on the peer's first
// factor update.
func (m DiscoveryMethod) initialScore() float64 {
	switch m {
	case DiscoveryBootstrap:
		return 0.8
	case DiscoveryManual:
		return 0.9
	case DiscoveryMDNS:
		return 0.7
	case DiscoveryDHT:
		return 0.6
	case DiscoveryPubSub:
		return 0.5
	default:
		return 0.5
	}
}

// maxAddressesPerPeer caps the number of distinct addresses tracked for
// a single peer; the oldest is evicted on overflow.
const maxAddressesPerPeer = 10

// ScoreFactors holds the four measured inputs to a peer's composite
// score, each in [0,1]. All default to 0.5 when a peer is first learned.
type ScoreFactors struct {
	Latency         float64
	Uptime          float64
	MessageSuccess  float64
	RelayCapability float64
}

func defaultScoreFactors() ScoreFactors {
	return ScoreFactors{Latency: 0.5, Uptime: 0.5, MessageSuccess: 0.5, RelayCapability: 0.5}
}

// composite returns the weighted sum defining a peer's score.
func (f ScoreFactors) composite() float64 {
	return 0.30*f.Latency + 0.25*f.Uptime + 0.35*f.MessageSuccess + 0.10*f.RelayCapability
}

// PeerRecord is everything PeerCatalog knows about one non-self peer.
type PeerRecord struct {
	ID              PeerId
	Addresses       []Address
	Capabilities    []string
	Version         string
	DiscoveredAt    time.Time
	LastSeen        time.Time
	DiscoveryMethod DiscoveryMethod
	Score           float64
	Metadata        map[string]string

	factors ScoreFactors
}

// hasCapabilitySubstring reports whether sub appears as a substring of any of the
// record's recognized capabilities — §4.1 specifies substring matching.
func (r *PeerRecord) hasCapabilitySubstring(sub string) bool {
	for _, c := range r.Capabilities {
		if containsSubstring(c, sub) {
			return true
		}
	}
	return false
}

func containsSubstring(s, sub string) bool {
	if sub == "" {
		return true
	}
	if len(sub) > len(s) {
		return false
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// RelayCapability is the recognized capability string signalling that a
// peer is willing to act as a multi-hop relay.
const RelayCapability = "relay"

// Route is a cached commitment that sending to NextHop carries traffic
// toward TargetPeer within HopCount overlay steps.
type Route struct {
	TargetPeer  PeerId
	NextHop     PeerId
	HopCount    int
	LatencyMs   float64
	SuccessRate float64
	CreatedAt   time.Time
	LastUsed    time.Time
}

// ForwardedMessage is the transport frame a Forwarder originates, ingests,
// and forwards.
type ForwardedMessage struct {
	ID          string
	Source      PeerId
	Destination PeerId
	Payload     []byte
	Timestamp   int64 // origination time, unix millis
	TTL         int64 // millis from origination
	HopCount    int
	Path        []PeerId
	Signature   []byte // carried opaquely, never interpreted
}

// age returns how long ago the message was originated, given nowMillis.
func (m *ForwardedMessage) age(nowMillis int64) time.Duration {
	return time.Duration(nowMillis-m.Timestamp) * time.Millisecond
}
