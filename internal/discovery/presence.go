// Package discovery bridges transport-level peer discovery (mDNS, the
// Kademlia DHT, gossip presence announcements) into a PeerCatalog. Every
// feed here only ever calls PeerCatalog.AddOrUpdate; none of them open
// connections themselves, keeping peer admission and scoring entirely
// inside pkg/overlay.
package discovery

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/nodeweave/overlay/pkg/overlay"
)

const (
	presenceTopic            = "overlay/presence/v1"
	presenceAnnounceInterval = 30 * time.Second
	maxPresenceMessageSize   = 4096
)

// presenceAnnouncement is the gossip payload peers exchange over the
// presence topic, carrying just enough for the receiver to place the
// sender into its own catalog.
type presenceAnnouncement struct {
	Type         string   `json:"type"`
	Version      int      `json:"v"`
	Peer         string   `json:"peerId"`
	Addresses    []string `json:"addresses"`
	Capabilities []string `json:"capabilities"`
	NodeVersion  string   `json:"version"`
	Timestamp    int64    `json:"timestamp"`
}

// selfInfoProvider supplies this node's own advertisable state at
// publish time so PresenceFeed stays decoupled from the host/transport
// details that produce it.
type selfInfoProvider func() (addrs []overlay.Address, capabilities []string, nodeVersion string)

// PresenceFeed publishes this node's presence on a pubsub topic and
// feeds every other announcement it receives into the catalog as a
// DiscoveryPubSub candidate.
type PresenceFeed struct {
	self     overlay.PeerId
	pubsub   overlay.GossipPubSub
	catalog  *overlay.PeerCatalog
	metrics  *Metrics
	provider selfInfoProvider

	limiter *rate.Limiter

	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewPresenceFeed creates a presence gossip feed. metrics may be nil. The
// publish side is rate-limited to one announcement per
// presenceAnnounceInterval (burst 2, covering the immediate startup
// announce plus one ticker-driven one) so a caller driving announce()
// outside the ticker — a future manual "re-announce now" trigger — can
// never flood the topic.
func NewPresenceFeed(self overlay.PeerId, pubsub overlay.GossipPubSub, catalog *overlay.PeerCatalog, metrics *Metrics, provider selfInfoProvider) *PresenceFeed {
	return &PresenceFeed{
		self:     self,
		pubsub:   pubsub,
		catalog:  catalog,
		metrics:  metrics,
		provider: provider,
		limiter:  rate.NewLimiter(rate.Every(presenceAnnounceInterval), 2),
		done:     make(chan struct{}),
	}
}

// Start subscribes to the presence topic and begins the periodic
// self-announce loop.
func (p *PresenceFeed) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	unsub, err := p.pubsub.Subscribe(presenceTopic, p.handleMessage)
	if err != nil {
		return err
	}
	p.unsubscribe = unsub

	go p.announceLoop()
	return nil
}

// Stop unsubscribes from the topic and waits for the announce loop to exit.
func (p *PresenceFeed) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	<-p.done
}

func (p *PresenceFeed) announceLoop() {
	defer close(p.done)

	p.announce()

	ticker := time.NewTicker(presenceAnnounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.announce()
		}
	}
}

func (p *PresenceFeed) announce() {
	if !p.limiter.Allow() {
		slog.Debug("discovery: presence announce rate-limited")
		return
	}

	addrs, caps, version := p.provider()
	addrStrs := make([]string, 0, len(addrs))
	for _, a := range addrs {
		addrStrs = append(addrStrs, string(a))
	}

	ann := presenceAnnouncement{
		Type:         "presence",
		Version:      1,
		Peer:         p.self.String(),
		Addresses:    addrStrs,
		Capabilities: caps,
		NodeVersion:  version,
		Timestamp:    time.Now().Unix(),
	}
	data, err := json.Marshal(&ann)
	if err != nil {
		slog.Warn("discovery: presence marshal failed", "error", err)
		return
	}
	if err := p.pubsub.Publish(p.ctx, presenceTopic, data); err != nil {
		slog.Debug("discovery: presence publish failed", "error", err)
	}
}

// handleMessage is the GossipPubSub subscription callback. It never
// trusts the sender's identity in the frame itself: from (supplied by
// the pubsub layer) is what's used, not ann.Peer.
func (p *PresenceFeed) handleMessage(from overlay.PeerId, data []byte) {
	if from == p.self {
		return
	}
	if len(data) > maxPresenceMessageSize {
		p.incMetric("oversized")
		return
	}

	var ann presenceAnnouncement
	if err := json.Unmarshal(data, &ann); err != nil {
		p.incMetric("invalid")
		return
	}
	if ann.Version != 1 {
		p.incMetric("invalid")
		return
	}

	addrs := make([]overlay.Address, 0, len(ann.Addresses))
	for _, a := range ann.Addresses {
		addrs = append(addrs, overlay.Address(a))
	}

	p.catalog.AddOrUpdate(overlay.PeerUpdate{
		ID:              from,
		Addresses:       addrs,
		Capabilities:    ann.Capabilities,
		Version:         ann.NodeVersion,
		DiscoveryMethod: overlay.DiscoveryPubSub,
	})
	p.incMetric("accepted")
}

func (p *PresenceFeed) incMetric(outcome string) {
	if p.metrics != nil {
		p.metrics.PresenceReceivedTotal.WithLabelValues(outcome).Inc()
	}
}
