package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/sync/errgroup"
)

// PeerUpdate is the input to PeerCatalog.AddOrUpdate: everything a
// discovery feed learns about a candidate peer. Score and its factors
// are catalog-owned and never accepted from the caller.
type PeerUpdate struct {
	ID              PeerId
	Addresses       []Address
	Capabilities    []string
	Version         string
	DiscoveryMethod DiscoveryMethod
	Metadata        map[string]string
}

// ScoreFactorsUpdate is a partial ScoreFactors: nil fields are left
// unchanged by UpdateScore.
type ScoreFactorsUpdate struct {
	Latency         *float64
	Uptime          *float64
	MessageSuccess  *float64
	RelayCapability *float64
}

// PeerCatalog is the scored catalogue of reachable peers, bounded to
// MaxPeers records and fed by multiple discovery methods.
type PeerCatalog struct {
	cfg     DiscoveryConfig
	metrics *Metrics
	signals *signalBus

	mu     sync.RWMutex
	selfId PeerId
	peers  map[PeerId]*PeerRecord

	ctx        context.Context
	cancel     context.CancelFunc
	eg         *errgroup.Group
	running    atomic.Bool
	discoveryBusy atomic.Bool
	cleanupBusy   atomic.Bool
}

// NewPeerCatalog constructs a PeerCatalog. cfg should already have
// ApplyDefaults called; metrics and signals may be nil.
func NewPeerCatalog(cfg DiscoveryConfig, metrics *Metrics, signals *signalBus) *PeerCatalog {
	return &PeerCatalog{
		cfg:     cfg,
		metrics: metrics,
		signals: signals,
		peers:   make(map[PeerId]*PeerRecord),
	}
}

// Start is idempotent: schedules the discovery cycle and staleness
// sweep. Calling Start on an already-started catalog is a no-op.
func (c *PeerCatalog) Start(ctx context.Context, selfId PeerId) {
	if !c.running.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	c.selfId = selfId
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	c.ctx = runCtx
	c.cancel = cancel
	eg, egCtx := errgroup.WithContext(runCtx)
	c.eg = eg

	eg.Go(func() error { c.discoveryLoop(egCtx); return nil })
	eg.Go(func() error { c.cleanupLoop(egCtx); return nil })

	c.emit(SignalInitialized, "", "peer catalog started")
	slog.Info("peercatalog: started", "self", selfId.String())
}

// Stop is idempotent: cancels the background loops and waits for them.
func (c *PeerCatalog) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	c.cancel()
	_ = c.eg.Wait()
}

func (c *PeerCatalog) discoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.DiscoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.discoveryBusy.CompareAndSwap(false, true) {
				continue // prior tick still running, skip
			}
			c.runDiscoveryCycle()
			c.discoveryBusy.Store(false)
		}
	}
}

func (c *PeerCatalog) cleanupLoop(ctx context.Context) {
	interval := c.cfg.PeerTimeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.cleanupBusy.CompareAndSwap(false, true) {
				continue
			}
			c.sweepStale()
			c.cleanupBusy.Store(false)
		}
	}
}

// runDiscoveryCycle re-seeds the catalog from BootstrapPeers, parsing
// the trailing /p2p/<id> segment of each address.
func (c *PeerCatalog) runDiscoveryCycle() {
	if !c.cfg.IsBootstrapEnabled() {
		return
	}
	cycleID := uuid.NewString()
	seeded := 0
	for _, addr := range c.cfg.BootstrapPeers {
		id, addrs, ok := peerFromBootstrapAddr(addr)
		if !ok {
			continue
		}
		c.AddOrUpdate(PeerUpdate{
			ID:              id,
			Addresses:       addrs,
			DiscoveryMethod: DiscoveryBootstrap,
		})
		seeded++
	}
	slog.Debug("peercatalog: discovery cycle", "cycle_id", cycleID, "seeded", seeded)
}

// peerFromBootstrapAddr parses a multiaddr string's trailing /p2p/<id>
// component into a PeerId, returning the full address for storage.
func peerFromBootstrapAddr(addr Address) (PeerId, []Address, bool) {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return "", nil, false
	}
	var idStr string
	ma.ForEach(m, func(comp ma.Component) bool {
		if comp.Protocol().Code == ma.P_P2P {
			idStr = comp.Value()
		}
		return true
	})
	if idStr == "" {
		return "", nil, false
	}
	id, err := peer.Decode(idStr)
	if err != nil {
		return "", nil, false
	}
	return id, []Address{addr}, true
}

// sweepStale removes records whose lastSeen predates PeerTimeout.
func (c *PeerCatalog) sweepStale() {
	cutoff := time.Now().Add(-c.cfg.PeerTimeout)
	c.mu.Lock()
	for id, rec := range c.peers {
		if rec.LastSeen.Before(cutoff) {
			delete(c.peers, id)
		}
	}
	size := len(c.peers)
	c.mu.Unlock()
	c.reportSize(size)
}

// AddOrUpdate merges a discovered candidate into the catalog, per §4.1:
// known peers have addresses/capabilities merged, version overwritten
// when provided, metadata merged (later keys win), lastSeen bumped;
// unknown peers are inserted after ensuring capacity.
func (c *PeerCatalog) AddOrUpdate(u PeerUpdate) *PeerRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	if u.ID == c.selfId && c.selfId != "" {
		return nil // no record keyed by self
	}

	now := time.Now()
	if rec, ok := c.peers[u.ID]; ok {
		rec.Addresses = mergeAddresses(rec.Addresses, u.Addresses)
		rec.Capabilities = mergeStrings(rec.Capabilities, u.Capabilities)
		if u.Version != "" {
			rec.Version = u.Version
		}
		for k, v := range u.Metadata {
			if rec.Metadata == nil {
				rec.Metadata = make(map[string]string)
			}
			rec.Metadata[k] = v
		}
		rec.LastSeen = now
		return rec
	}

	c.ensureCapacityLocked()

	version := u.Version
	if version == "" {
		version = "unknown"
	}
	method := u.DiscoveryMethod
	rec := &PeerRecord{
		ID:              u.ID,
		Addresses:       mergeAddresses(nil, u.Addresses),
		Capabilities:    mergeStrings(nil, u.Capabilities),
		Version:         version,
		DiscoveredAt:    now,
		LastSeen:        now,
		DiscoveryMethod: method,
		Score:           method.initialScore(),
		Metadata:        copyMetadata(u.Metadata),
		factors:         defaultScoreFactors(),
	}
	c.peers[u.ID] = rec
	c.reportSize(len(c.peers))
	return rec
}

// ensureCapacityLocked evicts the lowest-scoring non-bootstrap peer when
// the catalog is at MaxPeers. If every current peer is bootstrap-discovered
// (the only way size-eviction may ever touch a bootstrap peer), the
// lowest-scoring peer overall is evicted instead, preserving the size bound.
func (c *PeerCatalog) ensureCapacityLocked() {
	if len(c.peers) < c.cfg.MaxPeers {
		return
	}
	var victim *PeerRecord
	var victimIsBootstrap bool
	for _, rec := range c.peers {
		isBootstrap := rec.DiscoveryMethod == DiscoveryBootstrap
		switch {
		case victim == nil:
			victim, victimIsBootstrap = rec, isBootstrap
		case !isBootstrap && victimIsBootstrap:
			victim, victimIsBootstrap = rec, isBootstrap
		case isBootstrap == victimIsBootstrap && rec.Score < victim.Score:
			victim, victimIsBootstrap = rec, isBootstrap
		}
	}
	if victim == nil {
		return
	}
	delete(c.peers, victim.ID)
	reason := "size"
	if victimIsBootstrap {
		reason = "size_bootstrap_exhausted"
	}
	if c.metrics != nil {
		c.metrics.PeerCatalogEvictionTotal.WithLabelValues(reason).Inc()
	}
}

// Remove drops a record; idempotent.
func (c *PeerCatalog) Remove(id PeerId) {
	c.mu.Lock()
	delete(c.peers, id)
	size := len(c.peers)
	c.mu.Unlock()
	c.reportSize(size)
}

// UpdateScore merges provided factors into stored factors (missing
// fields unchanged) and recomputes the composite score.
func (c *PeerCatalog) UpdateScore(id PeerId, u ScoreFactorsUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.peers[id]
	if !ok {
		return
	}
	if u.Latency != nil {
		rec.factors.Latency = *u.Latency
	}
	if u.Uptime != nil {
		rec.factors.Uptime = *u.Uptime
	}
	if u.MessageSuccess != nil {
		rec.factors.MessageSuccess = *u.MessageSuccess
	}
	if u.RelayCapability != nil {
		rec.factors.RelayCapability = *u.RelayCapability
	}
	rec.Score = rec.factors.composite()
}

// RecordLatency sets the latency factor from an observed round-trip
// time: max(0, 1 - ms/5000).
func (c *PeerCatalog) RecordLatency(id PeerId, ms float64) {
	v := 1 - ms/5000
	if v < 0 {
		v = 0
	}
	c.UpdateScore(id, ScoreFactorsUpdate{Latency: &v})
}

// RecordMessageSuccess nudges the message-success factor: +0.05 on
// success, -0.10 on failure, clipped to [0,1].
func (c *PeerCatalog) RecordMessageSuccess(id PeerId, ok bool) {
	c.mu.Lock()
	rec, exists := c.peers[id]
	if !exists {
		c.mu.Unlock()
		return
	}
	delta := -0.10
	if ok {
		delta = 0.05
	}
	v := clip(rec.factors.MessageSuccess + delta)
	c.mu.Unlock()
	c.UpdateScore(id, ScoreFactorsUpdate{MessageSuccess: &v})
}

// RecordUptime nudges the uptime factor: +0.01 connected, -0.05 disconnected.
func (c *PeerCatalog) RecordUptime(id PeerId, connected bool) {
	c.mu.Lock()
	rec, exists := c.peers[id]
	if !exists {
		c.mu.Unlock()
		return
	}
	delta := -0.05
	if connected {
		delta = 0.01
	}
	v := clip(rec.factors.Uptime + delta)
	c.mu.Unlock()
	c.UpdateScore(id, ScoreFactorsUpdate{Uptime: &v})
}

// ByID returns a copy of the record for id, if known.
func (c *PeerCatalog) ByID(id PeerId) (PeerRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.peers[id]
	if !ok {
		return PeerRecord{}, false
	}
	return *rec, true
}

// ByCapability returns peers whose capability list contains sub as a
// substring of any entry.
func (c *PeerCatalog) ByCapability(sub string) []PeerRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []PeerRecord
	for _, rec := range c.peers {
		if rec.hasCapabilitySubstring(sub) {
			out = append(out, *rec)
		}
	}
	sortByScoreDesc(out)
	return out
}

// ByMinScore returns peers scoring at least min, sorted descending.
func (c *PeerCatalog) ByMinScore(min float64) []PeerRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []PeerRecord
	for _, rec := range c.peers {
		if rec.Score >= min {
			out = append(out, *rec)
		}
	}
	sortByScoreDesc(out)
	return out
}

// TopN returns the n highest-scoring peers.
func (c *PeerCatalog) TopN(n int) []PeerRecord {
	c.mu.RLock()
	out := make([]PeerRecord, 0, len(c.peers))
	for _, rec := range c.peers {
		out = append(out, *rec)
	}
	c.mu.RUnlock()
	sortByScoreDesc(out)
	if n < len(out) {
		out = out[:n]
	}
	return out
}

// RelayPeers returns peers advertising the "relay" capability.
func (c *PeerCatalog) RelayPeers() []PeerRecord {
	return c.ByCapability(RelayCapability)
}

// RoutingCandidates implements the candidate selection used by
// RouteTable.findRelay: if a direct record for target exists with
// score > 0.5, return just that; otherwise up to 5 relay peers scoring
// above 0.3.
func (c *PeerCatalog) RoutingCandidates(target PeerId) []PeerRecord {
	c.mu.RLock()
	direct, ok := c.peers[target]
	c.mu.RUnlock()
	if ok && direct.Score > 0.5 {
		return []PeerRecord{*direct}
	}

	relays := c.RelayPeers()
	var out []PeerRecord
	for _, r := range relays {
		if r.Score > 0.3 {
			out = append(out, r)
		}
		if len(out) == 5 {
			break
		}
	}
	return out
}

// peerExportRecord is the persisted export shape: just enough to seed a
// fresh catalog with known-good addresses and scores, not a full
// PeerRecord dump.
type peerExportRecord struct {
	ID           string   `json:"id"`
	Addresses    []string `json:"addresses"`
	Capabilities []string `json:"capabilities"`
	Score        float64  `json:"score"`
}

// Export serializes every catalog entry to the persisted peer-list
// format, sorted by ID for a stable diff between snapshots.
func (c *PeerCatalog) Export() ([]byte, error) {
	c.mu.RLock()
	records := make([]peerExportRecord, 0, len(c.peers))
	for _, p := range c.peers {
		addrs := make([]string, 0, len(p.Addresses))
		for _, a := range p.Addresses {
			addrs = append(addrs, string(a))
		}
		records = append(records, peerExportRecord{
			ID:           p.ID.String(),
			Addresses:    addrs,
			Capabilities: append([]string{}, p.Capabilities...),
			Score:        p.Score,
		})
	}
	c.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return json.Marshal(records)
}

// Import seeds the catalog from a previously Exported peer list. Every
// imported peer is admitted as DiscoveryManual: an operator-supplied
// seed list is as trustworthy as a manually configured peer, and
// imported entries must survive the same eviction policy as any other
// manually added one.
func (c *PeerCatalog) Import(data []byte) error {
	var records []peerExportRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("peer catalog import: %w", err)
	}

	for _, rec := range records {
		id, err := peer.Decode(rec.ID)
		if err != nil {
			return fmt.Errorf("peer catalog import: invalid peer id %q: %w", rec.ID, err)
		}
		addrs := make([]Address, 0, len(rec.Addresses))
		for _, a := range rec.Addresses {
			addrs = append(addrs, Address(a))
		}
		c.AddOrUpdate(PeerUpdate{
			ID:              PeerId(id),
			Addresses:       addrs,
			Capabilities:    append([]string{}, rec.Capabilities...),
			DiscoveryMethod: DiscoveryManual,
		})
	}
	return nil
}

func (c *PeerCatalog) reportSize(n int) {
	if c.metrics != nil {
		c.metrics.PeerCatalogSize.Set(float64(n))
	}
}

func (c *PeerCatalog) emit(kind SignalKind, peer PeerId, msg string) {
	if c.signals != nil {
		c.signals.emit(Signal{Kind: kind, Peer: peer, Message: msg})
	}
}

func clip(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func sortByScoreDesc(recs []PeerRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
}

func mergeAddresses(existing []Address, add []Address) []Address {
	seen := make(map[Address]bool, len(existing))
	out := make([]Address, 0, len(existing)+len(add))
	for _, a := range existing {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	for _, a := range add {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	if len(out) > maxAddressesPerPeer {
		out = out[len(out)-maxAddressesPerPeer:]
	}
	return out
}

func mergeStrings(existing []string, add []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(add))
	for _, s := range existing {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range add {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// normalizeTopicLabel lower-cases and trims a topic name for use as a
// metric label.
func normalizeTopicLabel(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}
