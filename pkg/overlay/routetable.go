package overlay

import (
	"sort"
	"sync"
	"time"
)

// RouteTable is the learned, bounded cache of destination -> next-hop
// commitments described in §4.2. It never performs its own discovery:
// it is fed connected-peer snapshots and path observations by the
// Forwarder and by a ConnectedPeerSource adapter.
type RouteTable struct {
	cfg     RouterConfig
	catalog *PeerCatalog
	metrics *Metrics
	signals *signalBus

	mu        sync.RWMutex
	routes    map[PeerId]*Route
	connected map[PeerId]struct{}
}

// NewRouteTable constructs a RouteTable. catalog supplies relay
// candidates for the speculative two-hop synthesis in Find.
func NewRouteTable(cfg RouterConfig, catalog *PeerCatalog, metrics *Metrics, signals *signalBus) *RouteTable {
	return &RouteTable{
		cfg:       cfg,
		catalog:   catalog,
		metrics:   metrics,
		signals:   signals,
		routes:    make(map[PeerId]*Route),
		connected: make(map[PeerId]struct{}),
	}
}

// SetConnectedPeers replaces the known-connected set with a fresh
// snapshot from a ConnectedPeerSource, ensuring a cached direct-route
// entry exists for every newly-connected peer (§4.2).
func (t *RouteTable) SetConnectedPeers(peers map[PeerId]struct{}) {
	t.mu.Lock()
	newlyConnected := make([]PeerId, 0, len(peers))
	for p := range peers {
		if _, already := t.connected[p]; !already {
			newlyConnected = append(newlyConnected, p)
		}
	}
	t.connected = make(map[PeerId]struct{}, len(peers))
	for p := range peers {
		t.connected[p] = struct{}{}
	}
	t.mu.Unlock()

	for _, p := range newlyConnected {
		t.directRoute(p)
	}
}

// IsConnected reports whether p is in the most recent connected snapshot.
func (t *RouteTable) IsConnected(p PeerId) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.connected[p]
	return ok
}

// UpdatePeerLatency stores an externally-measured latency; if a cached
// 1-hop route to peerId exists, its latency field is updated in place.
func (t *RouteTable) UpdatePeerLatency(peerId PeerId, ms float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.routes[peerId]; ok && r.HopCount == 1 {
		r.LatencyMs = ms
	}
}

// directRoute returns the cached 1-hop route for a connected peer,
// creating and caching it (latency seeded from the catalog, or 100ms
// when unknown) if one does not already exist.
func (t *RouteTable) directRoute(target PeerId) Route {
	latency := t.directLatency(target)

	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.routes[target]; ok && r.HopCount == 1 && r.NextHop == target {
		r.LastUsed = time.Now()
		return *r
	}
	r := &Route{
		TargetPeer:  target,
		NextHop:     target,
		HopCount:    1,
		LatencyMs:   latency,
		SuccessRate: 1.0,
		CreatedAt:   time.Now(),
		LastUsed:    time.Now(),
	}
	t.routes[target] = r
	t.reportSizeLocked()
	return *r
}

func (t *RouteTable) directLatency(p PeerId) float64 {
	if t.catalog != nil {
		if rec, ok := t.catalog.ByID(p); ok {
			return latencyMsFromFactor(rec.factors.Latency)
		}
	}
	return 100
}

func latencyMsFromFactor(factor float64) float64 {
	return (1 - factor) * 5000
}

// Find resolves a route to target, in the §4.2 order: a connected peer
// always resolves to its cached direct route; failing that, a valid
// (non-expired) cached route is returned; failing that, findRelay is
// consulted and its result cached.
func (t *RouteTable) Find(target PeerId) (Route, bool) {
	if t.IsConnected(target) {
		route := t.directRoute(target)
		t.reportHit()
		return route, true
	}

	t.mu.Lock()
	if r, ok := t.routes[target]; ok {
		if time.Since(r.CreatedAt) <= t.cfg.RouteCacheTTL {
			r.LastUsed = time.Now()
			cp := *r
			t.mu.Unlock()
			t.reportHit()
			return cp, true
		}
		delete(t.routes, target)
	}
	t.mu.Unlock()

	if route, ok := t.findRelay(target); ok {
		t.reportHit()
		return route, true
	}

	t.reportMiss()
	return Route{}, false
}

// findRelay synthesizes a speculative 2-hop route through the
// highest-scoring currently-connected relay candidate (excluding the
// destination itself), per §4.2/§9's deterministic resolution of
// "arbitrary currently-connected peer". Returns false if relay routing
// is disabled or no connected candidate qualifies.
func (t *RouteTable) findRelay(destination PeerId) (Route, bool) {
	if !t.cfg.EnableRelayRouting() || t.catalog == nil {
		return Route{}, false
	}

	candidates := t.catalog.RoutingCandidates(destination)
	filtered := make([]PeerRecord, 0, len(candidates))
	for _, c := range candidates {
		if c.ID == destination {
			continue
		}
		if !t.IsConnected(c.ID) {
			continue
		}
		filtered = append(filtered, c)
	}

	best, ok := highestScoring(filtered)
	if !ok {
		return Route{}, false
	}

	route := Route{
		TargetPeer:  destination,
		NextHop:     best.ID,
		HopCount:    2,
		LatencyMs:   2 * latencyMsFromFactor(best.factors.Latency),
		SuccessRate: 0.5,
		CreatedAt:   time.Now(),
		LastUsed:    time.Now(),
	}
	t.AddRoute(route)
	return route, true
}

// highestScoring resolves the §9 open question deterministically: among
// tied top scores, the peer with the lexicographically smaller PeerId
// wins, so repeated calls against the same catalog snapshot are stable.
func highestScoring(candidates []PeerRecord) (PeerRecord, bool) {
	if len(candidates) == 0 {
		return PeerRecord{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score || (c.Score == best.Score && c.ID < best.ID) {
			best = c
		}
	}
	return best, true
}

// AddRoute inserts a route if none exists for its target, or replaces
// the existing entry only when strictly better: a smaller hopCount, or
// equal hopCount with strictly lower latency (§4.2). The table is
// pruned of its lowest-value entry first if at capacity and the target
// is new.
func (t *RouteTable) AddRoute(r Route) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.routes[r.TargetPeer]; ok {
		if !routeStrictlyBetter(r, *existing) {
			return
		}
	} else if len(t.routes) >= t.cfg.RouteCacheSize {
		t.evictOneLocked()
	}

	if r.SuccessRate == 0 {
		r.SuccessRate = 0.8
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.LastUsed.IsZero() {
		r.LastUsed = time.Now()
	}
	t.routes[r.TargetPeer] = &r
	t.reportSizeLocked()
}

func routeStrictlyBetter(candidate, existing Route) bool {
	if candidate.HopCount < existing.HopCount {
		return true
	}
	return candidate.HopCount == existing.HopCount && candidate.LatencyMs < existing.LatencyMs
}

// evictOneLocked removes the lowest-scoring entry, breaking ties by
// PeerId for determinism. Caller holds t.mu.
func (t *RouteTable) evictOneLocked() {
	var victim PeerId
	var victimScore float64
	found := false
	for target, r := range t.routes {
		s := routeScore(*r, t.cfg.MaxHops, t.cfg.RouteCacheTTL)
		if !found || s < victimScore || (s == victimScore && target < victim) {
			victim, victimScore, found = target, s, true
		}
	}
	if found {
		delete(t.routes, victim)
		if t.metrics != nil {
			t.metrics.RoutePruneTotal.Inc()
		}
	}
}

// routeScore weighs hop-count closeness, latency closeness, successRate,
// and freshness since last use. Higher is better; it decides eviction
// order (§4.2). Relay candidates are ranked by catalog score instead.
func routeScore(r Route, maxHops int, cacheTTL time.Duration) float64 {
	if maxHops <= 0 {
		maxHops = 1
	}
	hopCloseness := 1 - float64(r.HopCount)/float64(maxHops)
	latencyCloseness := 1 - minFloat(1, r.LatencyMs/1000)
	freshness := 1.0
	if cacheTTL > 0 {
		freshness = 1 - minFloat(1, time.Since(r.LastUsed).Seconds()/cacheTTL.Seconds())
	}
	return 0.30*hopCloseness + 0.20*latencyCloseness + 0.40*r.SuccessRate + 0.10*freshness
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// RecordSuccess nudges a cached route's SuccessRate toward 1 after a
// successful send: +0.05, clipped to [0,1].
func (t *RouteTable) RecordSuccess(target PeerId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.routes[target]; ok {
		r.SuccessRate = clip(r.SuccessRate + 0.05)
		r.LastUsed = time.Now()
	}
}

// RecordFailure nudges a cached route's SuccessRate toward 0 after a
// failed send: -0.10, clipped to [0,1]. A route whose successRate drops
// below 0.2 (strictly; exactly 0.2 survives) is evicted immediately
// rather than waiting for TTL or size pruning.
func (t *RouteTable) RecordFailure(target PeerId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.routes[target]
	if !ok {
		return
	}
	r.SuccessRate = clip(r.SuccessRate - 0.10)
	if r.SuccessRate < 0.2 {
		delete(t.routes, target)
		if t.metrics != nil {
			t.metrics.RoutePruneTotal.Inc()
		}
		return
	}
	r.LastUsed = time.Now()
}

// LearnFromPath derives routes from an observed message's full recorded
// path (source first, most recent deliverer last). The peer that
// delivered the message directly to selfId sits at the end of the path
// and becomes the next hop for every upstream node still in it, at the
// hop count implied by its position — matching scenario S3, where
// path=[X,Y,B] observed at A yields routes X->B hop=3 and Y->B hop=2.
// Each derived route is inserted via AddRoute's strict-improvement rule,
// so a learned route never worsens an existing one. Pruning runs once
// afterward to enforce the cache size bound.
func (t *RouteTable) LearnFromPath(selfId PeerId, path []PeerId) {
	if len(path) < 2 {
		return
	}
	nextHop := path[len(path)-1]
	for i := 0; i < len(path)-1; i++ {
		target := path[i]
		if target == selfId {
			continue
		}
		hopCount := len(path) - i
		t.AddRoute(Route{
			TargetPeer:  target,
			NextHop:     nextHop,
			HopCount:    hopCount,
			LatencyMs:   float64(hopCount) * 100,
			SuccessRate: 0.7,
		})
	}
	t.prune()
}

// prune removes the lowest-scoring entries until the table is back at
// or under RouteCacheSize.
func (t *RouteTable) prune() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.routes) > t.cfg.RouteCacheSize {
		t.evictOneLocked()
	}
	t.reportSizeLocked()
}

// CleanupExpired removes every cached route older than RouteCacheTTL.
func (t *RouteTable) CleanupExpired() int {
	cutoff := time.Now().Add(-t.cfg.RouteCacheTTL)
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for target, r := range t.routes {
		if r.CreatedAt.Before(cutoff) {
			delete(t.routes, target)
			removed++
		}
	}
	if removed > 0 && t.metrics != nil {
		t.metrics.RoutePruneTotal.Add(float64(removed))
	}
	t.reportSizeLocked()
	return removed
}

// HasRoute reports whether a non-expired cached route exists for target.
// It does not consult connectivity or synthesize a speculative route.
func (t *RouteTable) HasRoute(target PeerId) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[target]
	if !ok {
		return false
	}
	return time.Since(r.CreatedAt) <= t.cfg.RouteCacheTTL
}

// GetAll returns a snapshot of every cached route.
func (t *RouteTable) GetAll() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Route, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetPeer < out[j].TargetPeer })
	return out
}

// GetRoutableDestinations returns every destination currently reachable,
// either through a live connection or a cached route.
func (t *RouteTable) GetRoutableDestinations() []PeerId {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[PeerId]struct{}, len(t.connected)+len(t.routes))
	for p := range t.connected {
		seen[p] = struct{}{}
	}
	for p := range t.routes {
		seen[p] = struct{}{}
	}
	out := make([]PeerId, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RouteTableStats summarizes cache occupancy for diagnostics.
type RouteTableStats struct {
	CachedRoutes       int
	ConnectedPeers     int
	AverageSuccessRate float64
}

// GetStats reports a point-in-time summary.
func (t *RouteTable) GetStats() RouteTableStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	stats := RouteTableStats{CachedRoutes: len(t.routes), ConnectedPeers: len(t.connected)}
	if len(t.routes) == 0 {
		return stats
	}
	var sum float64
	for _, r := range t.routes {
		sum += r.SuccessRate
	}
	stats.AverageSuccessRate = sum / float64(len(t.routes))
	return stats
}

func (t *RouteTable) reportHit() {
	if t.metrics != nil {
		t.metrics.RouteCacheHitTotal.Inc()
	}
}

func (t *RouteTable) reportMiss() {
	if t.metrics != nil {
		t.metrics.RouteCacheMissTotal.Inc()
	}
	if t.signals != nil {
		t.signals.emit(Signal{Kind: SignalRouteNotFound})
	}
}

// reportSizeLocked updates the gauge; caller holds t.mu.
func (t *RouteTable) reportSizeLocked() {
	if t.metrics != nil {
		t.metrics.RouteCacheSize.Set(float64(len(t.routes)))
	}
}
