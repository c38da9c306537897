package overlay

import (
	"testing"
	"time"
)

func newTestRouteTable(t *testing.T, cfg RouterConfig, catalog *PeerCatalog) *RouteTable {
	t.Helper()
	cfg.ApplyDefaults()
	return NewRouteTable(cfg, catalog, NewMetrics(), newSignalBus())
}

func TestFindReturnsDirectOneHopForConnectedPeer(t *testing.T) {
	rt := newTestRouteTable(t, RouterConfig{}, nil)
	p := newTestPeerID(t)
	rt.SetConnectedPeers(map[PeerId]struct{}{p: {}})

	route, ok := rt.Find(p)
	if !ok || route.HopCount != 1 || route.NextHop != p {
		t.Fatalf("expected direct 1-hop route, got %+v ok=%v", route, ok)
	}
}

func TestFindUsesCachedRouteBeforeTTLExpiry(t *testing.T) {
	rt := newTestRouteTable(t, RouterConfig{RouteCacheTTL: time.Hour}, nil)
	target := newTestPeerID(t)
	hop := newTestPeerID(t)
	rt.AddRoute(Route{TargetPeer: target, NextHop: hop, HopCount: 2, CreatedAt: time.Now(), LastUsed: time.Now()})

	route, ok := rt.Find(target)
	if !ok || route.NextHop != hop {
		t.Fatalf("expected cached route, got %+v ok=%v", route, ok)
	}
}

func TestFindIgnoresExpiredCachedRoute(t *testing.T) {
	rt := newTestRouteTable(t, RouterConfig{RouteCacheTTL: time.Millisecond}, nil)
	target := newTestPeerID(t)
	hop := newTestPeerID(t)
	rt.AddRoute(Route{TargetPeer: target, NextHop: hop, HopCount: 2, CreatedAt: time.Now().Add(-time.Hour), LastUsed: time.Now()})

	if rt.HasRoute(target) {
		t.Fatal("expired route should not be reported as present")
	}
	if _, ok := rt.Find(target); ok {
		t.Fatal("expected Find to ignore the expired cached route")
	}
}

func TestFindSynthesizesSpeculativeRelayRoute(t *testing.T) {
	catalog := newTestCatalog(t, DiscoveryConfig{})
	target := newTestPeerID(t)
	relay := newTestPeerID(t)
	catalog.AddOrUpdate(PeerUpdate{ID: relay, DiscoveryMethod: DiscoveryManual, Capabilities: []string{RelayCapability}})

	cfg := RouterConfig{}
	cfg.ApplyDefaults()
	cfg.SetEnableRelayRouting(true)
	rt := newTestRouteTable(t, cfg, catalog)
	rt.SetConnectedPeers(map[PeerId]struct{}{relay: {}})

	route, ok := rt.Find(target)
	if !ok || route.NextHop != relay || route.HopCount != 2 {
		t.Fatalf("expected synthesized 2-hop relay route, got %+v ok=%v", route, ok)
	}
	if !rt.HasRoute(target) {
		t.Fatal("expected synthesized route to be cached")
	}
}

func TestFindRelaySkipsDisconnectedCandidate(t *testing.T) {
	catalog := newTestCatalog(t, DiscoveryConfig{})
	target := newTestPeerID(t)
	relay := newTestPeerID(t)
	catalog.AddOrUpdate(PeerUpdate{ID: relay, DiscoveryMethod: DiscoveryManual, Capabilities: []string{RelayCapability}})

	cfg := RouterConfig{}
	cfg.ApplyDefaults()
	cfg.SetEnableRelayRouting(true)
	rt := newTestRouteTable(t, cfg, catalog)
	// relay is a qualifying candidate by score/capability but never
	// connected; findRelay must not synthesize a route through it.

	if _, ok := rt.Find(target); ok {
		t.Fatal("expected no route when the only candidate is disconnected")
	}
}

func TestFindDisabledRelayRoutingYieldsNoRoute(t *testing.T) {
	catalog := newTestCatalog(t, DiscoveryConfig{})
	target := newTestPeerID(t)
	relay := newTestPeerID(t)
	catalog.AddOrUpdate(PeerUpdate{ID: relay, DiscoveryMethod: DiscoveryManual, Capabilities: []string{RelayCapability}})

	cfg := RouterConfig{}
	cfg.ApplyDefaults()
	cfg.SetEnableRelayRouting(false)
	rt := newTestRouteTable(t, cfg, catalog)

	if _, ok := rt.Find(target); ok {
		t.Fatal("expected no route when relay routing disabled")
	}
}

func TestHighestScoringTiebreakIsDeterministic(t *testing.T) {
	a := PeerRecord{ID: PeerId("a"), Score: 0.5}
	b := PeerRecord{ID: PeerId("b"), Score: 0.5}
	got1, _ := highestScoring([]PeerRecord{a, b})
	got2, _ := highestScoring([]PeerRecord{b, a})
	if got1.ID != got2.ID {
		t.Fatalf("expected deterministic tie-break regardless of input order: %v vs %v", got1.ID, got2.ID)
	}
}

func TestRecordFailureDecaysAndEvictsBelowThreshold(t *testing.T) {
	// Mirrors scenario S6: three failures against successRate=0.4 step
	// 0.4 -> 0.30 -> 0.20 (kept, threshold is strict <) -> 0.10 (removed).
	rt := newTestRouteTable(t, RouterConfig{RouteCacheTTL: time.Hour}, nil)
	target := newTestPeerID(t)
	hop := newTestPeerID(t)
	rt.AddRoute(Route{TargetPeer: target, NextHop: hop, HopCount: 2, SuccessRate: 0.4, CreatedAt: time.Now(), LastUsed: time.Now()})

	rt.RecordFailure(target)
	route, ok := rt.Find(target)
	if !ok || route.SuccessRate < 0.29 || route.SuccessRate > 0.31 {
		t.Fatalf("expected success rate ~0.3 after first failure, got %+v ok=%v", route, ok)
	}

	rt.RecordFailure(target)
	if !rt.HasRoute(target) {
		t.Fatal("expected route kept at success rate 0.2 (threshold is strict <)")
	}

	rt.RecordFailure(target)
	if rt.HasRoute(target) {
		t.Fatal("expected route evicted once success rate drops below 0.2")
	}
}

func TestAddRoutePrunesLowestValueWhenFull(t *testing.T) {
	cfg := RouterConfig{RouteCacheSize: 1, RouteCacheTTL: time.Hour}
	rt := newTestRouteTable(t, cfg, nil)

	low := newTestPeerID(t)
	rt.AddRoute(Route{TargetPeer: low, NextHop: low, SuccessRate: 0.1, CreatedAt: time.Now(), LastUsed: time.Now()})

	high := newTestPeerID(t)
	rt.AddRoute(Route{TargetPeer: high, NextHop: high, SuccessRate: 0.9, CreatedAt: time.Now(), LastUsed: time.Now()})

	if rt.HasRoute(low) {
		t.Fatal("expected lowest-value route pruned to respect cache size bound")
	}
	if !rt.HasRoute(high) {
		t.Fatal("expected higher-value route retained")
	}
}

func TestLearnFromPathMatchesRelayLearnScenario(t *testing.T) {
	// Scenario S3: path=[X,Y,B] observed at A yields X->B hop=3 and
	// Y->B hop=2; B (the direct deliverer) is the next hop for both.
	rt := newTestRouteTable(t, RouterConfig{RouteCacheTTL: time.Hour}, nil)
	self := newTestPeerID(t)
	x := newTestPeerID(t)
	y := newTestPeerID(t)
	b := newTestPeerID(t)

	rt.LearnFromPath(self, []PeerId{x, y, b})

	routes := rt.GetAll()
	byTarget := make(map[PeerId]Route, len(routes))
	for _, r := range routes {
		byTarget[r.TargetPeer] = r
	}
	if r, ok := byTarget[x]; !ok || r.NextHop != b || r.HopCount != 3 {
		t.Fatalf("expected X->B hop=3, got %+v ok=%v", r, ok)
	}
	if r, ok := byTarget[y]; !ok || r.NextHop != b || r.HopCount != 2 {
		t.Fatalf("expected Y->B hop=2, got %+v ok=%v", r, ok)
	}
}

func TestLearnFromPathNeverWorsensExistingRoute(t *testing.T) {
	rt := newTestRouteTable(t, RouterConfig{RouteCacheTTL: time.Hour}, nil)
	source := newTestPeerID(t)
	goodHop := newTestPeerID(t)
	badHop := newTestPeerID(t)
	self := newTestPeerID(t)

	rt.LearnFromPath(self, []PeerId{source, goodHop})         // target=source, nextHop=goodHop, hop=2
	rt.LearnFromPath(self, []PeerId{source, goodHop, badHop}) // same target, hop=3: worse, must not replace

	routes := rt.GetAll()
	byTarget := make(map[PeerId]Route, len(routes))
	for _, r := range routes {
		byTarget[r.TargetPeer] = r
	}
	if r, ok := byTarget[source]; !ok || r.NextHop != goodHop || r.HopCount != 2 {
		t.Fatalf("expected the better (lower hop count) route to survive, got %+v ok=%v", r, ok)
	}
}

func TestLearnFromPathSkipsSelfAndPrunes(t *testing.T) {
	cfg := RouterConfig{RouteCacheSize: 1, RouteCacheTTL: time.Hour}
	rt := newTestRouteTable(t, cfg, nil)
	self := newTestPeerID(t)
	x := newTestPeerID(t)
	y := newTestPeerID(t)
	b := newTestPeerID(t)

	rt.LearnFromPath(self, []PeerId{self, x, y, b})

	routes := rt.GetAll()
	if len(routes) > cfg.RouteCacheSize {
		t.Fatalf("expected pruning to enforce cache size bound, got %d routes", len(routes))
	}
	for _, r := range routes {
		if r.TargetPeer == self {
			t.Fatal("expected no route keyed by self")
		}
	}
}

func TestCleanupExpiredRemovesStaleRoutes(t *testing.T) {
	rt := newTestRouteTable(t, RouterConfig{RouteCacheTTL: time.Millisecond}, nil)
	target := newTestPeerID(t)
	rt.AddRoute(Route{TargetPeer: target, NextHop: target, CreatedAt: time.Now().Add(-time.Hour), LastUsed: time.Now()})

	removed := rt.CleanupExpired()
	if removed != 1 {
		t.Fatalf("expected 1 route removed, got %d", removed)
	}
	if len(rt.GetAll()) != 0 {
		t.Fatal("expected route table empty after cleanup")
	}
}
