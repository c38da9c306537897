package reputation

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nodeweave/overlay/pkg/overlay"
)

func TestHistoryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peer_history.json")

	h := NewHistory(path)
	h.RecordConnection(overlay.PeerId("peer-A"), "direct", 10.0)
	h.RecordConnection(overlay.PeerId("peer-A"), "relay", 50.0)
	h.RecordConnection(overlay.PeerId("peer-B"), "direct", 5.0)

	if err := h.Save(); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	h2 := NewHistory(path)
	if h2.Count() != 2 {
		t.Fatalf("Count = %d, want 2", h2.Count())
	}

	r := h2.Get(overlay.PeerId("peer-A"))
	if r == nil {
		t.Fatal("peer-A not found")
	}
	if r.ConnectionCount != 2 {
		t.Errorf("connection_count = %d, want 2", r.ConnectionCount)
	}
	if r.PathTypes["direct"] != 1 {
		t.Errorf("path_types[direct] = %d, want 1", r.PathTypes["direct"])
	}
	if r.PathTypes["relay"] != 1 {
		t.Errorf("path_types[relay] = %d, want 1", r.PathTypes["relay"])
	}
}

func TestHistoryRunningAverage(t *testing.T) {
	dir := t.TempDir()
	h := NewHistory(filepath.Join(dir, "history.json"))

	h.RecordConnection(overlay.PeerId("peer-X"), "direct", 10.0)
	h.RecordConnection(overlay.PeerId("peer-X"), "direct", 20.0)
	h.RecordConnection(overlay.PeerId("peer-X"), "direct", 30.0)

	r := h.Get(overlay.PeerId("peer-X"))
	if r == nil {
		t.Fatal("peer-X not found")
	}
	if r.AvgLatencyMs < 19.9 || r.AvgLatencyMs > 20.1 {
		t.Errorf("avg_latency_ms = %f, want ~20.0", r.AvgLatencyMs)
	}
}

func TestHistoryConcurrentAccess(t *testing.T) {
	dir := t.TempDir()
	h := NewHistory(filepath.Join(dir, "history.json"))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.RecordConnection(overlay.PeerId("peer-concurrent"), "direct", 5.0)
		}()
	}
	wg.Wait()

	r := h.Get(overlay.PeerId("peer-concurrent"))
	if r == nil {
		t.Fatal("peer-concurrent not found")
	}
	if r.ConnectionCount != 100 {
		t.Errorf("connection_count = %d, want 100", r.ConnectionCount)
	}
}

func TestHistoryEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nonexistent.json")

	h := NewHistory(path)
	if h.Count() != 0 {
		t.Errorf("Count = %d, want 0", h.Count())
	}
	if r := h.Get(overlay.PeerId("nobody")); r != nil {
		t.Error("expected nil for unknown peer")
	}
}

func TestHistoryGetReturnsCopy(t *testing.T) {
	dir := t.TempDir()
	h := NewHistory(filepath.Join(dir, "history.json"))

	h.RecordConnection(overlay.PeerId("peer-copy"), "direct", 10.0)

	r := h.Get(overlay.PeerId("peer-copy"))
	r.ConnectionCount = 999
	r.PathTypes["hacked"] = 1

	r2 := h.Get(overlay.PeerId("peer-copy"))
	if r2.ConnectionCount != 1 {
		t.Errorf("mutation leaked: connection_count = %d, want 1", r2.ConnectionCount)
	}
	if _, ok := r2.PathTypes["hacked"]; ok {
		t.Error("mutation leaked: path_types contains 'hacked'")
	}
}

func TestHistorySaveCreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subdir", "history.json")
	os.MkdirAll(filepath.Dir(path), 0700)

	h := NewHistory(path)
	h.RecordConnection(overlay.PeerId("peer-save"), "direct", 1.0)

	if err := h.Save(); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat error: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("permissions = %v, want 0600", info.Mode().Perm())
	}
}

func TestHistorySeedCatalogOnlyUpdatesKnownPeers(t *testing.T) {
	dir := t.TempDir()
	h := NewHistory(filepath.Join(dir, "history.json"))
	h.RecordConnection(overlay.PeerId("peer-known"), "direct", 100.0)
	h.RecordConnection(overlay.PeerId("peer-unknown"), "direct", 100.0)

	cfg := overlay.DiscoveryConfig{}
	cfg.ApplyDefaults()
	catalog := overlay.NewPeerCatalog(cfg, nil, nil)
	catalog.AddOrUpdate(overlay.PeerUpdate{ID: overlay.PeerId("peer-known"), DiscoveryMethod: overlay.DiscoveryManual})

	h.SeedCatalog(catalog)

	rec, ok := catalog.ByID(overlay.PeerId("peer-known"))
	if !ok {
		t.Fatal("expected known peer to remain present")
	}
	if rec.Score == 0.9 { // DiscoveryManual's initial composite score, unchanged by seeding would be a bug
		t.Fatal("expected seeded latency to change the composite score")
	}
	if _, ok := catalog.ByID(overlay.PeerId("peer-unknown")); ok {
		t.Fatal("expected SeedCatalog to never insert new peers")
	}
}
