// Package reputation persists per-peer interaction history to disk so a
// restarted daemon can seed PeerCatalog scores from prior sessions
// instead of starting every peer at its discovery-method default.
package reputation

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/nodeweave/overlay/pkg/overlay"
)

// Record holds interaction history for a single peer, keyed by its
// string-encoded PeerId.
type Record struct {
	PeerID          string         `json:"peer_id"`
	FirstSeen       time.Time      `json:"first_seen"`
	LastSeen        time.Time      `json:"last_seen"`
	ConnectionCount int            `json:"connection_count"`
	AvgLatencyMs    float64        `json:"avg_latency_ms"`
	PathTypes       map[string]int `json:"path_types"` // "direct":12, "relay":3
}

// History manages a local, disk-backed interaction history file.
type History struct {
	mu      sync.RWMutex
	path    string
	records map[string]*Record
}

// NewHistory creates or loads a history from the given file path.
func NewHistory(path string) *History {
	h := &History{path: path, records: make(map[string]*Record)}
	_ = h.Load() // best-effort load
	return h
}

// RecordConnection updates connection count, last_seen, path type counts,
// and running average latency for a peer.
func (h *History) RecordConnection(peerID overlay.PeerId, pathType string, latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := peerID.String()
	r, ok := h.records[id]
	if !ok {
		r = &Record{PeerID: id, FirstSeen: time.Now(), PathTypes: make(map[string]int)}
		h.records[id] = r
	}

	r.LastSeen = time.Now()
	r.ConnectionCount++
	if pathType != "" {
		r.PathTypes[pathType]++
	}
	if latencyMs > 0 {
		r.AvgLatencyMs += (latencyMs - r.AvgLatencyMs) / float64(r.ConnectionCount)
	}
}

// Get returns a copy of the record for the given peer, or nil if not found.
func (h *History) Get(peerID overlay.PeerId) *Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.records[peerID.String()]
	if !ok {
		return nil
	}
	cp := *r
	cp.PathTypes = make(map[string]int, len(r.PathTypes))
	for k, v := range r.PathTypes {
		cp.PathTypes[k] = v
	}
	return &cp
}

// Count returns the number of peers tracked.
func (h *History) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Load reads the history file from disk.
func (h *History) Load() error {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read history: %w", err)
	}

	var records map[string]*Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse history: %w", err)
	}

	h.mu.Lock()
	h.records = records
	h.mu.Unlock()
	return nil
}

// Save writes the history file to disk atomically.
func (h *History) Save() error {
	h.mu.RLock()
	data, err := json.MarshalIndent(h.records, "", "  ")
	h.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	tmpPath := h.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, h.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// SeedCatalog pushes every persisted record's running latency average
// and path-type mix into catalog's score factors for peers it already
// knows about, so a warm restart doesn't discard prior sessions' signal.
// It never inserts new peer records — discovery still owns that.
func (h *History) SeedCatalog(catalog *overlay.PeerCatalog) {
	for _, rec := range catalog.TopN(math.MaxInt) {
		id := rec.ID
		r := h.Get(id)
		if r == nil {
			continue
		}
		if r.AvgLatencyMs > 0 {
			catalog.RecordLatency(id, r.AvgLatencyMs)
		}
		if relayed, direct := r.PathTypes["relay"], r.PathTypes["direct"]; relayed+direct > 0 {
			catalog.UpdateScore(id, overlay.ScoreFactorsUpdate{
				RelayCapability: floatPtr(float64(relayed) / float64(relayed+direct)),
			})
		}
	}
}

func floatPtr(v float64) *float64 { return &v }
