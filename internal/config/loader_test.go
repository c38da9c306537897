package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "overlayd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTestConfig(t, `
identity:
  key_file: identity.key
network:
  listen_addresses:
    - /ip4/0.0.0.0/tcp/4001
`)

	fc, router, discovery, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fc.Version != 1 {
		t.Fatalf("expected default version 1, got %d", fc.Version)
	}
	if router.MaxHops != 5 {
		t.Fatalf("expected default MaxHops 5, got %d", router.MaxHops)
	}
	if discovery.MaxPeers != 1000 {
		t.Fatalf("expected default MaxPeers 1000, got %d", discovery.MaxPeers)
	}
	if !discovery.IsMDNSEnabled() {
		t.Fatal("expected mdns enabled by default")
	}
}

func TestLoadParsesDurationsAndToggles(t *testing.T) {
	path := writeTestConfig(t, `
identity:
  key_file: identity.key
network:
  listen_addresses:
    - /ip4/0.0.0.0/tcp/4001
router:
  max_hops: 3
  message_ttl: 30s
  enable_relay_routing: false
discovery:
  enable_mdns: false
  peer_timeout: 10s
  bootstrap_peers:
    - /ip4/1.2.3.4/tcp/4001/p2p/12D3KooWAbc
`)

	_, router, discovery, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if router.MaxHops != 3 {
		t.Fatalf("expected MaxHops 3, got %d", router.MaxHops)
	}
	if router.MessageTTL.String() != "30s" {
		t.Fatalf("expected MessageTTL 30s, got %v", router.MessageTTL)
	}
	if router.EnableRelayRouting() {
		t.Fatal("expected relay routing disabled")
	}
	if discovery.IsMDNSEnabled() {
		t.Fatal("expected mdns disabled")
	}
	if discovery.PeerTimeout.String() != "10s" {
		t.Fatalf("expected PeerTimeout 10s, got %v", discovery.PeerTimeout)
	}
	if len(discovery.BootstrapPeers) != 1 {
		t.Fatalf("expected 1 bootstrap peer, got %d", len(discovery.BootstrapPeers))
	}
}

func TestLoadRejectsFutureVersion(t *testing.T) {
	path := writeTestConfig(t, `
version: 99
identity:
  key_file: identity.key
network:
  listen_addresses: ["/ip4/0.0.0.0/tcp/4001"]
`)
	if _, _, _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported config version")
	}
}

func TestLoadRejectsPermissiveFileMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overlayd.yaml")
	if err := os.WriteFile(path, []byte("identity:\n  key_file: x\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := Load(path); err == nil {
		t.Fatal("expected error for world-readable config file")
	}
}

func TestValidateRequiresIdentityAndListenAddresses(t *testing.T) {
	if err := Validate(&FileConfig{}); err == nil {
		t.Fatal("expected error for missing identity key file")
	}
	fc := &FileConfig{Identity: IdentityConfig{KeyFile: "k"}}
	if err := Validate(fc); err == nil {
		t.Fatal("expected error for missing listen addresses")
	}
}

func TestFindConfigFileExplicitPath(t *testing.T) {
	path := writeTestConfig(t, "identity:\n  key_file: x\n")
	got, err := FindConfigFile(path)
	if err != nil || got != path {
		t.Fatalf("expected explicit path returned, got %q err=%v", got, err)
	}
}

func TestFindConfigFileMissingExplicitPath(t *testing.T) {
	if _, err := FindConfigFile("/nonexistent/overlayd.yaml"); err == nil {
		t.Fatal("expected error for missing explicit config path")
	}
}
