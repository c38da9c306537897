package identity

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/nodeweave/overlay/pkg/overlay"
)

func TestLoadOrCreateIdentityGeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")

	priv, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}
	if priv == nil {
		t.Fatal("expected a non-nil private key")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
		t.Errorf("permissions = %v, want 0600", info.Mode().Perm())
	}
}

func TestLoadOrCreateIdentityReloadsSameKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")

	priv1, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity (create): %v", err)
	}
	priv2, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity (reload): %v", err)
	}
	if !priv1.Equals(priv2) {
		t.Fatal("expected reloaded key to equal the generated key")
	}
}

func TestPeerIDFromKeyFileIsStableAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")

	id1, err := PeerIDFromKeyFile(path)
	if err != nil {
		t.Fatalf("PeerIDFromKeyFile (create): %v", err)
	}
	id2, err := PeerIDFromKeyFile(path)
	if err != nil {
		t.Fatalf("PeerIDFromKeyFile (reload): %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected stable PeerId, got %s then %s", id1, id2)
	}

	var _ overlay.PeerId = id1 // PeerId is an alias for peer.ID; assignability is the contract under test
}

func TestCheckKeyFilePermissionsRejectsWorldReadable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")
	if err := os.WriteFile(path, []byte("not-a-real-key"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := CheckKeyFilePermissions(path); err == nil {
		t.Fatal("expected error for world-readable key file")
	}
}

func TestCheckKeyFilePermissionsAcceptsOwnerOnly(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")
	if err := os.WriteFile(path, []byte("not-a-real-key"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := CheckKeyFilePermissions(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadOrCreateIdentityRejectsInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")
	if _, err := LoadOrCreateIdentity(path); err != nil {
		t.Fatalf("LoadOrCreateIdentity (create): %v", err)
	}
	if err := os.Chmod(path, 0644); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
	if _, err := LoadOrCreateIdentity(path); err == nil {
		t.Fatal("expected error loading a key file with insecure permissions")
	}
}
