package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nodeweave/overlay/pkg/overlay"
)

// checkConfigFilePermissions returns an error if a config file has overly permissive
// permissions (group/world readable). Config files may reference a
// private identity key file, so a loose mode is worth failing loudly on.
func checkConfigFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return nil // file access errors are handled by the caller
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Errorf("config file %s has overly permissive mode %04o; expected 0600 — fix with: chmod 600 %s", path, mode, path)
	}
	return nil
}

// Load reads and parses the overlay daemon's YAML config file, returning
// both the raw file config and the derived overlay.RouterConfig /
// overlay.DiscoveryConfig with defaults applied.
func Load(path string) (*FileConfig, overlay.RouterConfig, overlay.DiscoveryConfig, error) {
	var zero overlay.RouterConfig
	var zeroDisc overlay.DiscoveryConfig

	if err := checkConfigFilePermissions(path); err != nil {
		return nil, zero, zeroDisc, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, zero, zeroDisc, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, zero, zeroDisc, fmt.Errorf("failed to parse YAML: %w", err)
	}

	version := fc.Version
	if version == 0 {
		version = 1
	}
	if version > CurrentConfigVersion {
		return nil, zero, zeroDisc, fmt.Errorf("%w: version %d is newer than supported version %d; please upgrade", ErrConfigVersionTooNew, version, CurrentConfigVersion)
	}
	fc.Version = version

	router, err := toRouterConfig(fc.Router)
	if err != nil {
		return nil, zero, zeroDisc, fmt.Errorf("router: %w", err)
	}
	discovery, err := toDiscoveryConfig(fc.Discovery)
	if err != nil {
		return nil, zero, zeroDisc, fmt.Errorf("discovery: %w", err)
	}

	return &fc, router, discovery, nil
}

func toRouterConfig(in RouterConfig) (overlay.RouterConfig, error) {
	var out overlay.RouterConfig
	out.MaxHops = in.MaxHops
	out.RouteCacheSize = in.RouteCacheSize

	if in.MessageTTL != "" {
		d, err := time.ParseDuration(in.MessageTTL)
		if err != nil {
			return out, fmt.Errorf("invalid message_ttl: %w", err)
		}
		out.MessageTTL = d
	}
	if in.RouteCacheTTL != "" {
		d, err := time.ParseDuration(in.RouteCacheTTL)
		if err != nil {
			return out, fmt.Errorf("invalid route_cache_ttl: %w", err)
		}
		out.RouteCacheTTL = d
	}
	if in.ConnectionTimeout != "" {
		d, err := time.ParseDuration(in.ConnectionTimeout)
		if err != nil {
			return out, fmt.Errorf("invalid connection_timeout: %w", err)
		}
		out.ConnectionTimeout = d
	}
	out.ApplyDefaults()
	if in.EnableRelayRouting != nil {
		out.SetEnableRelayRouting(*in.EnableRelayRouting)
	}
	if in.PreferDirectRoutes != nil {
		out.SetPreferDirectRoutes(*in.PreferDirectRoutes)
	}
	return out, nil
}

func toDiscoveryConfig(in DiscoveryConfig) (overlay.DiscoveryConfig, error) {
	var out overlay.DiscoveryConfig
	out.BootstrapPeers = append([]string{}, in.BootstrapPeers...)
	out.MaxPeers = in.MaxPeers

	if in.DiscoveryInterval != "" {
		d, err := time.ParseDuration(in.DiscoveryInterval)
		if err != nil {
			return out, fmt.Errorf("invalid discovery_interval: %w", err)
		}
		out.DiscoveryInterval = d
	}
	if in.PeerTimeout != "" {
		d, err := time.ParseDuration(in.PeerTimeout)
		if err != nil {
			return out, fmt.Errorf("invalid peer_timeout: %w", err)
		}
		out.PeerTimeout = d
	}
	out.ApplyDefaults()
	if in.EnableMDNS != nil {
		out.SetMDNSEnabled(*in.EnableMDNS)
	}
	if in.EnableDHT != nil {
		out.SetDHTEnabled(*in.EnableDHT)
	}
	if in.EnableBootstrap != nil {
		out.SetBootstrapEnabled(*in.EnableBootstrap)
	}
	if in.EnablePubSub != nil {
		out.SetPubSubEnabled(*in.EnablePubSub)
	}
	return out, nil
}

// FindConfigFile searches for an overlay daemon config file in standard
// locations. Search order: explicitPath (if given), ./overlayd.yaml,
// ~/.config/overlayd/config.yaml, /etc/overlayd/config.yaml.
func FindConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("%w: %s", ErrConfigNotFound, explicitPath)
		}
		return explicitPath, nil
	}

	searchPaths := []string{"overlayd.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "overlayd", "config.yaml"))
	}
	searchPaths = append(searchPaths, filepath.Join("/etc", "overlayd", "config.yaml"))

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w; searched:\n  %s\n\nRun with --config <path> to point at one directly", ErrConfigNotFound, strings.Join(searchPaths, "\n  "))
}

// Validate checks the fields Load cannot validate via type parsing alone.
func Validate(fc *FileConfig) error {
	if fc.Identity.KeyFile == "" {
		return fmt.Errorf("identity.key_file is required")
	}
	if len(fc.Network.ListenAddresses) == 0 {
		return fmt.Errorf("network.listen_addresses must contain at least one address")
	}
	return nil
}

// ResolveConfigPaths resolves a relative identity key file path to be
// relative to the config file's directory.
func ResolveConfigPaths(fc *FileConfig, configDir string) {
	if fc.Identity.KeyFile != "" && !filepath.IsAbs(fc.Identity.KeyFile) {
		fc.Identity.KeyFile = filepath.Join(configDir, fc.Identity.KeyFile)
	}
}

// DefaultConfigDir returns the default overlay daemon config directory
// (~/.config/overlayd).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "overlayd"), nil
}
