package config

import (
	"bytes"
	"context"
	"fmt"
	"net/netip"
	"net/url"
	"os/exec"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/EvilSuperstars/go-cidrman"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"ssh-access-granting-service/types"
)

const (
	// DefaultConfigPath is the fixed local configuration file
	DefaultConfigPath = "/etc/ssh-access-granting-service.yaml"

	// InstanceMetadataPath holds the cloud-init user data used when no config file exists
	InstanceMetadataPath = "/var/lib/cloud/instance/user-data.txt"
)

var groupNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]*\$?$`)

// MetadataReader returns the raw instance metadata document
type MetadataReader func(ctx context.Context) ([]byte, error)

// ReadInstanceMetadata reads the cloud-init user data, which is only readable by root
func ReadInstanceMetadata(ctx context.Context) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "sudo", "cat", InstanceMetadataPath).Output()
	if err != nil {
		return nil, fmt.Errorf("failed to read instance metadata %s: %w", InstanceMetadataPath, err)
	}
	return out, nil
}

// Loader loads the configuration from a YAML file, falling back to instance metadata
type Loader struct {
	Fs       afero.Fs
	Metadata MetadataReader
}

// NewLoader creates a loader backed by the real filesystem and instance metadata
func NewLoader() *Loader {
	return &Loader{
		Fs:       afero.NewOsFs(),
		Metadata: ReadInstanceMetadata,
	}
}

// Load loads configuration from the default sources
func Load(ctx context.Context, configPath string) (*types.Config, error) {
	return NewLoader().Load(ctx, configPath)
}

// Load reads configPath (DefaultConfigPath when empty). When the file does not exist the
// instance metadata document is used instead.
func (l *Loader) Load(ctx context.Context, configPath string) (*types.Config, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	v := viper.New()
	v.SetFs(l.Fs)

	setDefaults(v)

	exists, err := afero.Exists(l.Fs, configPath)
	if err != nil {
		return nil, fmt.Errorf("error checking config file %s: %w", configPath, err)
	}

	if exists {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		if l.Metadata == nil {
			return nil, fmt.Errorf("config file %s not found and no metadata source available", configPath)
		}
		data, err := l.Metadata(ctx)
		if err != nil {
			return nil, err
		}
		v.SetConfigType("yaml")
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("error reading instance metadata: %w", err)
		}
	}

	config := &types.Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("allowed_remote_networks", []string{})
	v.SetDefault("user_groups", []string{"adm"})
	v.SetDefault("default_shell", "")
	v.SetDefault("fallback_user", "root")
	v.SetDefault("fallback_keys_file", "/root/.ssh/authorized_keys")
	v.SetDefault("temp_dir", "/run/shm")
	v.SetDefault("remote_user", "granting-service")
	v.SetDefault("remote_identity_files", []string{})
	v.SetDefault("key_path", "")
	v.SetDefault("log_path", "")
	v.SetDefault("log_level", "warning")
	v.SetDefault("dry_run", false)
	v.SetDefault("tunnel_host", "")
	v.SetDefault("host_id", "")
	v.SetDefault("heartbeat_interval_seconds", 60)
}

// validateConfig validates the configuration and fills in derived fields
func validateConfig(config *types.Config) error {
	if config.ServiceURL == "" {
		return fmt.Errorf("ssh_access_granting_service_url is required")
	}

	u, err := url.Parse(config.ServiceURL)
	if err != nil {
		return fmt.Errorf("invalid ssh_access_granting_service_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("ssh_access_granting_service_url must use http:// or https:// scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("ssh_access_granting_service_url must include a host")
	}
	config.ServiceURL = strings.TrimRight(config.ServiceURL, "/")

	networks, err := ParseNetworks(config.AllowedRemoteNetworks)
	if err != nil {
		return err
	}
	config.AllowedNetworks = networks

	for _, group := range config.UserGroups {
		if !groupNamePattern.MatchString(group) {
			return fmt.Errorf("invalid group name in user_groups: %q", group)
		}
	}

	if config.FallbackUser == "" {
		return fmt.Errorf("fallback_user is required")
	}
	if !path.IsAbs(config.FallbackKeysFile) {
		return fmt.Errorf("fallback_keys_file must be an absolute path, got %q", config.FallbackKeysFile)
	}
	if config.TempDir == "" {
		return fmt.Errorf("temp_dir is required")
	}
	if config.RemoteUser == "" {
		return fmt.Errorf("remote_user is required")
	}

	if _, err := logrus.ParseLevel(config.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}

	if config.HeartbeatIntervalSeconds < 0 {
		return fmt.Errorf("heartbeat_interval_seconds must be non-negative")
	}

	return nil
}

// ParseNetworks parses CIDR strings (bare addresses are treated as single hosts) and merges
// overlapping or adjacent networks. cidrman only understands IPv4, so IPv6 networks are
// kept as given, masked and deduplicated.
func ParseNetworks(cidrs []string) ([]netip.Prefix, error) {
	if len(cidrs) == 0 {
		return nil, nil
	}

	var (
		v4 []string
		v6 []netip.Prefix
	)
	for _, raw := range cidrs {
		prefix, err := parseNetwork(raw)
		if err != nil {
			return nil, err
		}
		if prefix.Addr().Is4() {
			v4 = append(v4, prefix.String())
			continue
		}
		if !slices.Contains(v6, prefix) {
			v6 = append(v6, prefix)
		}
	}

	networks := make([]netip.Prefix, 0, len(v4)+len(v6))
	if len(v4) > 0 {
		merged, err := cidrman.MergeCIDRs(v4)
		if err != nil {
			return nil, fmt.Errorf("failed to merge allowed_remote_networks: %w", err)
		}
		for _, cidr := range merged {
			prefix, err := netip.ParsePrefix(cidr)
			if err != nil {
				return nil, fmt.Errorf("invalid merged network %q: %w", cidr, err)
			}
			networks = append(networks, prefix)
		}
	}

	return append(networks, v6...), nil
}

// parseNetwork returns raw as a masked prefix; IPv4-mapped IPv6 networks become IPv4
func parseNetwork(raw string) (netip.Prefix, error) {
	cidr := strings.TrimSpace(raw)
	if !strings.Contains(cidr, "/") {
		addr, err := netip.ParseAddr(cidr)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid network in allowed_remote_networks: %q", raw)
		}
		cidr = netip.PrefixFrom(addr, addr.BitLen()).String()
	}

	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid network in allowed_remote_networks: %q: %w", raw, err)
	}

	if prefix.Addr().Is4In6() && prefix.Bits() >= 96 {
		prefix = netip.PrefixFrom(prefix.Addr().Unmap(), prefix.Bits()-96)
	}
	return prefix.Masked(), nil
}

// ValidateAgent checks the settings required by agent mode
func ValidateAgent(config *types.Config) error {
	if config.TunnelHost == "" {
		return fmt.Errorf("tunnel_host is required")
	}

	u, err := url.Parse(config.TunnelHost)
	if err != nil {
		return fmt.Errorf("invalid tunnel_host URL: %w", err)
	}

	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("tunnel_host URL must use ws:// or wss:// scheme, got %q", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("tunnel_host URL must include a host")
	}

	if config.HostID == "" {
		return fmt.Errorf("host_id is required")
	}

	if config.KeyPath == "" {
		return fmt.Errorf("key_path is required")
	}

	return nil
}
