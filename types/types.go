package types

import (
	"net/netip"
	"time"
)

// Command is one of the two access actions this service performs
type Command string

const (
	CommandGrant  Command = "grant-ssh-access"
	CommandRevoke Command = "revoke-ssh-access"
)

// AccessRequest is a validated grant or revoke request
type AccessRequest struct {
	Command    Command `json:"command"`
	UserName   string  `json:"userName"`
	RemoteHost string  `json:"remoteHost,omitempty"`
	KeepLocal  bool    `json:"keepLocal,omitempty"`
}

// Account describes an existing local account
type Account struct {
	Name    string
	HomeDir string
}

// AccountSpec describes an account to be created
type AccountSpec struct {
	Name    string
	Groups  []string
	Shell   string
	Comment string
}

// ForwardedRequest represents a request forwarded by the tunnel backend
type ForwardedRequest struct {
	Headers map[string]interface{}   `json:"headers"`
	Method  string                   `json:"method"`
	Path    string                   `json:"path"`
	Params  map[string]interface{}   `json:"params"`
	Data    interface{}              `json:"data"`
	Options *ForwardedRequestOptions `json:"options,omitempty"`
}

// ForwardedRequestOptions contains options for forwarded requests
type ForwardedRequestOptions struct {
	TimeoutMillis *int `json:"timeoutMillis,omitempty"`
}

// ForwardedResponse represents the agent's reply to a forwarded request
type ForwardedResponse struct {
	Headers    map[string]interface{} `json:"headers"`
	Status     int                    `json:"status"`
	StatusText string                 `json:"statusText"`
	Data       interface{}            `json:"data"`
}

// SetClientIDRequest is used for the setClientId RPC call
type SetClientIDRequest struct {
	ClientID string `json:"clientId"`
}

// Config holds the service configuration
type Config struct {
	ServiceURL            string   `mapstructure:"ssh_access_granting_service_url" yaml:"ssh_access_granting_service_url"`
	AllowedRemoteNetworks []string `mapstructure:"allowed_remote_networks" yaml:"allowed_remote_networks"`
	UserGroups            []string `mapstructure:"user_groups" yaml:"user_groups"`

	DefaultShell     string `mapstructure:"default_shell" yaml:"default_shell,omitempty"`
	FallbackUser     string `mapstructure:"fallback_user" yaml:"fallback_user"`
	FallbackKeysFile string `mapstructure:"fallback_keys_file" yaml:"fallback_keys_file"`
	TempDir          string `mapstructure:"temp_dir" yaml:"temp_dir"`

	RemoteUser          string   `mapstructure:"remote_user" yaml:"remote_user"`
	RemoteIdentityFiles []string `mapstructure:"remote_identity_files" yaml:"remote_identity_files,omitempty"`

	KeyPath  string `mapstructure:"key_path" yaml:"key_path,omitempty"` // JWK directory used to sign key-service requests
	LogPath  string `mapstructure:"log_path" yaml:"log_path,omitempty"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	DryRun   bool   `mapstructure:"dry_run" yaml:"dry_run"` // If true, log OS commands but don't execute them

	// Agent mode
	TunnelHost               string `mapstructure:"tunnel_host" yaml:"tunnel_host,omitempty"`
	HostID                   string `mapstructure:"host_id" yaml:"host_id,omitempty"`
	HeartbeatIntervalSeconds int    `mapstructure:"heartbeat_interval_seconds" yaml:"heartbeat_interval_seconds"`

	// AllowedNetworks is AllowedRemoteNetworks parsed and merged during validation
	AllowedNetworks []netip.Prefix `mapstructure:"-" yaml:"-"`
}

// GetLogPath returns the configured log file path
func (c *Config) GetLogPath() string {
	return c.LogPath
}

// GetLogLevel returns the configured log level
func (c *Config) GetLogLevel() string {
	return c.LogLevel
}

// GetClientID returns the agent client ID in the format ${hostId}:ssh-access
func (c *Config) GetClientID() string {
	return c.HostID + ":ssh-access"
}

// GetHeartbeatInterval returns the agent heartbeat interval
func (c *Config) GetHeartbeatInterval() time.Duration {
	if c.HeartbeatIntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}
