// Package config provides configuration loading and defaults for the
// zone-migrate toolkit.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Deployment modes for the orchestrator.
const (
	// ModeHeadnode runs the orchestrator on a coordinating head node; both
	// the source and target compute node are reached over SSH.
	ModeHeadnode = "headnode"
	// ModeDirect runs the orchestrator on the source compute node itself;
	// source-side commands run locally, only the target is reached over SSH.
	ModeDirect = "direct"
)

// VM lifecycle backends.
const (
	BackendVmadm   = "vmadm"
	BackendLibvirt = "libvirt"
)

// ResourceFilter holds allowlist and denylist entries for VMs eligible for
// migration. Entries match either the VM uuid or its alias.
type ResourceFilter struct {
	Allowlist []string `yaml:"allowlist"`
	Denylist  []string `yaml:"denylist"`
}

// SSHConfig holds the fixed identity used for remote command execution on
// compute nodes.
type SSHConfig struct {
	User         string `yaml:"user"`
	IdentityFile string `yaml:"identity_file"`
	Port         int    `yaml:"port"`
}

// CloudAPIConfig holds connection details for the control-plane directory
// API (VM and server lookups).
type CloudAPIConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	// Timeout is the HTTP request timeout in seconds.
	Timeout int `yaml:"timeout"`
}

// PathsConfig holds filesystem paths used by the toolkit.
type PathsConfig struct {
	// RecordDir is where migration records and VM metadata backups live.
	RecordDir string `yaml:"record_dir"`
	// LibvirtSocket is used only by the libvirt lifecycle backend.
	LibvirtSocket string `yaml:"libvirt_socket"`
}

// AuditConfig controls audit logging behaviour.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	LogPath string `yaml:"log_path"`
}

// ServerConfig holds network and authentication settings for `zmigrate serve`.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Config is the top-level configuration structure for zone-migrate.
type Config struct {
	// Mode selects the deployment mode: "headnode" or "direct".
	Mode string `yaml:"mode"`
	// SnapshotName is the default label for migration snapshots.
	SnapshotName string `yaml:"snapshot_name"`
	// Backend selects the VM lifecycle backend: "vmadm" or "libvirt".
	Backend string `yaml:"backend"`

	SSH      SSHConfig      `yaml:"ssh"`
	CloudAPI CloudAPIConfig `yaml:"cloudapi"`
	Paths    PathsConfig    `yaml:"paths"`
	Safety   ResourceFilter `yaml:"safety"`
	Audit    AuditConfig    `yaml:"audit"`
	Server   ServerConfig   `yaml:"server"`
}

// LoadConfig reads and parses a YAML configuration file from the given path.
// It returns a pointer to the populated Config and any error encountered.
// On error, nil is returned for the config pointer.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a new Config populated with sensible default values.
// Each call returns a distinct instance.
func DefaultConfig() *Config {
	return &Config{
		Mode:         ModeHeadnode,
		SnapshotName: "migration",
		Backend:      BackendVmadm,
		SSH: SSHConfig{
			User:         "root",
			IdentityFile: "/root/.ssh/id_rsa",
			Port:         22,
		},
		CloudAPI: CloudAPIConfig{
			URL:     "http://vmapi.local",
			Timeout: 30,
		},
		Paths: PathsConfig{
			RecordDir:     "/var/db/zone-migrate",
			LibvirtSocket: "/var/run/libvirt/libvirt-sock",
		},
		Audit: AuditConfig{
			Enabled: true,
			LogPath: "/var/log/zone-migrate/audit.log",
		},
		Server: ServerConfig{
			Port: 8080,
		},
	}
}

// Validate checks that mode and backend carry known values and that the
// fields every subcommand depends on are present.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeHeadnode, ModeDirect:
	default:
		return fmt.Errorf("config: unknown mode %q (want %q or %q)", c.Mode, ModeHeadnode, ModeDirect)
	}
	switch c.Backend {
	case BackendVmadm, BackendLibvirt:
	default:
		return fmt.Errorf("config: unknown backend %q (want %q or %q)", c.Backend, BackendVmadm, BackendLibvirt)
	}
	if c.Paths.RecordDir == "" {
		return fmt.Errorf("config: paths.record_dir must not be empty")
	}
	if c.SnapshotName == "" {
		return fmt.Errorf("config: snapshot_name must not be empty")
	}
	return nil
}

// ApplyEnvOverrides updates cfg in place with values from environment variables.
// Recognized variables:
//   - ZMIGRATE_AUTH_TOKEN overrides cfg.Server.AuthToken
//   - ZMIGRATE_CLOUDAPI_URL overrides cfg.CloudAPI.URL
//   - ZMIGRATE_CLOUDAPI_KEY overrides cfg.CloudAPI.APIKey
func ApplyEnvOverrides(cfg *Config) {
	if token := os.Getenv("ZMIGRATE_AUTH_TOKEN"); token != "" {
		cfg.Server.AuthToken = token
	}
	if url := os.Getenv("ZMIGRATE_CLOUDAPI_URL"); url != "" {
		cfg.CloudAPI.URL = url
	}
	if key := os.Getenv("ZMIGRATE_CLOUDAPI_KEY"); key != "" {
		cfg.CloudAPI.APIKey = key
	}
}

// EnsureAuthToken generates a random auth token and sets it on cfg if
// cfg.Server.AuthToken is empty. It returns the token (existing or generated)
// and any error encountered during generation.
func EnsureAuthToken(cfg *Config) (string, error) {
	if cfg.Server.AuthToken != "" {
		return cfg.Server.AuthToken, nil
	}
	token, err := GenerateRandomToken()
	if err != nil {
		return "", fmt.Errorf("generate auth token: %w", err)
	}
	cfg.Server.AuthToken = token
	return token, nil
}

// GenerateRandomToken returns a 32-character hex-encoded cryptographically
// random token string.
func GenerateRandomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("rand.Read: %w", err)
	}
	return hex.EncodeToString(b), nil
}
