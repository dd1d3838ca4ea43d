// Package config provides configuration loading and management for the calendar sync server.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceKind identifies the synchronization protocol a source speaks.
type SourceKind string

const (
	// SourceKindCursor is a remote calendar API supporting incremental sync cursors
	SourceKindCursor SourceKind = "cursor"

	// SourceKindFeed is a read-only feed subscription fetched whole on every sync
	SourceKindFeed SourceKind = "feed"
)

const (
	// DefaultWorkers is the default fan-out bound for SyncAll
	DefaultWorkers = 4

	// DefaultListenAddress is the default address for the HTTP API
	DefaultListenAddress = ":8080"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// InstanceName is the name/identifier for this sync server instance.
	// Defaults to "default" if not specified.
	InstanceName string          `yaml:"instanceName,omitempty"`
	Sources      []SourceConfig  `yaml:"sources"`
	Database     *DatabaseConfig `yaml:"database,omitempty"`

	// SyncPolicy is the default policy applied to sources without their own
	SyncPolicy *SyncPolicyConfig `yaml:"syncPolicy,omitempty"`

	// Workers bounds how many sources SyncAll processes concurrently
	Workers int `yaml:"workers,omitempty"`

	// Server configures the HTTP API
	Server *ServerConfig `yaml:"server,omitempty"`
}

// SourceConfig defines a single calendar source configuration
type SourceConfig struct {
	// Name is the native identifier for this source, unique across the config
	Name string `yaml:"name"`

	// Enabled controls whether the orchestrator syncs this source.
	// Defaults to true; disabled sources are skipped, never deleted.
	Enabled *bool `yaml:"enabled,omitempty"`

	// Kind-specific configurations (only one should be set)
	API  *APIConfig  `yaml:"api,omitempty"`
	Feed *FeedConfig `yaml:"feed,omitempty"`

	// Per-source sync policy, overriding the top-level one
	SyncPolicy *SyncPolicyConfig `yaml:"syncPolicy,omitempty"`
}

// APIConfig defines a cursor-capable remote calendar API source
type APIConfig struct {
	// Endpoint is the base API URL (without path). The remote client appends
	// calendar paths, for instance /calendars/{id}/events.
	Endpoint string `yaml:"endpoint"`

	// CalendarID is the calendar identifier on the remote, e.g. "primary"
	CalendarID string `yaml:"calendarId"`

	// PageSize is the maximum events requested per page (remote may return fewer)
	PageSize int `yaml:"pageSize,omitempty"`
}

// FeedConfig defines a read-only feed subscription source
type FeedConfig struct {
	// URL is the feed endpoint serving an iCalendar payload
	URL string `yaml:"url"`
}

// SyncPolicyConfig defines synchronization settings
type SyncPolicyConfig struct {
	Interval string `yaml:"interval"`
}

// ServerConfig defines HTTP API settings
type ServerConfig struct {
	Address string `yaml:"address,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// The file should contain only the password with optional trailing whitespace.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from CALSYNC_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv("CALSYNC_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or CALSYNC_DATABASE_PASSWORD environment variable",
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	escapedPassword := url.QueryEscape(password)

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User,
		escapedPassword,
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetInstanceName returns the instance name, using "default" if not specified
func (c *Config) GetInstanceName() string {
	if c.InstanceName == "" {
		return "default"
	}
	return c.InstanceName
}

// GetWorkers returns the SyncAll fan-out bound, applying the default
func (c *Config) GetWorkers() int {
	if c.Workers <= 0 {
		return DefaultWorkers
	}
	return c.Workers
}

// GetListenAddress returns the HTTP API listen address, applying the default
func (c *Config) GetListenAddress() string {
	if c.Server == nil || c.Server.Address == "" {
		return DefaultListenAddress
	}
	return c.Server.Address
}

// FindSource returns the source config with the given source ID, or nil
func (c *Config) FindSource(sourceID string) *SourceConfig {
	for i := range c.Sources {
		if c.Sources[i].SourceID() == sourceID {
			return &c.Sources[i]
		}
	}
	return nil
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}

	sourceNames := make(map[string]bool)
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.Name == "" {
			return fmt.Errorf("source[%d]: name is required", i)
		}

		if sourceNames[src.Name] {
			return fmt.Errorf("source[%d]: duplicate source name '%s'", i, src.Name)
		}
		sourceNames[src.Name] = true

		if err := c.validateSourceConfig(src, i); err != nil {
			return err
		}
	}

	if c.SyncPolicy != nil {
		if err := validateSyncPolicy(c.SyncPolicy, "syncPolicy"); err != nil {
			return err
		}
	}

	return nil
}

// validateSourceConfig validates a single source configuration
func (c *Config) validateSourceConfig(src *SourceConfig, index int) error {
	prefix := fmt.Sprintf("source[%d] (%s)", index, src.Name)

	// A source without its own sync policy falls back to the top-level one
	if src.SyncPolicy != nil {
		if err := validateSyncPolicy(src.SyncPolicy, prefix); err != nil {
			return err
		}
	} else if c.SyncPolicy == nil {
		return fmt.Errorf("%s: syncPolicy.interval is required (set per source or at top level)", prefix)
	}

	if err := validateSourceKindCount(src, prefix); err != nil {
		return err
	}

	return validateSourceSpecificConfig(src, prefix)
}

// validateSyncPolicy validates the sync policy configuration
func validateSyncPolicy(policy *SyncPolicyConfig, prefix string) error {
	if policy == nil || policy.Interval == "" {
		return fmt.Errorf("%s: syncPolicy.interval is required", prefix)
	}

	if _, err := time.ParseDuration(policy.Interval); err != nil {
		return fmt.Errorf("%s: syncPolicy.interval must be a valid duration (e.g., '30m', '1h'): %w", prefix, err)
	}

	return nil
}

// validateSourceKindCount ensures exactly one source kind is configured
func validateSourceKindCount(src *SourceConfig, prefix string) error {
	configCount := 0
	if src.API != nil {
		configCount++
	}
	if src.Feed != nil {
		configCount++
	}

	if configCount == 0 {
		return fmt.Errorf("%s: one of api or feed configuration must be specified", prefix)
	}
	if configCount > 1 {
		return fmt.Errorf("%s: only one of api or feed configuration may be specified", prefix)
	}

	return nil
}

// validateSourceSpecificConfig validates the configuration for each source kind
func validateSourceSpecificConfig(src *SourceConfig, prefix string) error {
	if src.API != nil {
		if src.API.Endpoint == "" {
			return fmt.Errorf("%s: api.endpoint is required", prefix)
		}
		if src.API.CalendarID == "" {
			return fmt.Errorf("%s: api.calendarId is required", prefix)
		}
		return nil
	}

	if src.Feed != nil && src.Feed.URL == "" {
		return fmt.Errorf("%s: feed.url is required", prefix)
	}

	return nil
}

// GetKind returns the inferred kind of the source config based on which field is present
func (s *SourceConfig) GetKind() SourceKind {
	if s.API != nil {
		return SourceKindCursor
	}
	if s.Feed != nil {
		return SourceKindFeed
	}
	return ""
}

// SourceID returns the globally unique source identifier, formatted <kind>:<name>
func (s *SourceConfig) SourceID() string {
	return fmt.Sprintf("%s:%s", s.GetKind(), s.Name)
}

// IsEnabled reports whether the orchestrator should sync this source
func (s *SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// GetInterval returns the effective sync interval for this source, falling
// back to the provided default policy when the source has none of its own.
func (s *SourceConfig) GetInterval(fallback *SyncPolicyConfig) (time.Duration, error) {
	policy := s.SyncPolicy
	if policy == nil {
		policy = fallback
	}
	if policy == nil || policy.Interval == "" {
		return 0, fmt.Errorf("source %s: no sync interval configured", s.Name)
	}
	return time.ParseDuration(policy.Interval)
}
