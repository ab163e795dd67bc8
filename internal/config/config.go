// Package config loads and validates cuba's engine configuration: named
// filesystems, named profiles that pair a source and destination filesystem
// with a transform policy, and the engine-wide concurrency/retry knobs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/cuba/cuba/pkg/utils"
)

// Configuration is the root configuration document.
type Configuration struct {
	Filesystems map[string]FilesystemSpec `yaml:"filesystems"`
	Profiles    map[string]ProfileSpec    `yaml:"profiles"`
	Engine      EngineConfig              `yaml:"engine"`
	Monitoring  MonitoringConfig          `yaml:"monitoring"`
	Security    SecurityConfig            `yaml:"security"`
	Logging     LoggingConfig             `yaml:"logging"`
}

// FilesystemSpec names one filesystem driver instance, tagged by Type.
type FilesystemSpec struct {
	Type   string      `yaml:"type"` // "local" | "webdav"
	Local  *LocalSpec  `yaml:"local,omitempty"`
	WebDAV *WebDAVSpec `yaml:"webdav,omitempty"`
}

// LocalSpec configures an os-backed filesystem driver.
type LocalSpec struct {
	RootPath string `yaml:"root_path"`
}

// WebDAVSpec configures a gowebdav-backed filesystem driver.
type WebDAVSpec struct {
	URL                string `yaml:"url"`
	Username           string `yaml:"username"`
	PasswordID         string `yaml:"password_id"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// ProfileSpec is a named unit of backup work (spec §3 Profile).
type ProfileSpec struct {
	SourceFilesystem string   `yaml:"source_filesystem"`
	SourcePath       string   `yaml:"source_path"`
	DestFilesystem   string   `yaml:"dest_filesystem"`
	DestPath         string   `yaml:"dest_path"`
	Include          []string `yaml:"include"`
	Exclude          []string `yaml:"exclude"`

	Compress         bool   `yaml:"compress"`
	CompressionLevel int    `yaml:"compression_level"`
	Encrypt          bool   `yaml:"encrypt"`
	PasswordID       string `yaml:"password_id,omitempty"`

	StrictChangeDetection bool `yaml:"strict_change_detection"`
	OverwriteOnRestore    bool `yaml:"overwrite_on_restore"`
}

// EngineConfig holds orchestrator-wide concurrency and resilience knobs.
type EngineConfig struct {
	WorkerThreads         int    `yaml:"worker_threads"`
	MaxConcurrentProfiles int    `yaml:"max_concurrent_profiles"`
	ChunkSize             string `yaml:"chunk_size"`

	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ChunkSizeBytes parses EngineConfig.ChunkSize, defaulting to 1 MiB.
func (e EngineConfig) ChunkSizeBytes() int64 {
	if e.ChunkSize == "" {
		return 1 << 20
	}
	n, err := utils.ParseBytes(e.ChunkSize)
	if err != nil || n <= 0 {
		return 1 << 20
	}
	return n
}

// RetryConfig governs the exponential backoff policy for filesystem ops.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig governs per-filesystem circuit breaking.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// MonitoringConfig groups optional observability surfaces.
type MonitoringConfig struct {
	Metrics      MetricsConfig      `yaml:"metrics"`
	HealthChecks HealthChecksConfig `yaml:"health_checks"`
}

// MetricsConfig configures the optional Prometheus exposition.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// HealthChecksConfig configures periodic filesystem health probing.
type HealthChecksConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SecurityConfig groups TLS behavior for network-backed filesystems.
type SecurityConfig struct {
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig controls certificate verification for WebDAV destinations.
type TLSConfig struct {
	VerifyCertificates bool   `yaml:"verify_certificates"`
	MinVersion         string `yaml:"min_version"`
}

// LoggingConfig controls the structured logger shared by the engine and
// message sink.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	Structured bool   `yaml:"structured"`
	Format     string `yaml:"format"`
}

// NewDefault returns a configuration with the engine's defaults applied.
// Filesystems and Profiles are left empty: they have no sensible default
// and must come from the loaded document.
func NewDefault() *Configuration {
	return &Configuration{
		Filesystems: map[string]FilesystemSpec{},
		Profiles:    map[string]ProfileSpec{},
		Engine: EngineConfig{
			WorkerThreads:         8,
			MaxConcurrentProfiles: 2,
			ChunkSize:             "1MB",
			Retry: RetryConfig{
				MaxAttempts: 5,
				BaseDelay:   100 * time.Millisecond,
				MaxDelay:    30 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          60 * time.Second,
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled: false,
				Port:    9090,
			},
			HealthChecks: HealthChecksConfig{
				Enabled:  true,
				Interval: 30 * time.Second,
				Timeout:  5 * time.Second,
			},
		},
		Security: SecurityConfig{
			TLS: TLSConfig{
				VerifyCertificates: true,
				MinVersion:         "1.2",
			},
		},
		Logging: LoggingConfig{
			Level:      "INFO",
			Structured: true,
			Format:     "json",
		},
	}
}

// LoadFromFile loads and unmarshals a YAML configuration document, leaving
// any field the document doesn't set at its current value.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv overlays a small set of CUBA_-prefixed environment variables
// onto an already-loaded configuration. Passwords are never read from the
// environment (spec §6): only engine, logging and metrics-enabled knobs
// are overridable.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("CUBA_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("CUBA_LOG_FILE"); val != "" {
		c.Logging.File = val
	}
	if val := os.Getenv("CUBA_WORKER_THREADS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Engine.WorkerThreads = n
		}
	}
	if val := os.Getenv("CUBA_MAX_CONCURRENT_PROFILES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Engine.MaxConcurrentProfiles = n
		}
	}
	if val := os.Getenv("CUBA_CHUNK_SIZE"); val != "" {
		c.Engine.ChunkSize = val
	}
	if val := os.Getenv("CUBA_METRICS_ENABLED"); val != "" {
		c.Monitoring.Metrics.Enabled = strings.ToLower(val) == "true"
	}

	return nil
}

// SaveToFile marshals the configuration as YAML. Used by the "config
// example write" CLI subcommand (an external collaborator; the function
// itself has no CLI dependency).
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks structural invariants: concurrency knobs are positive,
// every profile references a filesystem that exists, and encrypted profiles
// name a password id.
func (c *Configuration) Validate() error {
	if c.Engine.WorkerThreads <= 0 {
		return fmt.Errorf("engine.worker_threads must be greater than 0")
	}
	if c.Engine.MaxConcurrentProfiles <= 0 {
		return fmt.Errorf("engine.max_concurrent_profiles must be greater than 0")
	}
	if _, err := utils.ParseBytes(c.Engine.ChunkSize); c.Engine.ChunkSize != "" && err != nil {
		return fmt.Errorf("engine.chunk_size invalid: %w", err)
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, strings.ToUpper(c.Logging.Level)) {
		return fmt.Errorf("invalid logging.level: %s (must be one of: %s)",
			c.Logging.Level, strings.Join(validLogLevels, ", "))
	}

	for name, fs := range c.Filesystems {
		switch fs.Type {
		case "local":
			if fs.Local == nil || fs.Local.RootPath == "" {
				return fmt.Errorf("filesystem %q: local.root_path is required", name)
			}
		case "webdav":
			if fs.WebDAV == nil || fs.WebDAV.URL == "" {
				return fmt.Errorf("filesystem %q: webdav.url is required", name)
			}
		default:
			return fmt.Errorf("filesystem %q: unknown type %q", name, fs.Type)
		}
	}

	for name, p := range c.Profiles {
		if _, ok := c.Filesystems[p.SourceFilesystem]; !ok {
			return fmt.Errorf("profile %q: unknown source_filesystem %q", name, p.SourceFilesystem)
		}
		if _, ok := c.Filesystems[p.DestFilesystem]; !ok {
			return fmt.Errorf("profile %q: unknown dest_filesystem %q", name, p.DestFilesystem)
		}
		if p.Encrypt && p.PasswordID == "" {
			return fmt.Errorf("profile %q: encrypt is set but password_id is empty", name)
		}
	}

	return nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
