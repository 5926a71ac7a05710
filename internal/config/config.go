package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	gap "github.com/muesli/go-app-paths"
	"gopkg.in/yaml.v2"

	cerrors "github.com/geomcache/geomcache/pkg/errors"
	"github.com/geomcache/geomcache/pkg/utils"
)

// AppName is used for the default cache directories and the metrics namespace.
const AppName = "geomcache"

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "GEOMCACHE_"

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Cache      CacheConfig      `yaml:"cache"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFile  string `yaml:"log_file" env:"LOG_FILE"`
}

// CacheConfig groups the three cache tiers.
type CacheConfig struct {
	Memory MemoryConfig `yaml:"memory"`
	Buffer BufferConfig `yaml:"buffer"`
	Files  FilesConfig  `yaml:"files"`
}

// MemoryConfig represents the in-memory tier settings. SoftAfter is the
// idle time after which a value is only weakly held.
type MemoryConfig struct {
	Enabled         bool          `yaml:"enabled"`
	TTL             time.Duration `yaml:"ttl" env:"MEMORY_TTL"`
	SoftAfter       time.Duration `yaml:"soft_after"`
	MaxMemory       string        `yaml:"max_memory" env:"MEMORY_MAX"`
	Shards          int           `yaml:"shards"`
	MissHistory     int           `yaml:"miss_history"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
}

// BufferConfig represents the typed buffer disk tier settings
type BufferConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Directory        string `yaml:"directory" env:"BUFFER_DIR"`
	MaxSize          string `yaml:"max_size" env:"BUFFER_MAX_SIZE"`
	Compress         bool   `yaml:"compress" env:"COMPRESS"`
	CompressionLevel int    `yaml:"compression_level"`
	LazyWrites       bool   `yaml:"lazy_writes" env:"LAZY_WRITES"`
}

// FilesConfig represents the file resource tier settings
type FilesConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory" env:"FILES_DIR"`
	MaxSize   string `yaml:"max_size" env:"FILES_MAX_SIZE"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"METRICS_ENABLED"`
	Address   string `yaml:"address" env:"METRICS_ADDR"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// NewDefault returns a configuration with sensible defaults. Directories are
// left empty and resolved by ResolveDirectories.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel: "INFO",
			LogFile:  "",
		},
		Cache: CacheConfig{
			Memory: MemoryConfig{
				Enabled:         true,
				TTL:             24 * time.Hour,
				SoftAfter:       10 * time.Minute,
				MaxMemory:       "1GB",
				Shards:          16,
				MissHistory:     64,
				JanitorInterval: time.Minute,
			},
			Buffer: BufferConfig{
				Enabled:          true,
				MaxSize:          "4GB",
				Compress:         false,
				CompressionLevel: 6,
				LazyWrites:       true,
			},
			Files: FilesConfig{
				Enabled: true,
				MaxSize: "4GB",
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Address:   ":9090",
				Path:      "/metrics",
				Namespace: AppName,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeConfigLoad, "failed to read config file").
			WithContext("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeConfigLoad, "failed to parse config file").
			WithContext("file", filename)
	}

	return nil
}

// LoadFromEnv applies GEOMCACHE_* environment overrides. Unset variables
// leave the current values alone.
func (c *Configuration) LoadFromEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeConfigLoad, "failed to parse environment")
	}
	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeConfigSave, "failed to marshal config")
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeConfigSave, "failed to create config directory").
			WithContext("file", filename)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeConfigSave, "failed to write config file").
			WithContext("file", filename)
	}

	return nil
}

// ResolveDirectories fills empty tier directories with subdirectories of the
// per-user cache directory.
func (c *Configuration) ResolveDirectories() error {
	if c.Cache.Buffer.Directory != "" && c.Cache.Files.Directory != "" {
		return nil
	}

	base, err := gap.NewScope(gap.User, AppName).CacheDir()
	if err != nil {
		return fmt.Errorf("failed to locate user cache directory: %w", err)
	}
	if c.Cache.Buffer.Directory == "" {
		c.Cache.Buffer.Directory = filepath.Join(base, "buffer")
	}
	if c.Cache.Files.Directory == "" {
		c.Cache.Files.Directory = filepath.Join(base, "files")
	}
	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.ToUpper(c.Global.LogLevel) == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return c.Cache.Validate()
}

// Validate checks the tier settings.
func (c *CacheConfig) Validate() error {
	m := c.Memory
	if m.Enabled {
		if m.Shards <= 0 {
			return fmt.Errorf("memory.shards must be greater than 0")
		}
		if m.TTL < 0 || m.SoftAfter < 0 {
			return fmt.Errorf("memory.ttl and memory.soft_after cannot be negative")
		}
		if m.MissHistory < 0 {
			return fmt.Errorf("memory.miss_history cannot be negative")
		}
		if _, err := m.MaxMemoryBytes(); err != nil {
			return fmt.Errorf("invalid memory.max_memory: %w", err)
		}
	}

	if c.Buffer.Enabled {
		if _, err := c.Buffer.MaxSizeBytes(); err != nil {
			return fmt.Errorf("invalid buffer.max_size: %w", err)
		}
		// gzip.HuffmanOnly .. gzip.BestCompression
		if c.Buffer.CompressionLevel < -2 || c.Buffer.CompressionLevel > 9 {
			return fmt.Errorf("buffer.compression_level must be between -2 and 9, got %d",
				c.Buffer.CompressionLevel)
		}
	}

	if c.Files.Enabled {
		if _, err := c.Files.MaxSizeBytes(); err != nil {
			return fmt.Errorf("invalid files.max_size: %w", err)
		}
	}

	return nil
}

// MaxMemoryBytes parses MaxMemory. An empty value means no budget.
func (m MemoryConfig) MaxMemoryBytes() (int64, error) {
	return optionalBytes(m.MaxMemory)
}

// MaxSizeBytes parses MaxSize. An empty value disables the tier.
func (b BufferConfig) MaxSizeBytes() (int64, error) {
	return optionalBytes(b.MaxSize)
}

// MaxSizeBytes parses MaxSize. An empty value disables the tier.
func (f FilesConfig) MaxSizeBytes() (int64, error) {
	return optionalBytes(f.MaxSize)
}

func optionalBytes(s string) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return utils.ParseBytes(s)
}
