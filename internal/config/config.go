// Package config provides configuration management for pagegraph using
// Viper for loading from files, environment variables and command-line flags.
//
// Configuration is read from .pagegraph.yml, overridden by PAGEGRAPH_
// environment variables and flags. It covers the site being compiled, the
// page store, the shared template cache, descendant propagation, the editor
// API server, the template watcher and logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

type Config struct {
	Site        SiteConfig        `mapstructure:"site" yaml:"site"`
	Storage     StorageConfig     `mapstructure:"storage" yaml:"storage"`
	Cache       CacheConfig       `mapstructure:"cache" yaml:"cache"`
	Propagation PropagationConfig `mapstructure:"propagation" yaml:"propagation"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Watch       WatchConfig       `mapstructure:"watch" yaml:"watch"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

type SiteConfig struct {
	ID         string   `mapstructure:"id" yaml:"id"`
	Name       string   `mapstructure:"name" yaml:"name"`
	Root       string   `mapstructure:"root" yaml:"root"`
	Snippets   string   `mapstructure:"snippets" yaml:"snippets"`
	Extensions []string `mapstructure:"extensions" yaml:"extensions"`
	Preprocess bool     `mapstructure:"preprocess" yaml:"preprocess"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
}

type CacheConfig struct {
	MaxSizeBytes int64         `mapstructure:"max_size_bytes" yaml:"max_size_bytes"`
	TTL          time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type PropagationConfig struct {
	Enabled     bool `mapstructure:"enabled" yaml:"enabled"`
	Concurrency int  `mapstructure:"concurrency" yaml:"concurrency"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host" yaml:"host"`
	Port           int      `mapstructure:"port" yaml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
	Ignore   []string      `mapstructure:"ignore" yaml:"ignore"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Dir    string `mapstructure:"dir" yaml:"dir"`
}

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "PAGEGRAPH"

var envKeyReplacer = strings.NewReplacer(".", "_", "-", "_")

// BindEnv makes v read PAGEGRAPH_SECTION_KEY environment overrides.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("site.id", "default")
	v.SetDefault("site.name", "default")
	v.SetDefault("site.root", "./templates")
	v.SetDefault("site.snippets", "./snippets")
	v.SetDefault("site.extensions", []string{".liquid"})
	v.SetDefault("site.preprocess", false)

	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.path", ".pagegraph/pages.db")

	v.SetDefault("cache.max_size_bytes", int64(32<<20))
	v.SetDefault("cache.ttl", time.Hour)

	v.SetDefault("propagation.enabled", true)
	v.SetDefault("propagation.concurrency", 8)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"localhost:*"})

	v.SetDefault("watch.debounce", 100*time.Millisecond)
	v.SetDefault("watch.ignore", []string{".git", "node_modules", "*.swp", "*~"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.dir", "")
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Slices set through flags or env arrive as a single comma-joined string
	if v.IsSet("site.extensions") {
		config.Site.Extensions = splitList(v.GetStringSlice("site.extensions"))
	}
	if v.IsSet("watch.ignore") {
		config.Watch.Ignore = splitList(v.GetStringSlice("watch.ignore"))
	}

	for i, ext := range config.Site.Extensions {
		if !strings.HasPrefix(ext, ".") {
			config.Site.Extensions[i] = "." + ext
		}
	}
	config.Storage.Driver = strings.ToLower(config.Storage.Driver)
	config.Logging.Format = strings.ToLower(config.Logging.Format)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// WriteFile writes cfg as YAML to path, refusing to overwrite an existing file.
func WriteFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file %s already exists", path)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}

	header := []byte("# pagegraph configuration file\n")
	if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}

func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// validateConfig validates configuration values for correctness
func validateConfig(config *Config) error {
	if err := validateSiteConfig(&config.Site); err != nil {
		return fmt.Errorf("site config: %w", err)
	}
	if err := validateStorageConfig(&config.Storage); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}
	if config.Cache.MaxSizeBytes < 0 {
		return fmt.Errorf("cache config: max_size_bytes must not be negative")
	}
	if config.Cache.TTL < 0 {
		return fmt.Errorf("cache config: ttl must not be negative")
	}
	if config.Propagation.Concurrency < 1 {
		return fmt.Errorf("propagation config: concurrency must be at least 1, got %d", config.Propagation.Concurrency)
	}
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if config.Watch.Debounce < 0 {
		return fmt.Errorf("watch config: debounce must not be negative")
	}
	switch config.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging config: unknown format %q", config.Logging.Format)
	}

	return nil
}

func validateSiteConfig(config *SiteConfig) error {
	if strings.TrimSpace(config.ID) == "" {
		return fmt.Errorf("id must not be empty")
	}
	if err := validatePath(config.Root); err != nil {
		return fmt.Errorf("invalid root '%s': %w", config.Root, err)
	}
	if config.Snippets != "" {
		if err := validatePath(config.Snippets); err != nil {
			return fmt.Errorf("invalid snippets '%s': %w", config.Snippets, err)
		}
	}
	if len(config.Extensions) == 0 {
		return fmt.Errorf("at least one template extension is required")
	}
	return nil
}

func validateStorageConfig(config *StorageConfig) error {
	switch config.Driver {
	case DriverMemory:
		return nil
	case DriverSQLite:
		if config.Path == "" {
			return fmt.Errorf("sqlite driver requires a path")
		}
		if config.Path != ":memory:" {
			return validatePath(config.Path)
		}
		return nil
	default:
		return fmt.Errorf("unknown driver %q", config.Driver)
	}
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	return nil
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
