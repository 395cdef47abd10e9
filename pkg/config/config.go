// Package config resolves srcscan's settings and reads the project set it
// operates on.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/srcscan/srcscan/pkg/store"
)

const (
	// FileName is the project-local configuration file.
	FileName = "srcscan.toml"
	// GlobalFileName is the configuration file inside ~/.srcscan.
	GlobalFileName = "config.toml"

	DefaultParallelism = 4
	DefaultHTTPTimeout = 5 * time.Minute
	DefaultHTTPRetries = 3
)

// Config holds all settings. It is resolved with Viper precedence:
// CLI flags > srcscan.toml (project-local) > ~/.srcscan/config.toml (global).
type Config struct {
	Storage  StorageConfig         `mapstructure:"storage"`
	Download DownloadConfig        `mapstructure:"download"`
	HTTP     HTTPConfig            `mapstructure:"http"`
	Scanner  ScannerConfig         `mapstructure:"scanner"`
	Tools    map[string]ToolConfig `mapstructure:"tools"`
}

type StorageConfig struct {
	// Root holds downloads, caches, bootstrapped tools and scan results.
	Root string `mapstructure:"root"`
}

type DownloadConfig struct {
	AllowMovingRevisions bool `mapstructure:"allow_moving_revisions"`
	Parallelism          int  `mapstructure:"parallelism"`
}

type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Proxy   string        `mapstructure:"proxy"`
	// CacheTTL of zero keeps cached responses forever.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Retries  int           `mapstructure:"retries"`
}

type ScannerConfig struct {
	Enabled      []string `mapstructure:"enabled"`
	SkipExisting bool     `mapstructure:"skip_existing"`
}

// ToolConfig configures one managed external tool.
type ToolConfig struct {
	// Version is the version installed when bootstrapping.
	Version string `mapstructure:"version"`
	// Requirement overrides the accepted version range.
	Requirement string `mapstructure:"requirement"`
	// URL overrides the bootstrap download URL template.
	URL           string         `mapstructure:"url"`
	Timeout       time.Duration  `mapstructure:"timeout"`
	IgnoreVersion bool           `mapstructure:"ignore_version"`
	Options       map[string]any `mapstructure:"options"`
}

// Tool returns the settings of the named tool; tool names are case
// insensitive.
func (c *Config) Tool(name string) ToolConfig {
	return c.Tools[strings.ToLower(name)]
}

// Validate checks settings that cannot be checked by decoding alone.
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root must not be empty")
	}
	if c.Download.Parallelism < 1 {
		return fmt.Errorf("download.parallelism must be at least 1, got %d", c.Download.Parallelism)
	}
	if c.HTTP.Proxy != "" {
		if _, err := url.Parse(c.HTTP.Proxy); err != nil {
			return fmt.Errorf("http.proxy: %w", err)
		}
	}
	if len(c.Scanner.Enabled) == 0 {
		return fmt.Errorf("scanner.enabled must name at least one scanner")
	}
	return nil
}

// Load resolves configuration from ~/.srcscan/config.toml, the project file
// at localPath (./srcscan.toml when empty) and overrides, which hold
// explicitly set CLI flags keyed by setting name (e.g.
// "download.parallelism").
func Load(overrides map[string]any, localPath string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}
	if localPath == "" {
		localPath = FileName
	} else if _, err := os.Stat(localPath); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	root := filepath.Join(home, store.DefaultRoot)
	return load(overrides, root, filepath.Join(root, GlobalFileName), localPath)
}

// load is the internal implementation that accepts explicit paths, making it
// testable without touching the real home directory.
func load(overrides map[string]any, defaultRoot, globalPath, localPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	v.SetDefault("storage.root", defaultRoot)
	v.SetDefault("download.allow_moving_revisions", false)
	v.SetDefault("download.parallelism", DefaultParallelism)
	v.SetDefault("http.timeout", DefaultHTTPTimeout)
	v.SetDefault("http.cache_ttl", time.Duration(0))
	v.SetDefault("http.retries", DefaultHTTPRetries)
	v.SetDefault("scanner.enabled", []string{"FileCounter"})
	v.SetDefault("scanner.skip_existing", true)

	// Lowest priority: global config. Ignore if missing.
	if _, err := os.Stat(globalPath); err == nil {
		v.SetConfigFile(globalPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", globalPath, err)
		}
	}

	// Higher priority: project-local config.
	if _, err := os.Stat(localPath); err == nil {
		v.SetConfigFile(localPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", localPath, err)
		}
	}

	// Highest priority: CLI flags.
	for key, value := range overrides {
		v.Set(key, value)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Storage.Root = expandHome(cfg.Storage.Root)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
