package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// File is the on-disk form of srcscan.toml. Durations are kept as strings so
// the written file stays readable ("5m", not 300000000000).
type File struct {
	Storage  *FileStorage        `toml:"storage,omitempty"`
	Download *FileDownload       `toml:"download,omitempty"`
	HTTP     *FileHTTP           `toml:"http,omitempty"`
	Scanner  *FileScanner        `toml:"scanner,omitempty"`
	Tools    map[string]FileTool `toml:"tools,omitempty"`
}

type FileStorage struct {
	Root string `toml:"root,omitempty"`
}

type FileDownload struct {
	AllowMovingRevisions bool `toml:"allow_moving_revisions"`
	Parallelism          int  `toml:"parallelism,omitempty"`
}

type FileHTTP struct {
	Timeout  string `toml:"timeout,omitempty"`
	Proxy    string `toml:"proxy,omitempty"`
	CacheTTL string `toml:"cache_ttl,omitempty"`
	Retries  int    `toml:"retries,omitempty"`
}

type FileScanner struct {
	Enabled      []string `toml:"enabled"`
	SkipExisting bool     `toml:"skip_existing"`
}

type FileTool struct {
	Version       string `toml:"version,omitempty"`
	Requirement   string `toml:"requirement,omitempty"`
	URL           string `toml:"url,omitempty"`
	Timeout       string `toml:"timeout,omitempty"`
	IgnoreVersion bool   `toml:"ignore_version,omitempty"`
}

// Starter returns the file written by "srcscan init".
func Starter(scanners []string, parallelism int, allowMoving bool) *File {
	return &File{
		Download: &FileDownload{
			AllowMovingRevisions: allowMoving,
			Parallelism:          parallelism,
		},
		HTTP: &FileHTTP{
			Timeout: DefaultHTTPTimeout.String(),
			Retries: DefaultHTTPRetries,
		},
		Scanner: &FileScanner{
			Enabled:      scanners,
			SkipExisting: true,
		},
	}
}

// Marshal serializes f to TOML.
func (f *File) Marshal() ([]byte, error) {
	return toml.Marshal(f)
}

// ParseFile reads and decodes a srcscan.toml without applying defaults.
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for name, t := range f.Tools {
		if t.Timeout == "" {
			continue
		}
		if _, err := time.ParseDuration(t.Timeout); err != nil {
			return nil, fmt.Errorf("parsing %s: tools.%s.timeout: %w", path, name, err)
		}
	}
	return &f, nil
}

// WriteFile writes f to path, refusing to overwrite an existing file.
func WriteFile(path string, f *File) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	data, err := f.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
