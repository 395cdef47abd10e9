// Package scanner defines the contract scanner plugins implement and the
// on-disk result files they produce.
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/srcscan/srcscan/pkg/model"
)

// ErrUnknownScanner is returned when a scanner name is not registered.
var ErrUnknownScanner = errors.New("unknown scanner")

// Scanner inspects a source tree.
type Scanner interface {
	Name() string
	// Scan inspects dir, whose origin is described by provenance, and writes
	// the result to resultFile before returning it.
	Scan(ctx context.Context, dir string, provenance model.Provenance, resultFile string) (*Result, error)
	// ParseResult reads a result file previously written by Scan.
	ParseResult(resultFile string) (*Result, error)
}

// LicenseFinding is a license detected in a file.
type LicenseFinding struct {
	License string  `json:"license"`
	Path    string  `json:"path"`
	Score   float64 `json:"score,omitempty"`
}

// Result is the outcome of one scan.
type Result struct {
	ID             string           `json:"id"`
	Scanner        string           `json:"scanner"`
	ScannerVersion string           `json:"scanner_version,omitempty"`
	StartTime      time.Time        `json:"start_time"`
	EndTime        time.Time        `json:"end_time"`
	FileCount      int              `json:"file_count"`
	Findings       []LicenseFinding `json:"findings,omitempty"`
	Provenance     model.Provenance `json:"provenance"`
	RawOutput      json.RawMessage  `json:"raw_output,omitempty"`
}

// Licenses returns the distinct licenses found, sorted.
func (r *Result) Licenses() []string {
	seen := map[string]bool{}
	var licenses []string
	for _, f := range r.Findings {
		if !seen[f.License] {
			seen[f.License] = true
			licenses = append(licenses, f.License)
		}
	}
	sort.Strings(licenses)
	return licenses
}

// WriteResultFile writes r to path as JSON, creating parent directories.
func WriteResultFile(path string, r *Result) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding scan result: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadResultFile reads a result written by WriteResultFile.
func ReadResultFile(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding scan result %s: %w", path, err)
	}
	return &r, nil
}

// ParseResultFile reads a result file and checks it was written by name.
func ParseResultFile(path, name string) (*Result, error) {
	r, err := ReadResultFile(path)
	if err != nil {
		return nil, err
	}
	if r.Scanner != name {
		return nil, fmt.Errorf("%s holds a %s result, not %s", path, r.Scanner, name)
	}
	return r, nil
}
