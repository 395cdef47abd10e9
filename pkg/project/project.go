// Package project sets up a directory for use with srcscan.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/srcscan/srcscan/pkg/config"
)

// GitignoreEntries are srcscan output locations that should not be committed.
var GitignoreEntries = []string{".srcscan/"}

// Init writes a srcscan.toml into dir. It returns an error if the file
// already exists.
func Init(dir string, f *config.File) error {
	return config.WriteFile(filepath.Join(dir, config.FileName), f)
}

// IsInitialized reports whether dir already holds a srcscan.toml.
func IsInitialized(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, config.FileName))
	return err == nil
}

// EnsureGitignore ensures that each entry appears somewhere in the .gitignore
// file within dir. Only entries not already present are appended. Returns the
// list of entries that were actually added.
func EnsureGitignore(dir string, entries []string) ([]string, error) {
	path := filepath.Join(dir, ".gitignore")

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	present := make(map[string]bool)
	for _, line := range strings.Split(string(existing), "\n") {
		present[strings.TrimSpace(line)] = true
	}

	var toAdd []string
	for _, entry := range entries {
		if !present[entry] && !present[strings.TrimSuffix(entry, "/")] {
			toAdd = append(toAdd, entry)
		}
	}

	if len(toAdd) == 0 {
		return nil, nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		if _, err := f.WriteString("\n"); err != nil {
			return nil, err
		}
	}

	if _, err := f.WriteString("# srcscan\n"); err != nil {
		return nil, err
	}
	for _, entry := range toAdd {
		if _, err := f.WriteString(entry + "\n"); err != nil {
			return nil, err
		}
	}

	return toAdd, nil
}
