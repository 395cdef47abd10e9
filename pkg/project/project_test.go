package project

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/srcscan/srcscan/pkg/config"
)

func TestInit(t *testing.T) {
	dir := t.TempDir()
	if IsInitialized(dir) {
		t.Fatal("fresh directory reported as initialized")
	}
	if err := Init(dir, config.Starter([]string{"FileCounter"}, 2, false)); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if !IsInitialized(dir) {
		t.Fatal("IsInitialized() = false after Init")
	}
	if err := Init(dir, config.Starter([]string{"FileCounter"}, 2, false)); err == nil {
		t.Error("second Init() succeeded, want error")
	}
}

func TestEnsureGitignore(t *testing.T) {
	tests := map[string]struct {
		existing  string
		wantAdded []string
		wantFile  string
	}{
		"creates file": {
			wantAdded: []string{".srcscan/"},
			wantFile:  "# srcscan\n.srcscan/\n",
		},
		"appends after missing newline": {
			existing:  "node_modules",
			wantAdded: []string{".srcscan/"},
			wantFile:  "node_modules\n# srcscan\n.srcscan/\n",
		},
		"already present": {
			existing: "bin/\n.srcscan/\n",
			wantFile: "bin/\n.srcscan/\n",
		},
		"present without trailing slash": {
			existing: ".srcscan\n",
			wantFile: ".srcscan\n",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, ".gitignore")
			if tc.existing != "" {
				if err := os.WriteFile(path, []byte(tc.existing), 0o644); err != nil {
					t.Fatal(err)
				}
			}

			added, err := EnsureGitignore(dir, GitignoreEntries)
			if err != nil {
				t.Fatalf("EnsureGitignore() error = %v", err)
			}
			if !slices.Equal(added, tc.wantAdded) {
				t.Errorf("added = %v, want %v", added, tc.wantAdded)
			}
			got, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tc.wantFile {
				t.Errorf(".gitignore = %q, want %q", got, tc.wantFile)
			}
		})
	}
}
