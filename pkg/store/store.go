// Package store lays out srcscan's on-disk state below a single root:
// downloaded sources, scan results, HTTP caches, tool bootstraps and run
// summaries.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/srcscan/srcscan/pkg/model"
)

const (
	dirPerm     = 0o755
	hashPrefix  = "sha256:"
	DefaultRoot = ".srcscan"
)

// vcsDirs hold VCS metadata that differs between otherwise identical trees.
var vcsDirs = map[string]bool{".git": true, ".hg": true, ".svn": true, ".repo": true}

type Store interface {
	// Root returns the store root directory.
	Root() string
	// Path returns the filesystem path for the given segments joined under
	// the store root. Does not create or verify the path.
	Path(segments ...string) string
	// Exists reports whether the path at the given segments exists.
	Exists(segments ...string) (bool, error)
	// Remove deletes the entire tree at segments.
	Remove(segments ...string) error
	// WriteFile writes data to the file at segments, creating parents.
	WriteFile(data []byte, perm os.FileMode, segments ...string) error

	// DownloadDir is the default output root for acquired sources.
	DownloadDir() string
	// HTTPCacheDir is the response cache of one cache owner.
	HTTPCacheDir(owner string) string
	// BootstrapDir holds the bootstrapped versions of tool.
	BootstrapDir(tool string) string
	// ScanResultFile is where scanner stores its result for id.
	ScanResultFile(id model.Identifier, scanner string) string
}

func New(root string) Store {
	return &store{root: root}
}

type store struct {
	root string
}

var _ Store = &store{}

func (s *store) Root() string { return s.root }

func (s *store) Path(segments ...string) string {
	return filepath.Join(append([]string{s.root}, segments...)...)
}

func (s *store) Exists(segments ...string) (bool, error) {
	_, err := os.Stat(s.Path(segments...))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *store) Remove(segments ...string) error {
	return os.RemoveAll(s.Path(segments...))
}

func (s *store) WriteFile(data []byte, perm os.FileMode, segments ...string) error {
	path := s.Path(segments...)
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return err
	}
	return os.WriteFile(path, data, perm)
}

func (s *store) DownloadDir() string { return s.Path("downloads") }

func (s *store) HTTPCacheDir(owner string) string { return s.Path(owner, "cache", "http") }

func (s *store) BootstrapDir(tool string) string { return s.Path(tool, "bootstrap") }

func (s *store) ScanResultFile(id model.Identifier, scanner string) string {
	segs := append([]string{"scan-results"}, id.PathSegments()...)
	return s.Path(append(segs, scanner+".json")...)
}

// HashTree computes a "sha256:<hex>" hash over the relative paths and
// contents of all files below dir, in sorted order. VCS metadata directories
// are skipped so that a checkout and an unpacked archive of the same sources
// hash alike.
func HashTree(dir string) (string, error) {
	h := sha256.New()

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if vcsDirs[d.Name()] && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return "", err
	}

	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(f)))
		if err != nil {
			return "", err
		}
		h.Write([]byte(f))
		h.Write(data)
	}

	return hashPrefix + hex.EncodeToString(h.Sum(nil)), nil
}
