package httpcache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	dirPerm   = 0o755
	tmpPrefix = ".tmp-"
)

// ErrExpired is returned by [Cache.Open] when an entry exists but is older
// than the cache TTL.
var ErrExpired = errors.New("cache entry expired")

// Cache is a content-addressed file cache for response bodies.
//
// A Cache is safe for concurrent use by multiple goroutines and processes
// sharing the same directory.
type Cache struct {
	dir       string
	ttl       time.Duration
	namespace string
}

// New creates a Cache in dir, creating the directory if necessary. A ttl of
// 0 means entries never expire.
func New(dir string, ttl time.Duration) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache directory must not be empty")
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
	}
	return &Cache{dir: dir, ttl: ttl}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Namespace returns a view of c whose keys are prefixed with ns.
// Namespaces nest: c.Namespace("a").Namespace("b") uses "a/b".
func (c *Cache) Namespace(ns string) *Cache {
	prefix := ns
	if c.namespace != "" {
		prefix = c.namespace + "/" + ns
	}
	return &Cache{dir: c.dir, ttl: c.ttl, namespace: prefix}
}

// Path returns the file that holds the entry for key.
func (c *Cache) Path(key string) string {
	h := sha256.Sum256([]byte(c.namespace + "\x00" + key))
	return filepath.Join(c.dir, hex.EncodeToString(h[:]))
}

// Open returns the cached entry for key. A miss returns (nil, false, nil);
// a stale entry returns ErrExpired. The caller closes the returned file.
func (c *Cache) Open(key string) (*os.File, bool, error) {
	path := c.Path(key)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if c.ttl > 0 {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, false, err
		}
		if time.Since(info.ModTime()) > c.ttl {
			f.Close()
			return nil, false, ErrExpired
		}
	}
	return f, true, nil
}

// Store writes a new entry for key using write. The entry only becomes
// visible if write succeeds; otherwise any partial data is discarded.
func (c *Cache) Store(key string, write func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(c.dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("creating cache entry: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.Path(key)); err != nil {
		return fmt.Errorf("publishing cache entry: %w", err)
	}
	return nil
}

// Clear removes every entry in the cache directory, regardless of namespace,
// and returns the number of entries removed.
func (c *Cache) Clear() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	count := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			return count, err
		}
		if !strings.HasPrefix(e.Name(), tmpPrefix) {
			count++
		}
	}
	return count, nil
}
