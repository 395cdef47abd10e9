// Package downloader acquires the sources of a package, preferring a checkout
// of its processed VCS pointer and falling back to its source artifact.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/srcscan/srcscan/pkg/archive"
	"github.com/srcscan/srcscan/pkg/hash"
	"github.com/srcscan/srcscan/pkg/httpcache"
	"github.com/srcscan/srcscan/pkg/metrics"
	"github.com/srcscan/srcscan/pkg/model"
	"github.com/srcscan/srcscan/pkg/vcs"
)

// HTTPCacheNamespace is the cache namespace source artifact downloads are
// stored under.
const HTTPCacheNamespace = "downloader"

// Downloader acquires package sources.
type Downloader struct {
	registry *vcs.Registry
	client   *httpcache.Client
	logger   *log.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New returns a Downloader resolving VCS backends from registry and fetching
// source artifacts through client.
func New(registry *vcs.Registry, client *httpcache.Client, logger *log.Logger, m *metrics.Metrics) *Downloader {
	if logger == nil {
		logger = log.Default()
	}
	return &Downloader{
		registry: registry,
		client:   client,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// TargetDir returns the directory the sources of id are written to.
func TargetDir(outputRoot string, id model.Identifier) string {
	return filepath.Join(append([]string{outputRoot}, id.PathSegments()...)...)
}

// Download acquires the sources of pkg below outputRoot. The checkout of the
// processed VCS pointer is tried first; if it fails or the pointer has no
// URL the source artifact is downloaded, verified and unpacked instead. An
// *AcquisitionError is returned only when no mechanism succeeded.
func (d *Downloader) Download(ctx context.Context, pkg model.Package, outputRoot string, allowMovingRevisions bool) (*model.DownloadResult, error) {
	logger := d.logger.With("package", pkg.ID)
	targetDir := TargetDir(outputRoot, pkg.ID)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	var vcsErr error
	if pkg.VcsProcessed.HasURL() {
		start := time.Now()
		result, err := d.downloadFromVCS(ctx, pkg, targetDir, allowMovingRevisions)
		d.metrics.ObserveAcquisition(model.MechanismVCS, err, time.Since(start))
		if err == nil {
			return result, nil
		}

		vcsErr = err
		if ctx.Err() != nil {
			d.removeDir(logger, targetDir)
			return nil, &AcquisitionError{ID: pkg.ID, VCSErr: vcsErr}
		}
		logger.Warn("vcs download failed, trying source artifact", "err", err)
		d.resetDir(logger, targetDir)
	}

	if !pkg.SourceArtifact.HasURL() {
		d.removeDir(logger, targetDir)
		if vcsErr == nil {
			return nil, &AcquisitionError{ID: pkg.ID, ArtifactErr: ErrNoSourceURLs}
		}
		return nil, &AcquisitionError{ID: pkg.ID, VCSErr: vcsErr}
	}

	start := time.Now()
	result, err := d.downloadSourceArtifact(ctx, logger, pkg.SourceArtifact, targetDir)
	d.metrics.ObserveAcquisition(model.MechanismArtifact, err, time.Since(start))
	if err != nil {
		d.removeDir(logger, targetDir)
		return nil, &AcquisitionError{ID: pkg.ID, VCSErr: vcsErr, ArtifactErr: err}
	}
	return result, nil
}

func (d *Downloader) downloadFromVCS(ctx context.Context, pkg model.Package, targetDir string, allowMoving bool) (*model.DownloadResult, error) {
	requested := pkg.VcsProcessed

	backend, ok := d.registry.Resolve(requested)
	if !ok {
		return nil, fmt.Errorf("%w %q for %s (supported: %s)", ErrUnsupportedVCS, requested.Type, requested.URL, strings.Join(d.registry.Types(), ", "))
	}

	d.logger.Info("checking out sources",
		"package", pkg.ID, "type", backend.Type(), "url", requested.URL, "revision", requested.Revision)
	tree, err := backend.Checkout(ctx, pkg, targetDir, allowMoving)
	if err != nil {
		return nil, err
	}

	resolved, err := tree.ResolvedRevision(ctx)
	if err != nil {
		return nil, vcs.NewCheckoutError(backend.Type(), requested, fmt.Errorf("resolving revision: %w", err))
	}

	revision := requested.Revision
	if revision == "" {
		revision = resolved
	}
	info := model.VcsInfo{
		Type:             backend.Type(),
		URL:              requested.URL,
		Revision:         revision,
		ResolvedRevision: resolved,
		Path:             requested.Path,
	}
	return model.NewVcsDownloadResult(d.now(), tree.Dir(), info, requested), nil
}

func (d *Downloader) downloadSourceArtifact(ctx context.Context, logger *log.Logger, artifact model.RemoteArtifact, targetDir string) (*model.DownloadResult, error) {
	if d.client == nil {
		return nil, errors.New("no http client configured for source artifact downloads")
	}

	name := artifactName(artifact.URL)
	format, ok := archive.DetectFormat(name)
	if !ok {
		return nil, &archive.UnpackError{Archive: name, Err: archive.ErrUnsupportedFormat}
	}

	logger.Info("downloading source artifact", "url", artifact.URL)
	tmp, err := d.fetch(ctx, artifact.URL)
	if err != nil {
		return nil, err
	}
	defer d.removeFile(logger, tmp)

	if hash.IsVerifiable(artifact) {
		if err := hash.VerifyFile(tmp, artifact.Hash, artifact.HashAlgorithm); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("source artifact has no verifiable checksum, skipping verification",
			"url", artifact.URL, "algorithm", artifact.HashAlgorithm)
	}

	if inner, ok := archive.NestedDataArchive(name); ok {
		scratch, err := os.MkdirTemp("", "srcscan-unpack-*")
		if err != nil {
			return nil, err
		}
		defer d.removeDir(logger, scratch)

		if err := archive.UnpackFormat(tmp, scratch, format); err != nil {
			return nil, err
		}
		if err := archive.Unpack(filepath.Join(scratch, inner), targetDir); err != nil {
			return nil, err
		}
	} else if err := archive.UnpackFormat(tmp, targetDir, format); err != nil {
		return nil, err
	}

	return model.NewArtifactDownloadResult(d.now(), targetDir, artifact), nil
}

// fetch downloads rawURL into a temporary file and returns its path.
func (d *Downloader) fetch(ctx context.Context, rawURL string) (string, error) {
	f, err := os.CreateTemp("", "srcscan-download-*")
	if err != nil {
		return "", err
	}

	if _, err := d.client.Download(ctx, rawURL, f); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// artifactName returns the file name component of an artifact URL, without
// query or fragment.
func artifactName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(rawURL)
}

// resetDir empties dir after a failed checkout.
func (d *Downloader) resetDir(logger *log.Logger, dir string) {
	d.removeDir(logger, dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("recreating output directory failed", "dir", dir, "err", err)
	}
}

func (d *Downloader) removeDir(logger *log.Logger, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("removing directory failed", "dir", dir, "err", err)
	}
}

func (d *Downloader) removeFile(logger *log.Logger, file string) {
	if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("removing temporary file failed", "file", file, "err", err)
	}
}
