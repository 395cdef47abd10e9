package tool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/srcscan/srcscan/pkg/archive"
	"github.com/srcscan/srcscan/pkg/httpcache"
)

// ExpandURL substitutes {version}, {os} and {arch} in a download URL template.
func ExpandURL(template, version string, p Platform) string {
	return strings.NewReplacer(
		"{version}", version,
		"{os}", p.OS,
		"{arch}", p.Arch,
	).Replace(template)
}

// ArchiveBootstrapper downloads a release archive and unpacks it.
type ArchiveBootstrapper struct {
	Client *httpcache.Client
	// URLTemplate is expanded with ExpandURL.
	URLTemplate string
	Version     string
	// ExeDir is the directory inside the archive that holds the executable.
	ExeDir string
}

func (b *ArchiveBootstrapper) Bootstrap(ctx context.Context, installDir string, p Platform) (string, error) {
	url := ExpandURL(b.URLTemplate, b.Version, p)
	format, ok := archive.DetectFormat(url)
	if !ok {
		return "", fmt.Errorf("bootstrap url %q: %w", url, archive.ErrUnsupportedFormat)
	}

	tmp, err := download(ctx, b.Client, url, installDir)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp)

	if err := archive.UnpackFormat(tmp, installDir, format); err != nil {
		return "", err
	}
	return filepath.Join(installDir, filepath.FromSlash(b.ExeDir)), nil
}

// FileBootstrapper downloads a single executable file, such as a launcher
// script, and stores it as FileName.
type FileBootstrapper struct {
	Client      *httpcache.Client
	URLTemplate string
	Version     string
	FileName    string
}

func (b *FileBootstrapper) Bootstrap(ctx context.Context, installDir string, p Platform) (string, error) {
	if b.FileName == "" {
		return "", errors.New("bootstrap file name must not be empty")
	}

	tmp, err := download(ctx, b.Client, ExpandURL(b.URLTemplate, b.Version, p), installDir)
	if err != nil {
		return "", err
	}
	if err := os.Rename(tmp, filepath.Join(installDir, b.FileName)); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("installing %s: %w", b.FileName, err)
	}
	return installDir, nil
}

func download(ctx context.Context, client *httpcache.Client, url, dir string) (string, error) {
	if client == nil {
		return "", errors.New("bootstrap requires an http client")
	}

	f, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", err
	}

	if _, err := client.Download(ctx, url, f); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("downloading %s: %w", url, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
