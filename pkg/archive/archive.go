// Package archive extracts source archives into a directory.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const dirPerm = 0o755

// Format is an archive container/compression combination.
type Format string

const (
	FormatZip    Format = "zip"
	FormatTar    Format = "tar"
	FormatTarGz  Format = "tar.gz"
	FormatTarBz2 Format = "tar.bz2"
	FormatTarZst Format = "tar.zst"
)

// ErrUnsupportedFormat is returned when a file name does not indicate a
// known archive format.
var ErrUnsupportedFormat = errors.New("unsupported archive format")

// UnpackError reports a corrupt or unsupported archive.
type UnpackError struct {
	Archive string
	Err     error
}

func (e *UnpackError) Error() string {
	return fmt.Sprintf("unpacking %s: %v", e.Archive, e.Err)
}

func (e *UnpackError) Unwrap() error { return e.Err }

// suffixes is ordered so that longer suffixes win over their tails.
var suffixes = []struct {
	suffix string
	format Format
}{
	{".tar.gz", FormatTarGz},
	{".tar.bz2", FormatTarBz2},
	{".tar.zst", FormatTarZst},
	{".tgz", FormatTarGz},
	{".crate", FormatTarGz},
	{".tbz2", FormatTarBz2},
	{".tzst", FormatTarZst},
	{".gem", FormatTar},
	{".tar", FormatTar},
	{".zip", FormatZip},
	{".jar", FormatZip},
	{".war", FormatZip},
	{".whl", FormatZip},
	{".nupkg", FormatZip},
}

// DetectFormat derives the archive format from name's extension.
func DetectFormat(name string) (Format, bool) {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return s.format, true
		}
	}
	return "", false
}

// NestedDataArchive reports whether name is a packaging format that ships its
// payload as an inner archive, and returns that inner archive's file name.
// RubyGems are plain tar files whose sources live in data.tar.gz.
func NestedDataArchive(name string) (string, bool) {
	if strings.HasSuffix(strings.ToLower(name), ".gem") {
		return "data.tar.gz", true
	}
	return "", false
}

// Unpack extracts the archive at path into dest, creating dest if needed.
// The format is derived from path's extension.
func Unpack(path, dest string) error {
	format, ok := DetectFormat(path)
	if !ok {
		return &UnpackError{Archive: path, Err: ErrUnsupportedFormat}
	}
	return UnpackFormat(path, dest, format)
}

// UnpackFormat extracts the archive at path into dest as the given format.
func UnpackFormat(path, dest string, format Format) error {
	if err := os.MkdirAll(dest, dirPerm); err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}

	x, err := newExtractor(dest)
	if err == nil {
		if format == FormatZip {
			err = x.unzip(path)
		} else {
			err = x.untarFile(path, format)
		}
	}
	if err == nil {
		err = x.verifyLinks()
	}
	if err != nil {
		return &UnpackError{Archive: path, Err: err}
	}
	return nil
}

func (x *extractor) untarFile(path string, format Format) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	switch format {
	case FormatTar:
	case FormatTarGz:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	case FormatTarBz2:
		r = bzip2.NewReader(f)
	case FormatTarZst:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return err
		}
		defer zr.Close()
		r = zr
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	return x.untar(r)
}

func (x *extractor) untar(r io.Reader) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := x.target(hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirPerm); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := x.symlink(target, hdr.Linkname); err != nil {
				return err
			}
		default:
			// Device nodes, fifos and hard links carry no source code.
		}
	}
}

func (x *extractor) unzip(path string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		target, err := x.target(f.Name)
		if err != nil {
			return err
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, dirPerm); err != nil {
				return err
			}
		case mode&os.ModeSymlink != 0:
			if err := x.unzipSymlink(target, f); err != nil {
				return err
			}
		default:
			if err := unzipFile(target, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func unzipFile(target string, f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return writeFile(target, rc, f.Mode().Perm())
}

func (x *extractor) unzipSymlink(target string, f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	link, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	return x.symlink(target, string(link))
}

// writeFile copies r into a new file at target. Archives created without
// Unix permission metadata yield a zero mode; those files get 0644.
func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return err
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// extractor writes archive entries below dest. Entry names are checked as
// text and their parents are checked physically, so symlinks created by
// earlier entries cannot redirect later ones outside dest.
type extractor struct {
	dest     string
	realDest string
	links    []string
}

func newExtractor(dest string) (*extractor, error) {
	realDest, err := filepath.EvalSymlinks(dest)
	if err != nil {
		return nil, err
	}
	return &extractor{dest: filepath.Clean(dest), realDest: realDest}, nil
}

// target returns where the entry called name is written, following any
// symlinks already present in its parent directories.
func (x *extractor) target(name string) (string, error) {
	joined := filepath.Join(x.dest, filepath.FromSlash(name))
	if !within(x.dest, joined) {
		return "", fmt.Errorf("entry %q escapes the target directory", name)
	}
	if joined == x.dest {
		return x.realDest, nil
	}
	parent, err := physicalPath(filepath.Dir(joined))
	if err != nil {
		return "", fmt.Errorf("entry %q: %w", name, err)
	}
	if !within(x.realDest, parent) {
		return "", fmt.Errorf("entry %q escapes the target directory through a symlink", name)
	}
	return filepath.Join(parent, filepath.Base(joined)), nil
}

// symlink creates a link at target pointing to linkname, refusing links that
// would resolve outside dest.
func (x *extractor) symlink(target, linkname string) error {
	resolved := linkname
	if !filepath.IsAbs(linkname) {
		resolved = filepath.Join(filepath.Dir(target), linkname)
	}
	physical, err := physicalPath(resolved)
	if err != nil || !within(x.realDest, physical) {
		return fmt.Errorf("symlink %s -> %s escapes the target directory", target, linkname)
	}
	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return err
	}
	_ = os.Remove(target)
	if err := os.Symlink(linkname, target); err != nil {
		return err
	}
	x.links = append(x.links, target)
	return nil
}

// verifyLinks re-checks every created link once all entries exist, since a
// link may pass through links created after it.
func (x *extractor) verifyLinks() error {
	for _, link := range x.links {
		resolved, err := filepath.EvalSymlinks(link)
		if err != nil {
			// Dangling links point nowhere.
			continue
		}
		if !within(x.realDest, resolved) {
			_ = os.Remove(link)
			return fmt.Errorf("symlink %s resolves outside the target directory", link)
		}
	}
	return nil
}

// physicalPath resolves the symlinks in the longest existing prefix of path
// and appends the remaining, not yet existing, components.
func physicalPath(path string) (string, error) {
	existing := filepath.Clean(path)
	var rest []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}
	real, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{real}, rest...)...), nil
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
