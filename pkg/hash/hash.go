// Package hash computes and verifies source artifact checksums.
package hash

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	gohash "hash"
	"io"
	"os"
	"strings"

	"github.com/srcscan/srcscan/pkg/model"
)

// ErrUnsupportedAlgorithm is returned for algorithms that are recognized but
// cannot be computed, such as MD2.
var ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")

// IntegrityError reports a digest mismatch.
type IntegrityError struct {
	File      string
	Algorithm model.HashAlgorithm
	Expected  string
	Actual    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s digest of %s is %s, expected %s", e.Algorithm, e.File, e.Actual, e.Expected)
}

// New returns a fresh hash.Hash for algo.
func New(algo model.HashAlgorithm) (gohash.Hash, error) {
	switch algo {
	case model.HashMD5:
		return md5.New(), nil
	case model.HashSHA1:
		return sha1.New(), nil
	case model.HashSHA256:
		return sha256.New(), nil
	case model.HashSHA384:
		return sha512.New384(), nil
	case model.HashSHA512:
		return sha512.New(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algo)
}

// Compute returns the lowercase hex digest of everything read from r.
func Compute(r io.Reader, algo model.HashAlgorithm) (string, error) {
	h, err := New(algo)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("reading data to hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsVerifiable reports whether artifact carries a checksum that can be
// checked. Blank hashes and unknown algorithms are not verifiable.
func IsVerifiable(artifact model.RemoteArtifact) bool {
	return strings.TrimSpace(artifact.Hash) != "" &&
		artifact.HashAlgorithm != "" &&
		artifact.HashAlgorithm != model.HashUnknown
}

// VerifyFile computes the digest of the file at path and compares it with the
// expected value, ignoring case. A mismatch yields an *IntegrityError.
func VerifyFile(path string, expected string, algo model.HashAlgorithm) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	actual, err := Compute(f, algo)
	if err != nil {
		return err
	}

	expected = strings.ToLower(strings.TrimSpace(expected))
	if actual != expected {
		return &IntegrityError{
			File:      path,
			Algorithm: algo,
			Expected:  expected,
			Actual:    actual,
		}
	}
	return nil
}
