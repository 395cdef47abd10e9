// Package vcs defines the contract version control backends satisfy and the
// registry the downloader resolves them from.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srcscan/srcscan/pkg/model"
	"github.com/srcscan/srcscan/pkg/tool"
)

// ErrMovingRevision is wrapped by a CheckoutError when the requested revision
// is symbolic and moving revisions are not allowed.
var ErrMovingRevision = errors.New("revision is a moving reference")

// WorkingTree is a checked out directory and the backend that produced it.
type WorkingTree interface {
	Dir() string
	// ResolvedRevision returns the commit identifier the tree is at.
	ResolvedRevision(ctx context.Context) (string, error)
}

// Backend checks out sources from one kind of version control system.
type Backend interface {
	// Type is the canonical type name recorded in download results.
	Type() string
	ClaimsType(name string) bool
	ClaimsURL(url string) bool
	// Checkout fetches pkg.VcsProcessed into targetDir. Failures are
	// reported as *CheckoutError.
	Checkout(ctx context.Context, pkg model.Package, targetDir string, allowMovingRevisions bool) (WorkingTree, error)
}

// CheckoutError reports a failed checkout.
type CheckoutError struct {
	Type     string
	URL      string
	Revision string
	Err      error
}

func (e *CheckoutError) Error() string {
	rev := e.Revision
	if rev == "" {
		rev = "<default>"
	}
	return fmt.Sprintf("%s checkout of %s at %s: %v", e.Type, e.URL, rev, e.Err)
}

func (e *CheckoutError) Unwrap() error { return e.Err }

// NewCheckoutError wraps err for the pointer v checked out by backend typ.
func NewCheckoutError(typ string, v model.VcsInfo, err error) *CheckoutError {
	var ce *CheckoutError
	if errors.As(err, &ce) {
		return ce
	}
	return &CheckoutError{Type: typ, URL: v.URL, Revision: v.Revision, Err: err}
}

// MatchType reports whether name equals canonical or one of aliases,
// ignoring case and surrounding space.
func MatchType(name, canonical string, aliases ...string) bool {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, canonical) {
		return true
	}
	for _, a := range aliases {
		if strings.EqualFold(name, a) {
			return true
		}
	}
	return false
}

// Run invokes t and returns its trimmed stdout. A non-zero exit becomes an
// error carrying the process's error output.
func Run(ctx context.Context, t *tool.Tool, dir string, args ...string) (string, error) {
	capture, err := t.Run(ctx, tool.RunOptions{Dir: dir, Env: map[string]string{
		"GIT_TERMINAL_PROMPT": "0",
		"LC_ALL":              "C",
	}}, args...)
	if err != nil {
		return "", err
	}
	if err := capture.Err(); err != nil {
		return "", err
	}
	return strings.TrimSpace(capture.Stdout), nil
}

// IsCommitHash reports whether s is a full 40 or 64 character hex object id.
func IsCommitHash(s string) bool {
	return (len(s) == 40 || len(s) == 64) && IsHex(s)
}

// IsShortCommitHash reports whether s looks like an abbreviated object id.
func IsShortCommitHash(s string) bool {
	return len(s) >= 7 && len(s) < 40 && IsHex(s)
}

// IsHex reports whether s is non-empty and contains only hexadecimal characters.
func IsHex(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
