// Package subversion checks out sources with the svn command line client.
package subversion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/srcscan/srcscan/pkg/model"
	"github.com/srcscan/srcscan/pkg/tool"
	"github.com/srcscan/srcscan/pkg/vcs"
)

// ToolConfig returns the managed tool configuration for svn.
func ToolConfig() tool.Config {
	return tool.Config{
		Name:        "subversion",
		Command:     "svn",
		Requirement: ">=1.8",
	}
}

// Backend is the Subversion VCS backend.
type Backend struct {
	svn    *tool.Tool
	logger *log.Logger
}

var _ vcs.Backend = &Backend{}

func New(t *tool.Tool, logger *log.Logger) *Backend {
	if logger == nil {
		logger = log.Default()
	}
	return &Backend{svn: t, logger: logger}
}

func (b *Backend) Type() string { return model.TypeSubversion }

func (b *Backend) ClaimsType(name string) bool {
	return vcs.MatchType(name, model.TypeSubversion, "svn")
}

func (b *Backend) ClaimsURL(rawURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	return strings.HasPrefix(lower, "svn://") ||
		strings.HasPrefix(lower, "svn+") ||
		strings.Contains(lower, "://svn.") ||
		strings.Contains(lower, "/svn/")
}

func (b *Backend) Checkout(ctx context.Context, pkg model.Package, targetDir string, allowMovingRevisions bool) (vcs.WorkingTree, error) {
	v := pkg.VcsProcessed
	if err := b.checkout(ctx, v, targetDir, allowMovingRevisions); err != nil {
		return nil, vcs.NewCheckoutError(b.Type(), v, err)
	}
	return &workingTree{dir: targetDir, svn: b.svn}, nil
}

func (b *Backend) checkout(ctx context.Context, v model.VcsInfo, dir string, allowMoving bool) error {
	base := strings.TrimSuffix(strings.TrimSpace(v.URL), "/")
	rev := strings.TrimSpace(v.Revision)

	var location, pegRev string
	switch {
	case rev == "" || strings.EqualFold(rev, "HEAD"):
		if !allowMoving {
			return fmt.Errorf("revision HEAD: %w", vcs.ErrMovingRevision)
		}
		location, pegRev = base, "HEAD"
	case isRevisionNumber(rev):
		location, pegRev = base, strings.TrimPrefix(rev, "r")
	default:
		tag := base + "/tags/" + rev
		if _, err := vcs.Run(ctx, b.svn, "", "info", "--non-interactive", tag); err == nil {
			location, pegRev = tag, "HEAD"
			break
		}
		if !allowMoving {
			return fmt.Errorf("branch %q: %w", rev, vcs.ErrMovingRevision)
		}
		location, pegRev = base+"/branches/"+rev, "HEAD"
	}

	rel := strings.Trim(strings.TrimSpace(v.Path), "/")
	b.logger.Debug("checking out", "url", location, "revision", pegRev, "path", rel)
	if rel == "" {
		_, err := vcs.Run(ctx, b.svn, "", "checkout", "--quiet", "--non-interactive", "--force",
			"--revision", pegRev, location, dir)
		return err
	}

	// A sparse checkout keeps the path at the same place below dir as in
	// the repository.
	if _, err := vcs.Run(ctx, b.svn, "", "checkout", "--quiet", "--non-interactive", "--force",
		"--depth", "empty", "--revision", pegRev, location, dir); err != nil {
		return err
	}
	if pegRev == "HEAD" {
		// Pin HEAD so the path matches the root that was just checked out.
		rev, err := vcs.Run(ctx, b.svn, dir, "info", "--show-item", "revision")
		if err != nil {
			return err
		}
		pegRev = rev
	}
	if _, err := vcs.Run(ctx, b.svn, dir, "update", "--quiet", "--non-interactive", "--parents",
		"--set-depth", "infinity", "--revision", pegRev, rel); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel))); err != nil {
		return fmt.Errorf("path %q does not exist at revision %s", rel, pegRev)
	}
	return nil
}

func isRevisionNumber(rev string) bool {
	_, err := strconv.ParseUint(strings.TrimPrefix(rev, "r"), 10, 64)
	return err == nil
}

type workingTree struct {
	dir string
	svn *tool.Tool
}

func (w *workingTree) Dir() string { return w.dir }

func (w *workingTree) ResolvedRevision(ctx context.Context) (string, error) {
	return vcs.Run(ctx, w.svn, w.dir, "info", "--show-item", "last-changed-revision")
}
