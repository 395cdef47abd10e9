// Package mercurial checks out sources with the hg command line client.
package mercurial

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/srcscan/srcscan/pkg/model"
	"github.com/srcscan/srcscan/pkg/tool"
	"github.com/srcscan/srcscan/pkg/vcs"
)

const defaultBranch = "default"

// ToolConfig returns the managed tool configuration for hg.
func ToolConfig() tool.Config {
	return tool.Config{
		Name:        "mercurial",
		Command:     "hg",
		Requirement: ">=4.0",
	}
}

// Backend is the Mercurial VCS backend.
type Backend struct {
	hg     *tool.Tool
	logger *log.Logger
}

var _ vcs.Backend = &Backend{}

func New(t *tool.Tool, logger *log.Logger) *Backend {
	if logger == nil {
		logger = log.Default()
	}
	return &Backend{hg: t, logger: logger}
}

func (b *Backend) Type() string { return model.TypeMercurial }

func (b *Backend) ClaimsType(name string) bool {
	return vcs.MatchType(name, model.TypeMercurial, "hg")
}

func (b *Backend) ClaimsURL(rawURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	return strings.HasPrefix(lower, "hg::") ||
		strings.HasPrefix(lower, "hg+") ||
		strings.Contains(lower, "://hg.") ||
		strings.Contains(lower, "/hg/") ||
		strings.Contains(lower, "foss.heptapod.net")
}

func remoteURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	for _, prefix := range []string{"hg::", "hg+"} {
		if strings.HasPrefix(strings.ToLower(rawURL), prefix) {
			return rawURL[len(prefix):]
		}
	}
	return rawURL
}

func (b *Backend) Checkout(ctx context.Context, pkg model.Package, targetDir string, allowMovingRevisions bool) (vcs.WorkingTree, error) {
	v := pkg.VcsProcessed
	if err := b.checkout(ctx, v, targetDir, allowMovingRevisions); err != nil {
		return nil, vcs.NewCheckoutError(b.Type(), v, err)
	}
	return &workingTree{dir: targetDir, hg: b.hg}, nil
}

func (b *Backend) checkout(ctx context.Context, v model.VcsInfo, dir string, allowMoving bool) error {
	remote := remoteURL(v.URL)
	rev := strings.TrimSpace(v.Revision)
	if rev == "" {
		rev = defaultBranch
	}

	if _, err := os.Stat(filepath.Join(dir, ".hg")); os.IsNotExist(err) {
		if _, err := vcs.Run(ctx, b.hg, "", "init", dir); err != nil {
			return err
		}
	}

	b.logger.Debug("pulling", "url", remote, "revision", rev)
	if _, err := vcs.Run(ctx, b.hg, dir, "pull", "--quiet", remote); err != nil {
		return fmt.Errorf("pulling %s: %w", remote, err)
	}

	if !allowMoving {
		fixed, err := b.isFixed(ctx, dir, rev)
		if err != nil {
			return err
		}
		if !fixed {
			return fmt.Errorf("revision %q: %w", rev, vcs.ErrMovingRevision)
		}
	}

	if _, err := vcs.Run(ctx, b.hg, dir, "update", "--quiet", "--clean", "--rev", rev); err != nil {
		return fmt.Errorf("updating to %s: %w", rev, err)
	}

	if v.Path != "" {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(v.Path))); err != nil {
			return fmt.Errorf("path %q does not exist in the checkout", v.Path)
		}
	}
	return nil
}

// isFixed reports whether rev is a changeset id or a tag. Branch names and
// bookmarks move.
func (b *Backend) isFixed(ctx context.Context, dir, rev string) (bool, error) {
	if vcs.IsHex(rev) && len(rev) >= 12 {
		return true, nil
	}
	out, err := vcs.Run(ctx, b.hg, dir, "tags", "--quiet")
	if err != nil {
		return false, fmt.Errorf("listing tags: %w", err)
	}
	for _, tag := range strings.Split(out, "\n") {
		if strings.TrimSpace(tag) == rev && rev != "tip" {
			return true, nil
		}
	}
	return false, nil
}

type workingTree struct {
	dir string
	hg  *tool.Tool
}

func (w *workingTree) Dir() string { return w.dir }

func (w *workingTree) ResolvedRevision(ctx context.Context) (string, error) {
	return vcs.Run(ctx, w.hg, w.dir, "log", "--rev", ".", "--template", "{node}")
}
