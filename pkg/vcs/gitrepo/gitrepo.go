// Package gitrepo checks out multi-repository trees described by a repo
// manifest, using Google's repo launcher.
//
// The path of a GitRepo pointer names the manifest file inside the manifest
// repository, not a subdirectory to check out.
package gitrepo

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/srcscan/srcscan/pkg/httpcache"
	"github.com/srcscan/srcscan/pkg/model"
	"github.com/srcscan/srcscan/pkg/tool"
	"github.com/srcscan/srcscan/pkg/vcs"
)

const (
	// LauncherURL serves the current repo launcher script.
	LauncherURL     = "https://storage.googleapis.com/git-repo-downloads/repo"
	LauncherVersion = "2.50"

	defaultManifest = "default.xml"
)

// ToolConfig returns the managed tool configuration for the repo launcher,
// bootstrapped by downloading the launcher script through client.
func ToolConfig(client *httpcache.Client, installRoot string) tool.Config {
	return tool.Config{
		Name:        "repo",
		Command:     "repo",
		Version:     LauncherVersion,
		InstallRoot: installRoot,
		Bootstrapper: &tool.FileBootstrapper{
			Client:      client,
			URLTemplate: LauncherURL,
			Version:     LauncherVersion,
			FileName:    "repo",
		},
	}
}

// Backend is the GitRepo VCS backend.
type Backend struct {
	repo   *tool.Tool
	git    *tool.Tool
	logger *log.Logger
}

var _ vcs.Backend = &Backend{}

// New returns a backend running the repo launcher through repo and manifest
// repository queries through git.
func New(repo, git *tool.Tool, logger *log.Logger) *Backend {
	if logger == nil {
		logger = log.Default()
	}
	return &Backend{repo: repo, git: git, logger: logger}
}

func (b *Backend) Type() string { return model.TypeGitRepo }

func (b *Backend) ClaimsType(name string) bool {
	return vcs.MatchType(name, model.TypeGitRepo, model.GitRepoAliases...)
}

// ClaimsURL is always false: a manifest repository is indistinguishable from
// any other git repository by its URL.
func (b *Backend) ClaimsURL(string) bool { return false }

func (b *Backend) Checkout(ctx context.Context, pkg model.Package, targetDir string, allowMovingRevisions bool) (vcs.WorkingTree, error) {
	v := pkg.VcsProcessed
	if err := b.checkout(ctx, v, targetDir, allowMovingRevisions); err != nil {
		return nil, vcs.NewCheckoutError(b.Type(), v, err)
	}
	return &workingTree{dir: targetDir, git: b.git}, nil
}

func (b *Backend) checkout(ctx context.Context, v model.VcsInfo, dir string, allowMoving bool) error {
	moving, err := b.isMoving(ctx, v)
	if err != nil {
		return err
	}
	if moving && !allowMoving {
		return fmt.Errorf("manifest revision %q: %w", v.Revision, vcs.ErrMovingRevision)
	}

	manifest := v.Path
	if manifest == "" {
		manifest = defaultManifest
	}

	args := []string{"init", "--no-repo-verify", "--quiet", "-u", v.URL, "-m", manifest}
	if v.Revision != "" {
		args = append(args, "-b", v.Revision)
	}

	b.logger.Debug("initializing repo client", "url", v.URL, "revision", v.Revision, "manifest", manifest)
	if _, err := vcs.Run(ctx, b.repo, dir, args...); err != nil {
		return fmt.Errorf("repo init: %w", err)
	}
	if _, err := vcs.Run(ctx, b.repo, dir, "sync", "--current-branch", "--no-tags", "--quiet"); err != nil {
		return fmt.Errorf("repo sync: %w", err)
	}
	return nil
}

// isMoving reports whether the manifest revision is a branch. Commit ids and
// tags of the manifest repository are fixed.
func (b *Backend) isMoving(ctx context.Context, v model.VcsInfo) (bool, error) {
	rev := strings.TrimSpace(v.Revision)
	switch {
	case rev == "":
		return true, nil
	case vcs.IsCommitHash(rev), strings.HasPrefix(rev, "refs/tags/"):
		return false, nil
	}

	out, err := vcs.Run(ctx, b.git, "", "ls-remote", "--tags", v.URL, "refs/tags/"+rev)
	if err != nil {
		return false, fmt.Errorf("listing manifest tags: %w", err)
	}
	return out == "", nil
}

type workingTree struct {
	dir string
	git *tool.Tool
}

func (w *workingTree) Dir() string { return w.dir }

// ResolvedRevision returns the commit of the manifest repository.
func (w *workingTree) ResolvedRevision(ctx context.Context) (string, error) {
	return vcs.Run(ctx, w.git, filepath.Join(w.dir, ".repo", "manifests"), "rev-parse", "HEAD")
}
