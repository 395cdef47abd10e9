// Package git checks out sources with the git command line client.
package git

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/charmbracelet/log"

	"github.com/srcscan/srcscan/pkg/model"
	"github.com/srcscan/srcscan/pkg/tool"
	"github.com/srcscan/srcscan/pkg/vcs"
)

var knownHosts = []string{
	"github.com",
	"gitlab.com",
	"bitbucket.org",
	"codeberg.org",
	"gitee.com",
	"git.sr.ht",
}

// ToolConfig returns the managed tool configuration for the git client.
func ToolConfig() tool.Config {
	return tool.Config{
		Name:        "git",
		Command:     "git",
		Requirement: ">=2.25",
	}
}

// Backend is the git VCS backend.
type Backend struct {
	git    *tool.Tool
	logger *log.Logger
}

var _ vcs.Backend = &Backend{}

// New returns a git backend running git through t.
func New(t *tool.Tool, logger *log.Logger) *Backend {
	if logger == nil {
		logger = log.Default()
	}
	return &Backend{git: t, logger: logger}
}

func (b *Backend) Type() string { return model.TypeGit }

func (b *Backend) ClaimsType(name string) bool { return vcs.MatchType(name, model.TypeGit) }

func (b *Backend) ClaimsURL(rawURL string) bool { return IsGitURL(rawURL) }

// IsGitURL reports whether rawURL looks like a git remote: git specific
// schemes, SSH shorthand, a .git suffix or a well-known git hosting service.
func IsGitURL(rawURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	switch {
	case lower == "":
		return false
	case strings.HasPrefix(lower, "git://"), strings.HasPrefix(lower, "git+"), strings.HasPrefix(lower, "git@"):
		return true
	case strings.HasSuffix(strings.TrimSuffix(lower, "/"), ".git"):
		return true
	}

	host, _, err := parseGitURL(lower)
	if err != nil {
		return false
	}
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	return slices.Contains(knownHosts, strings.TrimPrefix(host, "www."))
}

// parseGitURL extracts the host and repository path from a git URL.
// Supports URLs with a scheme and SSH shorthand (git@host:owner/repo.git).
func parseGitURL(rawURL string) (host, repoPath string, err error) {
	if idx := strings.Index(rawURL, ":"); idx > 0 && !strings.Contains(rawURL[:idx], "/") && !strings.Contains(rawURL, "://") {
		host = rawURL[:idx]
		if at := strings.Index(host, "@"); at >= 0 {
			host = host[at+1:]
		}
		return host, strings.TrimSuffix(rawURL[idx+1:], ".git"), nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	repoPath = strings.TrimSuffix(strings.TrimPrefix(u.Path, "/"), ".git")
	return u.Host, repoPath, nil
}

// remoteURL strips the package manager style "git+" prefix.
func remoteURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if strings.HasPrefix(strings.ToLower(rawURL), "git+") {
		return rawURL[len("git+"):]
	}
	return rawURL
}

func (b *Backend) Checkout(ctx context.Context, pkg model.Package, targetDir string, allowMovingRevisions bool) (vcs.WorkingTree, error) {
	tree, err := b.checkout(ctx, pkg, targetDir, allowMovingRevisions)
	if err != nil {
		return nil, vcs.NewCheckoutError(b.Type(), pkg.VcsProcessed, err)
	}
	return tree, nil
}

func (b *Backend) checkout(ctx context.Context, pkg model.Package, dir string, allowMoving bool) (*workingTree, error) {
	v := pkg.VcsProcessed
	remote := remoteURL(v.URL)

	if err := b.initRepo(ctx, dir, remote, v.Path); err != nil {
		return nil, fmt.Errorf("initializing repository: %w", err)
	}

	refs, err := b.lsRemote(ctx, remote)
	if err != nil {
		return nil, fmt.Errorf("listing remote refs: %w", err)
	}

	var errs []error
	for _, rev := range b.candidates(v.Revision, pkg.ID, refs) {
		target, err := refs.resolve(rev, allowMoving)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		b.logger.Debug("checking out", "url", remote, "revision", rev, "commit", target)
		if err := b.fetchAndCheckout(ctx, dir, target); err != nil {
			errs = append(errs, fmt.Errorf("revision %q: %w", rev, err))
			continue
		}
		if err := checkPath(dir, v.Path); err != nil {
			return nil, fmt.Errorf("revision %q: %w", rev, err)
		}
		return &workingTree{dir: dir, git: b.git}, nil
	}

	if len(errs) == 0 {
		return nil, errors.New("no revision to check out")
	}
	return nil, errors.Join(errs...)
}

// candidates returns the revisions to try in order. An explicit revision is
// the only candidate. Otherwise tags derived from the package version are
// tried, and the remote's default branch when no such tag exists.
func (b *Backend) candidates(revision string, id model.Identifier, refs *remoteRefs) []string {
	if revision = strings.TrimSpace(revision); revision != "" {
		return []string{revision}
	}

	var found []string
	for _, tag := range versionTags(id) {
		if _, ok := refs.tags[tag]; ok {
			found = append(found, tag)
		}
	}
	if len(found) > 0 {
		return found
	}

	b.logger.Debug("no tag for package version, using default branch", "package", id, "branch", refs.defaultBranch)
	return []string{"HEAD"}
}

// versionTags returns tag names a release of id is commonly published under.
func versionTags(id model.Identifier) []string {
	version := strings.TrimSpace(id.Version)
	if version == "" {
		return nil
	}

	versions := []string{strings.TrimPrefix(version, "v")}
	if sv, err := semver.NewVersion(version); err == nil && sv.String() != versions[0] {
		versions = append(versions, sv.String())
	}

	var tags []string
	for _, v := range versions {
		tags = append(tags, "v"+v, v)
		if id.Name != "" {
			tags = append(tags, id.Name+"-"+v, id.Name+"-v"+v)
		}
	}
	return slices.Compact(tags)
}

func (b *Backend) initRepo(ctx context.Context, dir, remote, path string) error {
	for _, args := range [][]string{
		{"init", "--quiet", dir},
		{"-C", dir, "config", "remote.origin.url", remote},
		{"-C", dir, "config", "remote.origin.fetch", "+refs/heads/*:refs/remotes/origin/*"},
		{"-C", dir, "config", "advice.detachedHead", "false"},
	} {
		if _, err := vcs.Run(ctx, b.git, "", args...); err != nil {
			return err
		}
	}

	if path == "" {
		return nil
	}
	if _, err := vcs.Run(ctx, b.git, "", "-C", dir, "config", "core.sparseCheckout", "true"); err != nil {
		return err
	}
	sparse := filepath.Join(dir, ".git", "info", "sparse-checkout")
	if err := os.MkdirAll(filepath.Dir(sparse), 0o755); err != nil {
		return err
	}
	return os.WriteFile(sparse, []byte("/"+strings.Trim(path, "/")+"\n"), 0o644)
}

// fetchAndCheckout fetches a single commit and checks it out. Servers that
// refuse to serve unadvertised commits get a full fetch instead.
func (b *Backend) fetchAndCheckout(ctx context.Context, dir, target string) error {
	if _, err := vcs.Run(ctx, b.git, "", "-C", dir, "fetch", "--quiet", "--depth", "1", "origin", target); err == nil {
		_, err := vcs.Run(ctx, b.git, "", "-C", dir, "checkout", "--quiet", "--detach", "FETCH_HEAD")
		return err
	}

	b.logger.Debug("shallow fetch failed, fetching full history", "commit", target)
	if _, err := vcs.Run(ctx, b.git, "", "-C", dir, "fetch", "--quiet", "--tags", "origin"); err != nil {
		return err
	}
	_, err := vcs.Run(ctx, b.git, "", "-C", dir, "checkout", "--quiet", "--detach", target)
	return err
}

func checkPath(dir, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(path))); err != nil {
		return fmt.Errorf("path %q does not exist in the checkout", path)
	}
	return nil
}

// remoteRefs is the parsed output of git ls-remote --symref.
type remoteRefs struct {
	head          string
	defaultBranch string
	heads         map[string]string
	tags          map[string]string
}

func (b *Backend) lsRemote(ctx context.Context, remote string) (*remoteRefs, error) {
	out, err := vcs.Run(ctx, b.git, "", "ls-remote", "--symref", remote)
	if err != nil {
		return nil, err
	}
	return parseLsRemote(out), nil
}

func parseLsRemote(out string) *remoteRefs {
	refs := &remoteRefs{heads: map[string]string{}, tags: map[string]string{}}
	peeled := map[string]string{}

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if fields[0] == "ref:" && len(fields) == 3 && fields[2] == "HEAD" {
			refs.defaultBranch = strings.TrimPrefix(fields[1], "refs/heads/")
			continue
		}

		sha, name := fields[0], fields[1]
		switch {
		case name == "HEAD":
			refs.head = sha
		case strings.HasPrefix(name, "refs/heads/"):
			refs.heads[strings.TrimPrefix(name, "refs/heads/")] = sha
		case strings.HasPrefix(name, "refs/tags/") && strings.HasSuffix(name, "^{}"):
			// Annotated tags: the peeled entry points at the commit.
			peeled[strings.TrimSuffix(strings.TrimPrefix(name, "refs/tags/"), "^{}")] = sha
		case strings.HasPrefix(name, "refs/tags/"):
			refs.tags[strings.TrimPrefix(name, "refs/tags/")] = sha
		}
	}
	for tag, sha := range peeled {
		refs.tags[tag] = sha
	}
	return refs
}

// resolve maps rev to the commit to fetch. Tags and commit ids are fixed;
// branches and HEAD are moving.
func (r *remoteRefs) resolve(rev string, allowMoving bool) (string, error) {
	if sha, ok := r.tags[strings.TrimPrefix(rev, "refs/tags/")]; ok {
		return sha, nil
	}
	if vcs.IsCommitHash(rev) {
		return strings.ToLower(rev), nil
	}

	var sha string
	var moving bool
	if rev == "HEAD" {
		sha, moving = r.head, true
		if sha == "" {
			return "", errors.New("remote has no default branch")
		}
	} else if s, ok := r.heads[strings.TrimPrefix(rev, "refs/heads/")]; ok {
		sha, moving = s, true
	}
	if moving {
		if !allowMoving {
			return "", fmt.Errorf("revision %q: %w", rev, vcs.ErrMovingRevision)
		}
		return sha, nil
	}

	if vcs.IsShortCommitHash(rev) {
		return r.expandShortHash(rev)
	}
	return "", fmt.Errorf("revision %q not found", rev)
}

// expandShortHash prefix-matches rev against advertised commits. Commits that
// are not at the tip of any ref are returned as given and resolved after a
// full fetch.
func (r *remoteRefs) expandShortHash(rev string) (string, error) {
	prefix := strings.ToLower(rev)
	var match string
	for _, refs := range []map[string]string{r.heads, r.tags} {
		for _, sha := range refs {
			sha = strings.ToLower(sha)
			if !strings.HasPrefix(sha, prefix) {
				continue
			}
			if match != "" && match != sha {
				return "", fmt.Errorf("short hash %q is ambiguous", rev)
			}
			match = sha
		}
	}
	if match == "" {
		return prefix, nil
	}
	return match, nil
}

type workingTree struct {
	dir string
	git *tool.Tool
}

func (w *workingTree) Dir() string { return w.dir }

func (w *workingTree) ResolvedRevision(ctx context.Context) (string, error) {
	return vcs.Run(ctx, w.git, w.dir, "rev-parse", "HEAD")
}
