package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/srcscan/srcscan/pkg/model"
	"github.com/srcscan/srcscan/pkg/tool"
	"github.com/srcscan/srcscan/pkg/vcs"
)

// requireGit skips the test if git is not available.
func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
}

// setupBareRepo creates a bare git repo with two commits. The first commit
// carries a lightweight tag "v1.0" and the second an annotated tag "v2.0";
// the second commit adds lib/sub/manifest.toml. Returns the bare repo path
// and both commit hashes.
func setupBareRepo(t *testing.T) (repoURL, first, second string) {
	t.Helper()

	workDir := filepath.Join(t.TempDir(), "work")
	gitCmd := func(args ...string) string {
		t.Helper()
		out, err := exec.Command("git", args...).CombinedOutput()
		if err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
		return strings.TrimSpace(string(out))
	}

	gitCmd("init", "--initial-branch=main", workDir)
	gitCmd("-C", workDir, "config", "user.email", "test@test.com")
	gitCmd("-C", workDir, "config", "user.name", "Test")

	os.WriteFile(filepath.Join(workDir, "README.md"), []byte("# test\n"), 0o644)
	gitCmd("-C", workDir, "add", ".")
	gitCmd("-C", workDir, "commit", "-m", "initial commit")
	gitCmd("-C", workDir, "tag", "v1.0")
	first = gitCmd("-C", workDir, "rev-parse", "HEAD")

	os.MkdirAll(filepath.Join(workDir, "lib", "sub"), 0o755)
	os.WriteFile(filepath.Join(workDir, "lib", "sub", "manifest.toml"), []byte("name = \"sub\"\n"), 0o644)
	gitCmd("-C", workDir, "add", ".")
	gitCmd("-C", workDir, "commit", "-m", "add sub project")
	gitCmd("-C", workDir, "tag", "-a", "v2.0", "-m", "version 2.0")
	second = gitCmd("-C", workDir, "rev-parse", "HEAD")

	bareDir := filepath.Join(t.TempDir(), "repo.git")
	gitCmd("clone", "--bare", workDir, bareDir)
	return bareDir, first, second
}

func newBackend(t *testing.T) *Backend {
	t.Helper()
	gitTool, err := tool.New(ToolConfig())
	if err != nil {
		t.Fatal(err)
	}
	return New(gitTool, nil)
}

func TestIsGitURL(t *testing.T) {
	tests := map[string]struct {
		input string
		want  bool
	}{
		"https with .git suffix": {input: "https://example.com/org/repo.git", want: true},
		"trailing slash":         {input: "https://example.com/org/repo.git/", want: true},
		"github without suffix":  {input: "https://github.com/org/repo", want: true},
		"www github":             {input: "https://www.github.com/org/repo", want: true},
		"ssh shorthand":          {input: "git@github.com:org/repo.git", want: true},
		"git scheme":             {input: "git://example.com/repo", want: true},
		"npm style":              {input: "git+https://example.com/org/repo", want: true},
		"subversion":             {input: "svn://svn.example.com/repo/trunk", want: false},
		"plain website":          {input: "https://example.com/project", want: false},
		"empty":                  {input: "", want: false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := IsGitURL(tc.input); got != tc.want {
				t.Errorf("IsGitURL(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestVersionTags(t *testing.T) {
	tests := map[string]struct {
		id   model.Identifier
		want []string
	}{
		"full version": {
			id:   model.Identifier{Name: "lib", Version: "1.2.3"},
			want: []string{"v1.2.3", "1.2.3", "lib-1.2.3", "lib-v1.2.3"},
		},
		"prefixed version": {
			id:   model.Identifier{Name: "lib", Version: "v1.2.3"},
			want: []string{"v1.2.3", "1.2.3", "lib-1.2.3", "lib-v1.2.3"},
		},
		"short version is normalized": {
			id:   model.Identifier{Version: "2.0"},
			want: []string{"v2.0", "2.0", "v2.0.0", "2.0.0"},
		},
		"no version": {
			id: model.Identifier{Name: "lib"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := versionTags(tc.id); !slices.Equal(got, tc.want) {
				t.Errorf("versionTags = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseLsRemote(t *testing.T) {
	out := strings.Join([]string{
		"ref: refs/heads/main\tHEAD",
		"1111111111111111111111111111111111111111\tHEAD",
		"1111111111111111111111111111111111111111\trefs/heads/main",
		"2222222222222222222222222222222222222222\trefs/heads/dev",
		"3333333333333333333333333333333333333333\trefs/tags/v1.0",
		"4444444444444444444444444444444444444444\trefs/tags/v2.0",
		"1111111111111111111111111111111111111111\trefs/tags/v2.0^{}",
	}, "\n")

	refs := parseLsRemote(out)
	if refs.defaultBranch != "main" {
		t.Errorf("defaultBranch = %q, want main", refs.defaultBranch)
	}
	if refs.head != strings.Repeat("1", 40) {
		t.Errorf("head = %q", refs.head)
	}
	if got := refs.tags["v2.0"]; got != strings.Repeat("1", 40) {
		t.Errorf("annotated tag v2.0 = %q, want peeled commit", got)
	}

	tests := map[string]struct {
		rev         string
		allowMoving bool
		want        string
		wantMoving  bool
		wantErr     bool
	}{
		"tag is fixed":            {rev: "v1.0", want: strings.Repeat("3", 40)},
		"full tag ref":            {rev: "refs/tags/v1.0", want: strings.Repeat("3", 40)},
		"commit is fixed":         {rev: strings.Repeat("A", 40), want: strings.Repeat("a", 40)},
		"branch rejected":         {rev: "dev", wantMoving: true},
		"branch allowed":          {rev: "dev", allowMoving: true, want: strings.Repeat("2", 40)},
		"default branch rejected": {rev: "HEAD", wantMoving: true},
		"short hash":              {rev: "2222222", want: strings.Repeat("2", 40)},
		"unadvertised short hash": {rev: "abcdef0", want: "abcdef0"},
		"unknown name":            {rev: "nope", wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := refs.resolve(tc.rev, tc.allowMoving)
			if tc.wantMoving {
				if !errors.Is(err, vcs.ErrMovingRevision) {
					t.Fatalf("error = %v, want ErrMovingRevision", err)
				}
				return
			}
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("resolve(%q) = %q, want %q", tc.rev, got, tc.want)
			}
		})
	}
}

func TestCheckout(t *testing.T) {
	requireGit(t)
	repo, first, second := setupBareRepo(t)

	tests := map[string]struct {
		pkg         model.Package
		allowMoving bool
		wantCommit  string
		wantFile    string
		wantMoving  bool
		wantErr     bool
	}{
		"lightweight tag": {
			pkg:        model.Package{VcsProcessed: model.VcsInfo{URL: repo, Revision: "v1.0"}},
			wantCommit: first,
			wantFile:   "README.md",
		},
		"annotated tag": {
			pkg:        model.Package{VcsProcessed: model.VcsInfo{URL: repo, Revision: "v2.0"}},
			wantCommit: second,
			wantFile:   "lib/sub/manifest.toml",
		},
		"full commit hash": {
			pkg:        model.Package{VcsProcessed: model.VcsInfo{URL: repo, Revision: first}},
			wantCommit: first,
		},
		"tag derived from package version": {
			pkg: model.Package{
				ID:           model.Identifier{Name: "lib", Version: "1.0"},
				VcsProcessed: model.VcsInfo{URL: repo},
			},
			wantCommit: first,
		},
		"branch rejected without moving revisions": {
			pkg:        model.Package{VcsProcessed: model.VcsInfo{URL: repo, Revision: "main"}},
			wantMoving: true,
		},
		"branch with moving revisions": {
			pkg:         model.Package{VcsProcessed: model.VcsInfo{URL: repo, Revision: "main"}},
			allowMoving: true,
			wantCommit:  second,
		},
		"default branch rejected without moving revisions": {
			pkg: model.Package{
				ID:           model.Identifier{Name: "lib", Version: "9.9.9"},
				VcsProcessed: model.VcsInfo{URL: repo},
			},
			wantMoving: true,
		},
		"default branch with moving revisions": {
			pkg: model.Package{
				ID:           model.Identifier{Name: "lib", Version: "9.9.9"},
				VcsProcessed: model.VcsInfo{URL: repo},
			},
			allowMoving: true,
			wantCommit:  second,
		},
		"sparse path": {
			pkg:        model.Package{VcsProcessed: model.VcsInfo{URL: repo, Revision: "v2.0", Path: "lib/sub"}},
			wantCommit: second,
			wantFile:   "lib/sub/manifest.toml",
		},
		"missing path": {
			pkg:     model.Package{VcsProcessed: model.VcsInfo{URL: repo, Revision: "v1.0", Path: "lib/sub"}},
			wantErr: true,
		},
		"unknown revision": {
			pkg:     model.Package{VcsProcessed: model.VcsInfo{URL: repo, Revision: "does-not-exist"}},
			wantErr: true,
		},
	}

	b := newBackend(t)
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			tree, err := b.Checkout(context.Background(), tc.pkg, dir, tc.allowMoving)

			if tc.wantMoving || tc.wantErr {
				var ce *vcs.CheckoutError
				if !errors.As(err, &ce) {
					t.Fatalf("error = %v, want CheckoutError", err)
				}
				if tc.wantMoving && !errors.Is(err, vcs.ErrMovingRevision) {
					t.Errorf("error = %v, want ErrMovingRevision", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Checkout: %v", err)
			}

			if tree.Dir() != dir {
				t.Errorf("Dir = %q, want %q", tree.Dir(), dir)
			}
			got, err := tree.ResolvedRevision(context.Background())
			if err != nil {
				t.Fatalf("ResolvedRevision: %v", err)
			}
			if got != tc.wantCommit {
				t.Errorf("ResolvedRevision = %q, want %q", got, tc.wantCommit)
			}
			if tc.wantFile != "" {
				if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(tc.wantFile))); err != nil {
					t.Errorf("expected %s in checkout: %v", tc.wantFile, err)
				}
			}
		})
	}
}
