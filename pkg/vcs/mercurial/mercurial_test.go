package mercurial

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/srcscan/srcscan/pkg/model"
	"github.com/srcscan/srcscan/pkg/tool"
	"github.com/srcscan/srcscan/pkg/vcs"
)

// requireHg skips the test if hg is not available.
func requireHg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("hg"); err != nil {
		t.Skip("hg not found in PATH")
	}
}

func TestClaims(t *testing.T) {
	b := New(nil, nil)

	types := map[string]bool{"Mercurial": true, "hg": true, "HG": true, "Git": false, "": false}
	for name, want := range types {
		if got := b.ClaimsType(name); got != want {
			t.Errorf("ClaimsType(%q) = %v, want %v", name, got, want)
		}
	}

	urls := map[string]bool{
		"https://hg.mozilla.org/mozilla-central": true,
		"hg::https://example.com/repo":           true,
		"https://foss.heptapod.net/pypy/pypy":    true,
		"https://github.com/org/repo.git":        false,
	}
	for url, want := range urls {
		if got := b.ClaimsURL(url); got != want {
			t.Errorf("ClaimsURL(%q) = %v, want %v", url, got, want)
		}
	}
}

func TestCheckout(t *testing.T) {
	requireHg(t)

	repo := t.TempDir()
	hg := func(args ...string) string {
		t.Helper()
		cmd := exec.Command("hg", append([]string{"--config", "ui.username=Test <test@test.com>"}, args...)...)
		cmd.Dir = repo
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("hg %v: %v\n%s", args, err, out)
		}
		return strings.TrimSpace(string(out))
	}
	hg("init", repo)
	os.WriteFile(filepath.Join(repo, "README"), []byte("test\n"), 0o644)
	hg("add", "README")
	hg("commit", "-m", "initial")
	node := hg("log", "--rev", ".", "--template", "{node}")
	hg("tag", "--rev", node, "1.0")

	hgTool, err := tool.New(ToolConfig())
	if err != nil {
		t.Fatal(err)
	}
	b := New(hgTool, nil)

	tests := map[string]struct {
		revision    string
		allowMoving bool
		wantMoving  bool
	}{
		"tag":                    {revision: "1.0"},
		"changeset":              {revision: node},
		"default branch":         {wantMoving: true},
		"default branch allowed": {allowMoving: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			pkg := model.Package{VcsProcessed: model.VcsInfo{Type: "Mercurial", URL: repo, Revision: tc.revision}}
			tree, err := b.Checkout(context.Background(), pkg, t.TempDir(), tc.allowMoving)
			if tc.wantMoving {
				if !errors.Is(err, vcs.ErrMovingRevision) {
					t.Fatalf("error = %v, want ErrMovingRevision", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Checkout: %v", err)
			}

			got, err := tree.ResolvedRevision(context.Background())
			if err != nil {
				t.Fatalf("ResolvedRevision: %v", err)
			}
			if tc.revision != "" && got != node {
				t.Errorf("ResolvedRevision = %q, want %q", got, node)
			}
		})
	}
}
