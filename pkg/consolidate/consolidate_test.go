package consolidate

import (
	"fmt"
	"testing"

	"github.com/srcscan/srcscan/pkg/model"
)

func project(name, typ, url, path string) model.Project {
	return model.Project{
		ID:                 model.Identifier{Type: "Gradle", Name: name, Version: "1.0"},
		DefinitionFilePath: path + "/build.gradle",
		VcsProcessed:       model.VcsInfo{Type: typ, URL: url, Revision: "main", Path: path},
	}
}

func TestConsolidate(t *testing.T) {
	p1 := project("p1", model.TypeGit, "https://example.com/u.git", "")
	p2 := project("p2", model.TypeGit, "https://example.com/u.git", "sub")
	p3 := project("p3", model.TypeGit, "https://example.com/v.git", "")

	groups := Consolidate([]model.Project{p2, p3, p1})
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}

	u := groups[0]
	if u.Reference.ID != p1.ID {
		t.Errorf("reference of U = %s, want %s", u.Reference.ID, p1.ID)
	}
	if u.Reference.VcsProcessed.Path != "" {
		t.Errorf("reference path = %q, want empty", u.Reference.VcsProcessed.Path)
	}
	if len(u.Others) != 1 || u.Others[0].ID != p2.ID {
		t.Fatalf("others of U = %+v, want [p2]", u.Others)
	}
	if got := u.Others[0].VcsProcessed; got != p2.VcsProcessed {
		t.Errorf("p2 pointer = %+v, want %+v", got, p2.VcsProcessed)
	}

	v := groups[1]
	if v.Reference.ID != p3.ID || len(v.Others) != 0 {
		t.Errorf("group V = %+v, want p3 alone", v)
	}
}

func TestConsolidateWithoutEmptyPath(t *testing.T) {
	a := project("a", model.TypeGit, "https://example.com/mono.git", "a")
	b := project("b", model.TypeGit, "https://example.com/mono.git", "b")

	groups := Consolidate([]model.Project{a, b})
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}

	g := groups[0]
	if g.Reference.ID != a.ID {
		t.Errorf("reference = %s, want first encountered %s", g.Reference.ID, a.ID)
	}
	if g.Reference.VcsProcessed != a.VcsProcessed.WithoutPath() {
		t.Errorf("reference pointer = %+v, want shared pointer without path", g.Reference.VcsProcessed)
	}
	if g.Others[0].VcsProcessed.Path != "b" {
		t.Errorf("other path = %q, want b", g.Others[0].VcsProcessed.Path)
	}
}

func TestConsolidateManifestPathIsSignificant(t *testing.T) {
	a := project("a", model.TypeGitRepo, "https://example.com/manifest.git", "default.xml")
	b := project("b", model.TypeGitRepo, "https://example.com/manifest.git", "other.xml")

	groups := Consolidate([]model.Project{a, b})
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	for i, want := range []string{"default.xml", "other.xml"} {
		if got := groups[i].Reference.VcsProcessed.Path; got != want {
			t.Errorf("group %d manifest = %q, want %q", i, got, want)
		}
	}
}

func TestConsolidatePartitions(t *testing.T) {
	tests := map[string]struct {
		projects   []model.Project
		wantGroups int
	}{
		"empty": {},
		"distinct repositories": {
			projects: []model.Project{
				project("a", model.TypeGit, "https://example.com/a.git", ""),
				project("b", model.TypeGit, "https://example.com/b.git", ""),
				project("c", model.TypeSubversion, "svn://example.com/c", ""),
			},
			wantGroups: 3,
		},
		"monorepo": {
			projects: func() []model.Project {
				var ps []model.Project
				for i := range 10 {
					ps = append(ps, project(fmt.Sprintf("m%d", i), model.TypeGit, "https://example.com/mono.git", fmt.Sprintf("mod%d", i)))
				}
				return ps
			}(),
			wantGroups: 1,
		},
		"type spelled differently": {
			projects: []model.Project{
				project("a", model.TypeGit, "https://example.com/a.git", ""),
				project("b", "git", "https://example.com/a.git", "b"),
				project("c", " GIT ", "https://example.com/a.git", "c"),
			},
			wantGroups: 1,
		},
		"gitrepo aliases": {
			projects: []model.Project{
				project("a", model.TypeGitRepo, "https://example.com/manifest.git", "default.xml"),
				project("b", "repo", "https://example.com/manifest.git", "default.xml"),
			},
			wantGroups: 1,
		},
		"projects without vcs url": {
			projects: []model.Project{
				{ID: model.Identifier{Name: "local-a"}},
				{ID: model.Identifier{Name: "local-b"}},
				project("c", model.TypeGit, "https://example.com/c.git", ""),
			},
			wantGroups: 3,
		},
		"same url different revision": {
			projects: []model.Project{
				project("a", model.TypeGit, "https://example.com/a.git", ""),
				{
					ID:           model.Identifier{Name: "a-old"},
					VcsProcessed: model.VcsInfo{Type: model.TypeGit, URL: "https://example.com/a.git", Revision: "v0.1"},
				},
			},
			wantGroups: 2,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			groups := Consolidate(tc.projects)
			if len(groups) != tc.wantGroups {
				t.Errorf("got %d groups, want %d", len(groups), tc.wantGroups)
			}

			seen := map[model.Identifier]int{}
			for _, g := range groups {
				for _, m := range g.Members() {
					seen[m.ID]++
					if Key(m.VcsProcessed) != Key(g.Reference.VcsProcessed) {
						t.Errorf("%s does not share the reference's working tree", m.ID)
					}
				}
			}
			if len(seen) != len(tc.projects) {
				t.Errorf("groups hold %d projects, want %d", len(seen), len(tc.projects))
			}
			for _, p := range tc.projects {
				if seen[p.ID] != 1 {
					t.Errorf("%s appears %d times, want 1", p.ID, seen[p.ID])
				}
			}
		})
	}
}
