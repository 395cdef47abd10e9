// Package consolidate groups projects that live in the same VCS working tree
// so that their sources are checked out only once.
package consolidate

import (
	"strings"

	"github.com/srcscan/srcscan/pkg/model"
)

// Group is one distinct working tree. Reference is the package the tree is
// acquired for; Others share its checkout. All members carry the group's
// shared VCS pointer, and Others keep their own path.
type Group struct {
	Reference model.Package
	Others    []model.Package
}

// Members returns the reference followed by the other packages.
func (g Group) Members() []model.Package {
	return append([]model.Package{g.Reference}, g.Others...)
}

// Key returns the working tree identity of a processed VCS pointer: the
// pointer without its path. GitRepo pointers keep their path, which names a
// manifest rather than a subdirectory.
func Key(v model.VcsInfo) model.VcsInfo {
	if v.PathIsManifest() {
		return v
	}
	return v.WithoutPath()
}

// groupKey is Key with the type spelled canonically, so that "git" and
// "Git" pointers to one repository share a working tree.
func groupKey(v model.VcsInfo) model.VcsInfo {
	k := Key(v)
	if k.PathIsManifest() {
		k.Type = model.TypeGitRepo
	}
	k.Type = strings.ToLower(strings.TrimSpace(k.Type))
	return k
}

// Consolidate partitions projects into working tree groups. Groups are
// returned in order of their first member in projects, and every project
// appears in exactly one group. Projects without a VCS URL have no working
// tree to share and each form their own group.
func Consolidate(projects []model.Project) []Group {
	var trees [][]model.Package
	index := map[model.VcsInfo]int{}

	for _, p := range projects {
		pkg := p.ToPackage()
		if !pkg.VcsProcessed.HasURL() {
			trees = append(trees, []model.Package{pkg})
			continue
		}
		key := groupKey(pkg.VcsProcessed)
		i, ok := index[key]
		if !ok {
			i = len(trees)
			index[key] = i
			trees = append(trees, nil)
		}
		trees[i] = append(trees[i], pkg)
	}

	groups := make([]Group, 0, len(trees))
	for _, pkgs := range trees {
		ref := 0
		for i, pkg := range pkgs {
			if pkg.VcsProcessed.Path == "" {
				ref = i
				break
			}
		}

		shared := Key(pkgs[ref].VcsProcessed)
		g := Group{Reference: withPointer(pkgs[ref], shared, true)}
		for i, pkg := range pkgs {
			if i != ref {
				g.Others = append(g.Others, withPointer(pkg, shared, false))
			}
		}
		groups = append(groups, g)
	}
	return groups
}

// withPointer rewrites pkg to carry the shared pointer. The reference takes
// the key as is; other members keep their own path.
func withPointer(pkg model.Package, key model.VcsInfo, reference bool) model.Package {
	path := pkg.VcsProcessed.Path
	pkg.VcsProcessed = key
	if !reference {
		pkg.VcsProcessed.Path = path
	}
	return pkg
}
