package model

import "strings"

// Canonical names of the VCS types known to srcscan.
const (
	TypeGit        = "Git"
	TypeGitRepo    = "GitRepo"
	TypeMercurial  = "Mercurial"
	TypeSubversion = "Subversion"
)

// GitRepoAliases are alternative spellings of TypeGitRepo.
var GitRepoAliases = []string{"repo", "git-repo"}

// VcsInfo points at a location inside a version control repository.
//
// ResolvedRevision is only set on pointers produced by a checkout; pointers
// coming from package metadata leave it blank.
type VcsInfo struct {
	Type             string `json:"type,omitempty"`
	URL              string `json:"url,omitempty"`
	Revision         string `json:"revision,omitempty"`
	ResolvedRevision string `json:"resolved_revision,omitempty"`
	Path             string `json:"path,omitempty"`
}

// HasURL reports whether v has a non-blank URL.
func (v VcsInfo) HasURL() bool {
	return strings.TrimSpace(v.URL) != ""
}

// WithoutPath returns a copy of v with Path cleared.
func (v VcsInfo) WithoutPath() VcsInfo {
	v.Path = ""
	return v
}

// SamePointer reports whether v and o point at the same type, URL, revision
// and path. ResolvedRevision is ignored.
func (v VcsInfo) SamePointer(o VcsInfo) bool {
	v.ResolvedRevision = ""
	o.ResolvedRevision = ""
	return v == o
}

// IsType reports whether v.Type names typ, ignoring case.
func (v VcsInfo) IsType(typ string) bool {
	return strings.EqualFold(strings.TrimSpace(v.Type), typ)
}

// PathIsManifest reports whether Path names a manifest file rather than a
// directory inside the working tree, which is the case for GitRepo.
func (v VcsInfo) PathIsManifest() bool {
	if v.IsType(TypeGitRepo) {
		return true
	}
	for _, alias := range GitRepoAliases {
		if v.IsType(alias) {
			return true
		}
	}
	return false
}
