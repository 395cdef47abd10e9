package model

import (
	"errors"
	"time"
)

// Mechanisms by which a source tree can be acquired.
const (
	MechanismVCS      = "vcs"
	MechanismArtifact = "artifact"
)

// ErrInvalidDownloadResult is returned by DownloadResult.Validate when the
// result does not name exactly one acquisition mechanism.
var ErrInvalidDownloadResult = errors.New("download result must carry exactly one of source artifact or vcs info")

// DownloadResult records where a source tree was written and which
// mechanism produced it. Exactly one of SourceArtifact and VcsInfo is set.
// OriginalVcsInfo is only set when VcsInfo differs from the requested
// processed pointer.
type DownloadResult struct {
	DateTime        time.Time       `json:"date_time"`
	OutputDirectory string          `json:"output_directory"`
	SourceArtifact  *RemoteArtifact `json:"source_artifact,omitempty"`
	VcsInfo         *VcsInfo        `json:"vcs_info,omitempty"`
	OriginalVcsInfo *VcsInfo        `json:"original_vcs_info,omitempty"`
}

// NewArtifactDownloadResult returns the result of a successful source
// artifact download.
func NewArtifactDownloadResult(at time.Time, dir string, artifact RemoteArtifact) *DownloadResult {
	return &DownloadResult{
		DateTime:        at,
		OutputDirectory: dir,
		SourceArtifact:  &artifact,
	}
}

// NewVcsDownloadResult returns the result of a successful checkout. requested
// is recorded as OriginalVcsInfo only if it differs from vcs.
func NewVcsDownloadResult(at time.Time, dir string, vcs, requested VcsInfo) *DownloadResult {
	r := &DownloadResult{
		DateTime:        at,
		OutputDirectory: dir,
		VcsInfo:         &vcs,
	}
	if !requested.SamePointer(vcs) {
		r.OriginalVcsInfo = &requested
	}
	return r
}

// Validate checks the exactly-one-mechanism invariant.
func (r *DownloadResult) Validate() error {
	if (r.SourceArtifact == nil) == (r.VcsInfo == nil) {
		return ErrInvalidDownloadResult
	}
	if r.OriginalVcsInfo != nil && r.VcsInfo == nil {
		return ErrInvalidDownloadResult
	}
	return nil
}

// Mechanism returns MechanismVCS or MechanismArtifact.
func (r *DownloadResult) Mechanism() string {
	if r.VcsInfo != nil {
		return MechanismVCS
	}
	return MechanismArtifact
}

// Provenance returns the mechanism-only part of r, without timestamps or
// local paths.
func (r *DownloadResult) Provenance() Provenance {
	p := Provenance{}
	if r.SourceArtifact != nil {
		a := *r.SourceArtifact
		p.SourceArtifact = &a
	}
	if r.VcsInfo != nil {
		v := *r.VcsInfo
		p.VcsInfo = &v
	}
	return p
}

// Provenance identifies exactly which mechanism produced a source tree.
type Provenance struct {
	SourceArtifact *RemoteArtifact `json:"source_artifact,omitempty"`
	VcsInfo        *VcsInfo        `json:"vcs_info,omitempty"`
}

// Equal reports whether p and o describe the same origin. For VCS origins the
// resolved revision must match, so a moved branch is not considered equal.
func (p Provenance) Equal(o Provenance) bool {
	switch {
	case p.SourceArtifact != nil && o.SourceArtifact != nil:
		return *p.SourceArtifact == *o.SourceArtifact
	case p.VcsInfo != nil && o.VcsInfo != nil:
		return *p.VcsInfo == *o.VcsInfo
	}
	return false
}
