package model

// Package is a single unit of third-party source code as reported by the
// analyzer. It may carry both a VCS pointer and a source artifact pointer;
// the downloader tries the processed VCS pointer first and falls back to the
// source artifact.
type Package struct {
	ID             Identifier     `json:"id"`
	VcsDeclared    VcsInfo        `json:"vcs"`
	VcsProcessed   VcsInfo        `json:"vcs_processed"`
	SourceArtifact RemoteArtifact `json:"source_artifact"`
}

// Project is a first-party project found in a repository by the analyzer,
// located by the definition file (manifest) it was read from.
type Project struct {
	ID                 Identifier `json:"id"`
	DefinitionFilePath string     `json:"definition_file_path,omitempty"`
	VcsDeclared        VcsInfo    `json:"vcs"`
	VcsProcessed       VcsInfo    `json:"vcs_processed"`
	Homepage           string     `json:"homepage,omitempty"`
}

// ToPackage returns the package form of p. Projects have no source artifact.
func (p Project) ToPackage() Package {
	return Package{
		ID:           p.ID,
		VcsDeclared:  p.VcsDeclared,
		VcsProcessed: p.VcsProcessed,
	}
}
