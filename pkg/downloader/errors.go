package downloader

import (
	"errors"
	"fmt"

	"github.com/srcscan/srcscan/pkg/model"
)

var (
	// ErrUnsupportedVCS is returned when no registered backend claims a
	// package's VCS type or URL.
	ErrUnsupportedVCS = errors.New("unsupported VCS type")

	// ErrNoSourceURLs is returned for packages with neither a VCS URL nor a
	// source artifact URL.
	ErrNoSourceURLs = errors.New("package has neither a VCS URL nor a source artifact URL")
)

// AcquisitionError reports that no mechanism could provide a package's
// sources. Both causes are kept: VCSErr is nil when no checkout was
// attempted, ArtifactErr is nil when there was no source artifact to fall
// back to.
type AcquisitionError struct {
	ID          model.Identifier
	VCSErr      error
	ArtifactErr error
}

func (e *AcquisitionError) Error() string {
	switch {
	case e.VCSErr != nil && e.ArtifactErr != nil:
		return fmt.Sprintf("downloading %s: source artifact: %v (after vcs failure: %v)", e.ID, e.ArtifactErr, e.VCSErr)
	case e.ArtifactErr != nil:
		return fmt.Sprintf("downloading %s: source artifact: %v", e.ID, e.ArtifactErr)
	default:
		return fmt.Sprintf("downloading %s: vcs: %v", e.ID, e.VCSErr)
	}
}

func (e *AcquisitionError) Unwrap() []error {
	var errs []error
	if e.ArtifactErr != nil {
		errs = append(errs, e.ArtifactErr)
	}
	if e.VCSErr != nil {
		errs = append(errs, e.VCSErr)
	}
	return errs
}
