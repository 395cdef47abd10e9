package tool

import (
	"errors"
	"fmt"
)

// ErrBootstrapUnsupported is wrapped by a ToolResolutionError when no
// acceptable executable is installed and the tool cannot be bootstrapped.
var ErrBootstrapUnsupported = errors.New("tool cannot be bootstrapped")

// ToolResolutionError reports that no usable executable could be found or
// installed.
type ToolResolutionError struct {
	Tool string
	Err  error
}

func (e *ToolResolutionError) Error() string {
	return fmt.Sprintf("resolving tool %s: %v", e.Tool, e.Err)
}

func (e *ToolResolutionError) Unwrap() error { return e.Err }

// VersionMismatchError reports an installed version outside the required
// range.
type VersionMismatchError struct {
	Tool     string
	Actual   string
	Required string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("%s version %s does not satisfy requirement %q", e.Tool, e.Actual, e.Required)
}
