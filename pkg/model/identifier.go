// Package model holds the records exchanged between the analyzer, the
// downloader and the scanners: package identities, VCS pointers, source
// artifact pointers and download provenance.
package model

import (
	"net/url"
	"strings"
)

// emptySegment stands in for a blank identifier component in paths.
const emptySegment = "_"

// Identifier uniquely names a package. Type is the package ecosystem
// (e.g. "Maven", "NPM") and may be blank.
type Identifier struct {
	Type      string `json:"type,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name"`
	Version   string `json:"version,omitempty"`
}

// String returns the colon separated "type:namespace:name:version" form.
func (id Identifier) String() string {
	return strings.Join([]string{id.Type, id.Namespace, id.Name, id.Version}, ":")
}

// PathSegments returns the deterministic, filesystem safe directory segments
// for id. Blank components become "_" so that distinct identifiers never
// collapse onto the same directory.
func (id Identifier) PathSegments() []string {
	return []string{
		pathSegment(id.Type),
		pathSegment(id.Namespace),
		pathSegment(id.Name),
		pathSegment(id.Version),
	}
}

func pathSegment(s string) string {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return emptySegment
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return url.PathEscape(s)
}
