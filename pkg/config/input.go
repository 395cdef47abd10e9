package config

import (
	"errors"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/srcscan/srcscan/pkg/model"
)

// ProjectSet is the input srcscan operates on: the projects and packages
// found by an analyzer. It is read from YAML or JSON.
type ProjectSet struct {
	Projects []model.Project `json:"projects,omitempty"`
	Packages []model.Package `json:"packages,omitempty"`
}

// LoadProjectSet reads and validates a project set file.
func LoadProjectSet(path string) (*ProjectSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	set, err := ParseProjectSet(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return set, nil
}

// ParseProjectSet decodes and validates a project set. Unknown fields are
// rejected.
func ParseProjectSet(data []byte) (*ProjectSet, error) {
	var set ProjectSet
	if err := yaml.UnmarshalStrict(data, &set); err != nil {
		return nil, err
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

// Validate checks that every entry is identifiable and that no identifier
// is used twice, whether by projects, packages or one of each. Scan results
// are stored per identifier, so duplicates would overwrite each other.
func (s *ProjectSet) Validate() error {
	var errs []error
	seen := make(map[model.Identifier]string)
	check := func(where string, id model.Identifier) {
		if err := validateID(id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
			return
		}
		if first, ok := seen[id]; ok {
			errs = append(errs, fmt.Errorf("%s: duplicate id %s (first used by %s)", where, id, first))
			return
		}
		seen[id] = where
	}

	for i, p := range s.Projects {
		check(fmt.Sprintf("projects[%d]", i), p.ID)
	}
	for i, p := range s.Packages {
		check(fmt.Sprintf("packages[%d]", i), p.ID)
	}
	return errors.Join(errs...)
}

func validateID(id model.Identifier) error {
	if id.Name == "" {
		return errors.New("id.name is required")
	}
	return nil
}
