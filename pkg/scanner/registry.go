package scanner

import (
	"fmt"
	"sort"
	"strings"
)

// Registry holds scanners by name.
type Registry map[string]Scanner

// Register adds s. Registering a name twice is an error.
func (r Registry) Register(s Scanner) error {
	if _, ok := r[s.Name()]; ok {
		return fmt.Errorf("registering scanner %q: another scanner is already registered under this name", s.Name())
	}
	r[s.Name()] = s
	return nil
}

// Get returns the scanner called name. Names are matched exactly first,
// then ignoring case.
func (r Registry) Get(name string) (Scanner, error) {
	if s, ok := r[name]; ok {
		return s, nil
	}
	for n, s := range r {
		if strings.EqualFold(n, name) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w %q (available: %v)", ErrUnknownScanner, name, r.Names())
}

// Select returns the scanners called names, in order.
func (r Registry) Select(names []string) ([]Scanner, error) {
	scanners := make([]Scanner, 0, len(names))
	for _, name := range names {
		s, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		scanners = append(scanners, s)
	}
	return scanners, nil
}

// Names returns the sorted names of all registered scanners.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
