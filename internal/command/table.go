package command

import (
	"fmt"
	"sort"
)

// Table is a validated, read-only lookup of command Specs for one device
// type. It is safe for concurrent use after construction.
type Table struct {
	name  string
	specs map[string]Spec
}

// NewTable builds a table from the given specs.
//
// Each spec is validated individually. Two entries may share a name only if
// their direction capability agrees; a conflicting duplicate fails the whole
// table with ErrInvalidSpec, as a half-loaded table would silently change
// which commands are writable.
//
// Parameters:
//   - name: table name, used in error messages (usually the device type)
//   - specs: command definitions from configuration
//
// Returns:
//   - *Table: validated table ready for use
//   - error: ErrInvalidSpec describing the offending entry
func NewTable(name string, specs []Spec) (*Table, error) {
	t := &Table{
		name:  name,
		specs: make(map[string]Spec, len(specs)),
	}

	for _, s := range specs {
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("table %q: %w", name, err)
		}
		if prev, ok := t.specs[s.Name]; ok {
			if prev.Read != s.Read || prev.Write != s.Write {
				return nil, fmt.Errorf("%w: table %q: duplicate command %q with conflicting direction",
					ErrInvalidSpec, name, s.Name)
			}
			// Identical direction: later entry wins, matching the
			// original plugin's last-definition behaviour.
		}
		t.specs[s.Name] = s
	}

	return t, nil
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Len returns the number of commands in the table.
func (t *Table) Len() int { return len(t.specs) }

// Resolve returns the spec for the given command name.
// Returns ErrUnknownCommand if the name is not present.
func (t *Table) Resolve(name string) (Spec, error) {
	s, ok := t.specs[name]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q in table %q", ErrUnknownCommand, name, t.name)
	}
	return s, nil
}

// Names returns all command names in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.specs))
	for n := range t.specs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
