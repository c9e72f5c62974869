package viewdef

import (
	"fmt"
	"sort"

	"tidb-datatables/internal/datatables"
)

// SourceFactory opens the row source behind a definition.
type SourceFactory func(def Definition) (datatables.RowSource, error)

// Entry is a servable view together with its declaration.
type Entry struct {
	Definition Definition
	View       *datatables.View
}

// Registry maps view names to built views. It is read-only after
// construction and safe for concurrent use.
type Registry struct {
	entries map[string]*Entry
	names   []string
}

// NewRegistry validates defs and builds a view for each of them.
func NewRegistry(defs []Definition, newSource SourceFactory) (*Registry, error) {
	if err := Validate(defs); err != nil {
		return nil, err
	}

	r := &Registry{entries: make(map[string]*Entry, len(defs))}
	for _, def := range defs {
		columns, err := datatables.NewColumnSpec(def.Columns)
		if err != nil {
			return nil, fmt.Errorf("view %q: %w", def.Name, err)
		}
		source, err := newSource(def)
		if err != nil {
			return nil, fmt.Errorf("view %q: %w", def.Name, err)
		}
		r.entries[def.Name] = &Entry{
			Definition: def,
			View:       &datatables.View{Name: def.Name, Columns: columns, Source: source},
		}
		r.names = append(r.names, def.Name)
	}
	sort.Strings(r.names)

	return r, nil
}

// Get returns the entry registered under name.
func (r *Registry) Get(name string) (*Entry, bool) {
	entry, ok := r.entries[name]
	return entry, ok
}

// List returns all entries ordered by name.
func (r *Registry) List() []*Entry {
	out := make([]*Entry, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.entries[name])
	}
	return out
}

// Len returns the number of registered views.
func (r *Registry) Len() int {
	return len(r.names)
}
