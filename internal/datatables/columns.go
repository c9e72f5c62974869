package datatables

import (
	"fmt"
	"regexp"
	"strings"
)

var templateToken = regexp.MustCompile(`\{(\w+)\}`)

// ColumnKind distinguishes direct attribute columns from template columns.
type ColumnKind int

const (
	// ColumnSimple maps a logical column to one underlying attribute.
	ColumnSimple ColumnKind = iota
	// ColumnComposite renders a display template over several attributes.
	ColumnComposite
)

func (k ColumnKind) String() string {
	if k == ColumnComposite {
		return "composite"
	}
	return "simple"
}

// Column is one logical column of a view.
type Column struct {
	Kind ColumnKind
	// Source is the declared entry: the attribute name or the template.
	Source string
	// Attributes lists the underlying attributes in first-occurrence order.
	Attributes []string
}

// ParseColumn classifies a declared column entry.
func ParseColumn(entry string) (Column, error) {
	if strings.TrimSpace(entry) == "" {
		return Column{}, fmt.Errorf("column entry cannot be empty")
	}

	matches := templateToken.FindAllStringSubmatch(entry, -1)
	if len(matches) == 0 {
		if strings.ContainsAny(entry, "{}") {
			return Column{}, fmt.Errorf("column %q has a malformed template token", entry)
		}
		return Column{Kind: ColumnSimple, Source: entry, Attributes: []string{entry}}, nil
	}

	// Every brace must belong to a {name} token.
	if rest := templateToken.ReplaceAllString(entry, ""); strings.ContainsAny(rest, "{}") {
		return Column{}, fmt.Errorf("column %q has a malformed template token", entry)
	}

	seen := make(map[string]struct{}, len(matches))
	attrs := make([]string, 0, len(matches))
	for _, m := range matches {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		attrs = append(attrs, name)
	}

	return Column{Kind: ColumnComposite, Source: entry, Attributes: attrs}, nil
}

// ColumnSpec is the ordered, immutable list of logical columns a view exposes.
// It is safe for concurrent use.
type ColumnSpec struct {
	columns  []Column
	required []string
}

// NewColumnSpec classifies every entry once and precomputes the attribute set.
func NewColumnSpec(entries []string) (*ColumnSpec, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("a view needs at least one column")
	}

	columns := make([]Column, 0, len(entries))
	var required []string
	seen := make(map[string]struct{})
	for i, entry := range entries {
		col, err := ParseColumn(entry)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		columns = append(columns, col)
		for _, attr := range col.Attributes {
			if _, ok := seen[attr]; ok {
				continue
			}
			seen[attr] = struct{}{}
			required = append(required, attr)
		}
	}

	return &ColumnSpec{columns: columns, required: required}, nil
}

// MustColumnSpec is NewColumnSpec for static declarations; it panics on error.
func MustColumnSpec(entries ...string) *ColumnSpec {
	spec, err := NewColumnSpec(entries)
	if err != nil {
		panic(err)
	}
	return spec
}

// Len returns the number of logical columns.
func (s *ColumnSpec) Len() int {
	return len(s.columns)
}

// Column returns the logical column at index.
func (s *ColumnSpec) Column(index int) (Column, bool) {
	if index < 0 || index >= len(s.columns) {
		return Column{}, false
	}
	return s.columns[index], true
}

// Columns returns a copy of the declared columns.
func (s *ColumnSpec) Columns() []Column {
	out := make([]Column, len(s.columns))
	copy(out, s.columns)
	return out
}

// Resolve returns the underlying attributes behind a logical column index.
func (s *ColumnSpec) Resolve(index int) ([]string, bool) {
	col, ok := s.Column(index)
	if !ok {
		return nil, false
	}
	return append([]string(nil), col.Attributes...), true
}

// RequiredAttributes returns every attribute a fetch must return, in first-occurrence order.
func (s *ColumnSpec) RequiredAttributes() []string {
	return append([]string(nil), s.required...)
}

// Sources returns the declared column entries in order.
func (s *ColumnSpec) Sources() []string {
	out := make([]string, len(s.columns))
	for i, col := range s.columns {
		out[i] = col.Source
	}
	return out
}
