// Package viewdef loads view definitions from configuration and YAML files,
// validates them, and builds the registry of servable views.
package viewdef

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"tidb-datatables/internal/datatables"
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Definition declares one view: a table and the logical columns exposed over it.
type Definition struct {
	Name        string   `yaml:"name" mapstructure:"name" json:"name"`
	Table       string   `yaml:"table" mapstructure:"table" json:"-"`
	Columns     []string `yaml:"columns" mapstructure:"columns" json:"columns"`
	Titles      []string `yaml:"titles" mapstructure:"titles" json:"titles,omitempty"`
	Description string   `yaml:"description" mapstructure:"description" json:"description,omitempty"`

	// SourceFile is the YAML file the definition came from; empty for
	// definitions from the main configuration.
	SourceFile string `yaml:"-" mapstructure:"-" json:"-"`
}

// Origin describes where the definition was declared, for error messages.
func (d Definition) Origin() string {
	if d.SourceFile == "" {
		return "config"
	}
	return d.SourceFile
}

// Headers returns the display titles, falling back to the column entries.
func (d Definition) Headers() []string {
	if len(d.Titles) > 0 {
		return append([]string(nil), d.Titles...)
	}
	return append([]string(nil), d.Columns...)
}

// Validate checks every definition and reports all problems at once.
func Validate(defs []Definition) error {
	var errs []error
	seen := make(map[string]string, len(defs))

	for _, def := range defs {
		label := fmt.Sprintf("view %q (%s)", def.Name, def.Origin())

		if !namePattern.MatchString(def.Name) {
			errs = append(errs, fmt.Errorf("%s: name must match %s", label, namePattern.String()))
		} else if prev, ok := seen[def.Name]; ok {
			errs = append(errs, fmt.Errorf("%s: duplicate name, first declared in %s", label, prev))
		} else {
			seen[def.Name] = def.Origin()
		}

		if strings.TrimSpace(def.Table) == "" {
			errs = append(errs, fmt.Errorf("%s: table is required", label))
		}

		if _, err := datatables.NewColumnSpec(def.Columns); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
		}

		if len(def.Titles) > 0 && len(def.Titles) != len(def.Columns) {
			errs = append(errs, fmt.Errorf("%s: %d titles given for %d columns", label, len(def.Titles), len(def.Columns)))
		}
	}

	return errors.Join(errs...)
}
