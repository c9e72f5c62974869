package datatables

import (
	"fmt"

	"github.com/spf13/cast"
)

// Row is one raw row from a row source, keyed by attribute name.
type Row map[string]any

// FormatRow renders one output row in column order. Simple columns pass the
// raw value through; composite columns interpolate their template.
func FormatRow(row Row, columns *ColumnSpec) ([]any, error) {
	out := make([]any, 0, columns.Len())
	for i, col := range columns.columns {
		switch col.Kind {
		case ColumnComposite:
			var missingAttr string
			rendered := templateToken.ReplaceAllStringFunc(col.Source, func(token string) string {
				name := token[1 : len(token)-1]
				value, ok := row[name]
				if !ok {
					if missingAttr == "" {
						missingAttr = name
					}
					return ""
				}
				return displayString(value)
			})
			if missingAttr != "" {
				return nil, &ContractViolationError{Column: i, Attribute: missingAttr}
			}
			out = append(out, rendered)
		default:
			value, ok := row[col.Source]
			if !ok {
				return nil, &ContractViolationError{Column: i, Attribute: col.Source}
			}
			out = append(out, value)
		}
	}
	return out, nil
}

// FormatRows applies FormatRow to every row, preserving order. The result is
// never nil so that it encodes as an empty JSON array.
func FormatRows(rows []Row, columns *ColumnSpec) ([][]any, error) {
	out := make([][]any, 0, len(rows))
	for _, row := range rows {
		formatted, err := FormatRow(row, columns)
		if err != nil {
			return nil, err
		}
		out = append(out, formatted)
	}
	return out, nil
}

// displayString stringifies a template value. nil renders as "" rather than
// a language-specific null spelling, so templates over nullable attributes
// read cleanly.
func displayString(value any) string {
	s, err := cast.ToStringE(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return s
}
