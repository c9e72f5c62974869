package datatables

import "strconv"

// SortInstruction is one ORDER BY term handed to the row source.
type SortInstruction struct {
	Attribute string
	Direction Direction
}

// ResolveOrder expands client sort specs into attribute-level instructions.
// A composite column contributes all of its attributes, in template order,
// with the requested direction. Earlier instructions dominate later ones.
func ResolveOrder(specs []SortSpec, columns *ColumnSpec) ([]SortInstruction, error) {
	order := make([]SortInstruction, 0, len(specs))
	for i, spec := range specs {
		attrs, ok := columns.Resolve(spec.Column)
		if !ok {
			return nil, &RangeError{
				Field:   ParamSortColPrefix + strconv.Itoa(i),
				Index:   spec.Column,
				Columns: columns.Len(),
			}
		}
		for _, attr := range attrs {
			order = append(order, SortInstruction{Attribute: attr, Direction: spec.Direction})
		}
	}
	return order, nil
}
