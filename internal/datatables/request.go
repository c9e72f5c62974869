// Package datatables implements the server side of the DataTables
// server-side processing protocol: request parsing, column resolution,
// ordering, paging, and row formatting over an abstract row source.
package datatables

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Request parameter names.
const (
	ParamEcho          = "sEcho"
	ParamDisplayLength = "iDisplayLength"
	ParamDisplayStart  = "iDisplayStart"
	ParamSortingCols   = "iSortingCols"
	ParamSortColPrefix = "iSortCol_"
	ParamSortDirPrefix = "sSortDir_"
	ParamColumns       = "iColumns"
	ParamSearch        = "sSearch"
)

// DisplayAll is the iDisplayLength sentinel that requests every row.
const DisplayAll = -1

// Direction is a sort direction.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// descToken is the only direction value the client uses for descending order.
const descToken = "desc"

func (d Direction) String() string {
	if d == Descending {
		return "DESC"
	}
	return "ASC"
}

// ParseDirection maps a client direction token to a Direction.
// Only the exact token "desc" is descending; anything else, including the
// empty string and "DESC", is ascending.
func ParseDirection(token string) Direction {
	if token == descToken {
		return Descending
	}
	return Ascending
}

// Params is the flat parameter set of one request.
type Params map[string]string

// ParamsFromValues flattens url.Values, keeping the first value of each key.
func ParamsFromValues(values url.Values) Params {
	params := make(Params, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			params[key] = vals[0]
		}
	}
	return params
}

// SortSpec is one client sort request against a logical column.
type SortSpec struct {
	Column    int
	Direction Direction
}

// Request is the validated, immutable descriptor of one protocol request.
type Request struct {
	Echo          string
	DisplayLength int
	DisplayStart  int
	Sort          []SortSpec
	// Columns is the client's iColumns, or -1 when it was not sent.
	Columns int
	// Search is accepted for wire compatibility and never applied.
	Search string
}

// All reports whether the request asks for every row.
func (r *Request) All() bool {
	return r.DisplayLength == DisplayAll
}

// ParseRequest validates the shape and types of a parameter set. Column
// indexes are bounds-checked later by ResolveOrder.
func ParseRequest(params Params) (*Request, error) {
	echo, ok := params[ParamEcho]
	if !ok {
		return nil, missing(ParamEcho)
	}

	length, err := requiredInt(params, ParamDisplayLength)
	if err != nil {
		return nil, err
	}
	if length <= 0 && length != DisplayAll {
		return nil, &ValidationError{
			Field:   ParamDisplayLength,
			Message: fmt.Sprintf("must be positive or %d for all rows", DisplayAll),
		}
	}

	start, err := requiredInt(params, ParamDisplayStart)
	if err != nil {
		return nil, err
	}
	if start < 0 {
		return nil, &ValidationError{Field: ParamDisplayStart, Message: "must not be negative"}
	}

	sort, err := ParseSortSpecs(params)
	if err != nil {
		return nil, err
	}

	columns := -1
	if _, ok := params[ParamColumns]; ok {
		columns, err = requiredInt(params, ParamColumns)
		if err != nil {
			return nil, err
		}
		if columns < 0 {
			return nil, &ValidationError{Field: ParamColumns, Message: "must not be negative"}
		}
	}

	return &Request{
		Echo:          echo,
		DisplayLength: length,
		DisplayStart:  start,
		Sort:          sort,
		Columns:       columns,
		Search:        params[ParamSearch],
	}, nil
}

// ParseSortSpecs reads iSortingCols and the indexed sort keys in client priority order.
func ParseSortSpecs(params Params) ([]SortSpec, error) {
	count, err := requiredInt(params, ParamSortingCols)
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, &ValidationError{Field: ParamSortingCols, Message: "must not be negative"}
	}

	specs := make([]SortSpec, 0, count)
	for i := 0; i < count; i++ {
		colKey := ParamSortColPrefix + strconv.Itoa(i)
		index, err := requiredInt(params, colKey)
		if err != nil {
			return nil, err
		}
		specs = append(specs, SortSpec{
			Column:    index,
			Direction: ParseDirection(params[ParamSortDirPrefix+strconv.Itoa(i)]),
		})
	}
	return specs, nil
}

func requiredInt(params Params, key string) (int, error) {
	raw, ok := params[key]
	if !ok {
		return 0, missing(key)
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &ValidationError{Field: key, Message: fmt.Sprintf("%q is not an integer", raw)}
	}
	return value, nil
}

func missing(key string) error {
	return &ValidationError{Field: key, Message: "is required"}
}
