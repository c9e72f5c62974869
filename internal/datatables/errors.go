package datatables

import (
	"errors"
	"fmt"
)

// ValidationError reports a missing, malformed, or out-of-shape request parameter.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// RangeError reports a sort spec that references a logical column outside the view.
type RangeError struct {
	Field   string
	Index   int
	Columns int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: column index %d is out of range (view has %d columns)", e.Field, e.Index, e.Columns)
}

// ContractViolationError reports a fetched row that lacks an attribute the
// column spec requires. It means the row source did not honor
// RequiredAttributes and is never a client error.
type ContractViolationError struct {
	Column    int
	Attribute string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("row is missing attribute %q required by column %d", e.Attribute, e.Column)
}

// IsClientError reports whether err should be answered as a bad request.
func IsClientError(err error) bool {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return true
	}
	var rangeErr *RangeError
	return errors.As(err, &rangeErr)
}

// ErrorField returns the request parameter a client error refers to, if any.
func ErrorField(err error) string {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Field
	}
	var rangeErr *RangeError
	if errors.As(err, &rangeErr) {
		return rangeErr.Field
	}
	return ""
}
