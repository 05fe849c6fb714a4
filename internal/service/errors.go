package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound reports a rule identifier with no stored rule
var ErrNotFound = errors.New("rule not found")

// ValidationError carries field-level validation messages for a
// rejected rule submission. Nothing is persisted when it is returned.
type ValidationError map[string]string

// Error implements the error interface
func (v ValidationError) Error() string {
	fields := make([]string, 0, len(v))
	for field := range v {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var b strings.Builder
	b.WriteString("validation failed: ")
	for i, field := range fields {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %s", field, v[field])
	}
	return b.String()
}

// AsValidationError unwraps err into a ValidationError if it is one
func AsValidationError(err error) (ValidationError, bool) {
	var v ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
