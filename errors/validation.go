package errors

import (
	// Go Internal Packages
	"fmt"
	"sort"
	"strings"
)

// ValidationErrors collects field level problems before failing once.
type ValidationErrors struct {
	fields map[string][]string
}

func ValidationErrs() *ValidationErrors {
	return &ValidationErrors{fields: make(map[string][]string)}
}

// Add records a problem for field.
func (v *ValidationErrors) Add(field, msg string) {
	v.fields[field] = append(v.fields[field], msg)
}

// Fields returns the collected messages per field.
func (v *ValidationErrors) Fields() map[string][]string {
	return v.fields
}

// Err returns nil when nothing was collected.
func (v *ValidationErrors) Err() error {
	if len(v.fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(v.fields))
	for k := range v.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %s", k, strings.Join(v.fields[k], ", ")))
	}
	return E(Invalid, strings.Join(parts, "; "), nil)
}
