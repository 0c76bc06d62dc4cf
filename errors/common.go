package errors

import "fmt"

func InvalidBodyErr(err error) error {
	return E(Invalid, "invalid request body", err)
}

func ValidationFailedErr(err error) error {
	return E(Invalid, "validation failed", err)
}

func EmptyParamErr(field string) error {
	ve := ValidationErrs()
	ve.Add(field, "cannot be empty")
	return E(Invalid, "validation failed", ve.Err())
}

// NotFoundErr returns a formatted error for a missing transaction record
func NotFoundErr(txID string) error {
	return E(NotFound, fmt.Sprintf("transaction %s", txID), nil)
}

// TransitionErr returns a formatted error for an update on an already resolved record
func TransitionErr(txID, from, to string) error {
	return E(InvalidTransition, fmt.Sprintf("transaction %s is %s, cannot become %s", txID, from, to), nil)
}

// ConflictErr returns a formatted error for a create that clashes with an existing record
func ConflictErr(txID string, err error) error {
	return E(Conflict, fmt.Sprintf("transaction %s already exists with different fields", txID), err)
}
