package mutation

import (
	"errors"
	"fmt"
)

// UnknownMutationError means the client sent a mutation name no server-side
// mutator was registered for. This is a protocol error, not a conflict.
type UnknownMutationError struct {
	Name string
}

func (e *UnknownMutationError) Error() string {
	return fmt.Sprintf("unknown mutation %q", e.Name)
}

// IsUnknownMutation reports whether err is (or wraps) an unknown-mutation error.
func IsUnknownMutation(err error) bool {
	var unknown *UnknownMutationError
	return errors.As(err, &unknown)
}

// ValidationError means the mutation arguments failed schema validation
// before dispatch. The field is empty for whole-payload failures.
type ValidationError struct {
	Mutation string
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid arguments for %s: field %s: %s", e.Mutation, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.Mutation, e.Reason)
}

// IsValidation reports whether err is (or wraps) a validation error.
func IsValidation(err error) bool {
	var invalid *ValidationError
	return errors.As(err, &invalid)
}
