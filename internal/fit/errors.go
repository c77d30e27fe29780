package fit

import "fmt"

// InvalidInputError reports a structural or numeric precondition violation
// detected while constructing an ElboArgs. Use errors.As (or errors.Is
// against a zero value) to detect it.
type InvalidInputError struct {
	Msg string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Msg
}

func (e *InvalidInputError) Is(target error) bool {
	_, ok := target.(*InvalidInputError)
	return ok
}

// ErrInvalidInput is a zero-value target for errors.Is checks.
var ErrInvalidInput = &InvalidInputError{}

func invalidInputf(format string, args ...any) error {
	return &InvalidInputError{Msg: fmt.Sprintf(format, args...)}
}
