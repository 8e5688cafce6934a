package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a job id does not resolve.
	ErrNotFound = errors.New("job not found")

	// ErrCustomerNotFound is returned when a customer id does not
	// resolve, either in the directory or within a job's delivery list.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrInvalidState is returned for illegal transitions: pausing a
	// running job, double-marking a customer delivery, executing a job
	// that is already in flight. No state is changed.
	ErrInvalidState = errors.New("invalid state transition")
)

// ValidationError rejects malformed input before any state change.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

func validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
