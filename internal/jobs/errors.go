package jobs

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSubmission = errors.New("invalid submission")
	ErrJobNotFound       = errors.New("job not found")
	ErrNotCancellable    = errors.New("job is no longer queued")
)

// RejectedError is returned when the quota cannot cover a job. Nothing was
// consumed.
type RejectedError struct {
	Reason    string
	Required  int
	Remaining int
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("job rejected: %s (requires %d, %d remaining)", e.Reason, e.Required, e.Remaining)
}
