package dispatch

import (
	"errors"
	"fmt"
)

var (
	ErrCancelled            = errors.New("dispatch cancelled")
	ErrInvalidCorrelationID = errors.New("invalid correlation id")
)

// PublishError is the terminal failure of one endpoint's delivery.
type PublishError struct {
	EndpointID string
	Attempts   int
	Err        error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("endpoint %s: publish failed after %d attempt(s): %v", e.EndpointID, e.Attempts, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
