package orchestrator

import (
	"fmt"

	"github.com/vnmchuo/careerkit-gateway/internal/provider"
)

// Attempt is one provider call made while routing a request.
type Attempt struct {
	Provider   string             `json:"provider"`
	ErrorKind  provider.ErrorKind `json:"errorKind,omitempty"`
	DurationMs int64              `json:"durationMs"`
}

// AllProvidersFailedError is returned when every candidate failed with a
// retryable error. Last is the final underlying cause.
type AllProvidersFailedError struct {
	Op       provider.Operation
	Attempts []Attempt
	Last     error
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("%s: all %d providers failed: %v", e.Op, len(e.Attempts), e.Last)
}

func (e *AllProvidersFailedError) Unwrap() error {
	return e.Last
}
