package comparator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrHumanPending is returned when a human verdict has been requested but not given yet.
var ErrHumanPending = errors.New("human comparison pending")

// TimeoutError reports a backend call that did not answer in time.
type TimeoutError struct {
	Model string
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: comparison timed out: %v", e.Model, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ServiceError reports a backend failure. StatusCode is zero for transport errors.
type ServiceError struct {
	Model      string
	StatusCode int
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: service unavailable: %s", e.Model, e.Message)
	}
	return fmt.Sprintf("%s: service error %d: %s", e.Model, e.StatusCode, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Retryable is true for transport failures, throttling and 5xx responses.
func (e *ServiceError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// InvalidResponseError reports an answer that could not be interpreted.
type InvalidResponseError struct {
	Model    string
	Reason   string
	Response string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("%s: invalid response: %s", e.Model, e.Reason)
}

// IsRetryable reports whether a failed comparison is worth repeating.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return true
	}
	var service *ServiceError
	if errors.As(err, &service) {
		return service.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
