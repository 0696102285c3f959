package httpclient

import (
	"fmt"
	"time"
)

// RetryableError marks a request that exhausted its retries.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
	}
	return e.Message
}

func (e *RetryableError) Unwrap() error { return e.Err }
