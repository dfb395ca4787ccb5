package gateway

import (
	"errors"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// RateLimitedError marks a persistence failure caused by throttling. The
// orchestrator backs off and retries these instead of discarding the
// caller's intent outright.
type RateLimitedError interface {
	error
	RateLimited()
}

type rateLimitError struct {
	err error
}

func (e *rateLimitError) Error() string { return "rate limited: " + e.err.Error() }
func (e *rateLimitError) Unwrap() error { return e.err }
func (e *rateLimitError) RateLimited()  {}

// IsRateLimited reports whether err represents a throttling rejection.
func IsRateLimited(err error) bool {
	var rl RateLimitedError
	return errors.As(err, &rl)
}

// classify wraps throttling responses from the storage services so callers
// can distinguish them from generic failures.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusTooManyRequests {
		return &rateLimitError{err: err}
	}
	return err
}
