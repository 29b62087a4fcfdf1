package utils

import (
	"fmt"
	"time"
)

type IpAddressError struct{}

// RateLimitError is returned when the reputation service answers 429. Callers should back off
// instead of retrying.
type RateLimitError struct {
	RetryAfter time.Duration
}

// UnavailableError means the lookup failed for any reason other than rate limiting: the service
// could not be reached, answered with an unexpected status or sent an unusable body.
type UnavailableError struct {
	Reason string
	Err    error
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (e IpAddressError) Error() string {
	return "invalid IP address"
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit hit, retry after %s", e.RetryAfter)
	}
	return "rate limit hit"
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reputation data unavailable: %s: %s", e.Reason, e.Err.Error())
	}
	return "reputation data unavailable: " + e.Reason
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}
