package rate

import "errors"

var (
	// ErrRedisUnavailable wraps backend errors and decision timeouts. The
	// accompanying Decision is always a denial.
	ErrRedisUnavailable = errors.New("rate limiter unavailable")
)
