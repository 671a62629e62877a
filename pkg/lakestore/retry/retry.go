// Package retry contains the retry policies used by the LakeStore request
// engine. A policy decides, per failed attempt, whether the request should be
// tried again.
//
// Policies are stateful and per-request: a fresh policy is constructed for
// every logical operation, and its internal counters advance as attempts
// fail. There is no explicit contract for backoff waits - if a policy wants
// a delay before the next attempt, it sleeps inside ShouldRetry before
// returning true.
package retry

import "time"

// Policy decides whether a failed request attempt should be retried.
//
// httpStatus is the HTTP response code of the last attempt, or 0 if the
// attempt failed before a response was received (transport error). lastErr
// is any error from processing the last attempt, nil otherwise.
type Policy interface {
	ShouldRetry(httpStatus int, lastErr error) bool
}

// NoRetry gives at-most-once semantics. It never retries, except for a
// single retry on HTTP 401 after a short wait, since the 401 may be a
// transient token-propagation problem that a just-refreshed token fixes.
//
// Use this when retrying is not safe: for non-idempotent calls, the error
// from the last attempt does not conclusively indicate whether the server
// applied the request.
type NoRetry struct {
	retryCount   int
	waitInterval time.Duration
}

func NewNoRetry() *NoRetry {
	return &NoRetry{waitInterval: 100 * time.Millisecond}
}

func (p *NoRetry) ShouldRetry(httpStatus int, lastErr error) bool {
	if httpStatus == 401 && p.retryCount == 0 {
		time.Sleep(p.waitInterval)
		p.retryCount++
		return true
	}
	return false
}

// ExponentialBackoff is the default policy for idempotent operations.
//
// Retryable: 401, 408, 429, all 5xx except 501 and 505, and any transport
// error. Everything else in 3xx/4xx is not retried. The wait before the
// k-th retry (1-indexed) is interval * factor^(k-1); with the defaults of
// 1000 ms and factor 4 that is 1 s, 4 s, 16 s, 64 s across the 4 allowed
// retries.
type ExponentialBackoff struct {
	retryCount    int
	maxRetries    int
	retryInterval time.Duration
	factor        int
}

func NewExponentialBackoff() *ExponentialBackoff {
	return NewExponentialBackoffWith(4, 1000*time.Millisecond, 4)
}

// NewExponentialBackoffWith builds a policy with explicit tuning. Values
// of zero or less fall back to the defaults.
func NewExponentialBackoffWith(maxRetries int, interval time.Duration, factor int) *ExponentialBackoff {
	if maxRetries <= 0 {
		maxRetries = 4
	}
	if interval <= 0 {
		interval = 1000 * time.Millisecond
	}
	if factor <= 0 {
		factor = 4
	}
	return &ExponentialBackoff{
		maxRetries:    maxRetries,
		retryInterval: interval,
		factor:        factor,
	}
}

func (p *ExponentialBackoff) ShouldRetry(httpStatus int, lastErr error) bool {
	// Non-retryable server responses: 3xx and 4xx except the few below,
	// plus Not Implemented and HTTP Version Not Supported.
	if (httpStatus >= 300 && httpStatus < 500 &&
		httpStatus != 408 && httpStatus != 429 && httpStatus != 401) ||
		httpStatus == 501 || httpStatus == 505 {
		return false
	}

	if lastErr != nil || httpStatus >= 500 ||
		httpStatus == 408 || httpStatus == 429 || httpStatus == 401 {
		if p.retryCount >= p.maxRetries {
			return false
		}
		time.Sleep(p.retryInterval)
		p.retryInterval *= time.Duration(p.factor)
		p.retryCount++
		return true
	}

	// 1xx/2xx are not errors; this method should not have been called.
	return false
}

// NonIdempotent is for calls whose payload must not be duplicated but whose
// throttling response is known to be state-preserving. It never retries
// transport errors, allows a single 401 retry after a short wait, and
// retries 429 with exponential backoff since 429 guarantees the backend
// changed no state.
type NonIdempotent struct {
	retryCount401 int
	waitInterval  time.Duration

	retryCount429 int
	maxRetries    int
	retryInterval time.Duration
	factor        int
}

func NewNonIdempotent() *NonIdempotent {
	return &NonIdempotent{
		waitInterval:  100 * time.Millisecond,
		maxRetries:    4,
		retryInterval: 1000 * time.Millisecond,
		factor:        4,
	}
}

func (p *NonIdempotent) ShouldRetry(httpStatus int, lastErr error) bool {
	if httpStatus == 401 && p.retryCount401 == 0 {
		// Could be token-refresh delay. Retry once in the hope that the
		// token has been renewed by now.
		time.Sleep(p.waitInterval)
		p.retryCount401++
		return true
	}

	if httpStatus == 429 {
		if p.retryCount429 >= p.maxRetries {
			return false
		}
		time.Sleep(p.retryInterval)
		p.retryInterval *= time.Duration(p.factor)
		p.retryCount429++
		return true
	}

	return false
}
