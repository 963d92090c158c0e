package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// TransportError means no usable response was received: the connection failed,
// the context ended, or the circuit breaker refused the call.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServerError means the service answered with a non-2xx status or an
// explicit error status in the body.
type ServerError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *ServerError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: server returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.StatusCode, e.Detail)
}

// MalformedResponseError means a 2xx response could not be decoded into the expected shape.
type MalformedResponseError struct {
	Op     string
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: malformed response: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: malformed response: %s", e.Op, e.Reason)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// IsTransport reports whether err is or wraps a *TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsServer reports whether err is or wraps a *ServerError.
func IsServer(err error) bool {
	var target *ServerError
	return errors.As(err, &target)
}

// IsMalformed reports whether err is or wraps a *MalformedResponseError.
func IsMalformed(err error) bool {
	var target *MalformedResponseError
	return errors.As(err, &target)
}

// TripsBreaker decides which failures count against the circuit breaker.
// 4xx responses and caller cancellation are not counted. Use it as the
// Counts policy of a breaker passed to WithBreaker.
func TripsBreaker(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if IsTransport(err) {
		return true
	}
	var se *ServerError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	return false
}

// IsRejected reports whether the service refused the request with a 4xx
// status other than 408 or 429. Repeating such a request cannot succeed.
func IsRejected(err error) bool {
	var se *ServerError
	if !errors.As(err, &se) {
		return false
	}
	switch se.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return se.StatusCode >= 400 && se.StatusCode < 500
}
