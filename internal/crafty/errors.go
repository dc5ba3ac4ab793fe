package crafty

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed management API call so callers can decide
// policy (retry, surface to operator, reject at the boundary).
type ErrorKind int

const (
	// KindTransient covers connection failures, timeouts and 5xx responses.
	KindTransient ErrorKind = iota
	// KindAuthorization covers 401/403 responses. Never retried.
	KindAuthorization
	// KindUnknownServer covers 404 responses for a server ID. Never retried.
	KindUnknownServer
	// KindAPI covers any other non-success response from the API.
	KindAPI
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuthorization:
		return "authorization"
	case KindUnknownServer:
		return "unknown_server"
	default:
		return "api"
	}
}

// APIError is the single error type returned by the client. Every transport
// or protocol failure is translated into one of the kinds above.
type APIError struct {
	Kind       ErrorKind
	StatusCode int // 0 when the request never reached the API
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("crafty api: %s (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("crafty api: %s: %s", e.Kind, e.Message)
}

// IsTransient reports whether err is a retryable management API failure.
func IsTransient(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindTransient
}

// IsAuthorization reports whether err is an authentication/authorization failure.
func IsAuthorization(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindAuthorization
}

// IsUnknownServer reports whether err means the remote does not know the server ID.
func IsUnknownServer(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindUnknownServer
}
