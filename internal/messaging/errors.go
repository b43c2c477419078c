package messaging

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed is returned when an operation needs an open
	// connection and the connection is closing or closed.
	ErrConnectionClosed = errors.New("connection is closed or closing")

	// ErrServiceNotFound is wrapped by ServiceNotFoundError.
	ErrServiceNotFound = errors.New("service not found")

	// ErrInvalidRoute indicates a route pattern that cannot be compiled.
	ErrInvalidRoute = errors.New("invalid route pattern")
)

// ServiceNotFoundError is returned by ServiceRegistry.GetService when no
// provider yields a service for the requested id.
type ServiceNotFoundError struct {
	ServiceID string
}

func (e *ServiceNotFoundError) Error() string {
	return fmt.Sprintf("service not found: %s", e.ServiceID)
}

func (e *ServiceNotFoundError) Unwrap() error {
	return ErrServiceNotFound
}
