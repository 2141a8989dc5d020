package objects

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidIdentifier indicates the input is not a well-formed 128-bit identifier.
	ErrInvalidIdentifier = errors.New("objects: invalid identifier")
	// ErrNotFound indicates a well-formed identifier with no matching entity of the requested kind.
	ErrNotFound = errors.New("objects: not found")
	// ErrUnsupportedKind indicates the discriminator has no registered variant.
	ErrUnsupportedKind = errors.New("objects: unsupported kind")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// ServiceError wraps an unexpected store failure with a dotted operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the "<operation>.<reason>" identifier.
func (e *ServiceError) Code() string {
	return e.code
}

// NewServiceError builds a ServiceError coded "<operation>.<reason>".
func NewServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
