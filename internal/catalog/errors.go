package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that a canonical entity, relation entry, or friend target does not exist.
	ErrNotFound = errors.New("catalog: not found")
	// ErrConflict indicates a relation identity collision or an already existing relationship.
	ErrConflict = errors.New("catalog: conflict")
	// ErrInvalidInput indicates a request that can never succeed regardless of stored state.
	ErrInvalidInput = errors.New("catalog: invalid input")
	// ErrPropagation indicates that dependent documents were left stale after a committed canonical write.
	ErrPropagation = errors.New("catalog: propagation incomplete")
)

// ServiceError annotates a failure with a stable `<operation>.<reason>` code.
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

// Code returns the `<operation>.<reason>` code.
func (e *ServiceError) Code() string {
	return e.code
}

// NewServiceError builds a ServiceError for the operation and reason.
func NewServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
