package patch

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// OperationType enumerates the RFC 6902 operations.
type OperationType string

const (
	OperationAdd     OperationType = "add"
	OperationRemove  OperationType = "remove"
	OperationReplace OperationType = "replace"
	OperationMove    OperationType = "move"
	OperationCopy    OperationType = "copy"
	OperationTest    OperationType = "test"
)

var (
	// ErrStructural classifies every failure to apply an operation sequence.
	ErrStructural = errors.New("patch: structural error")

	ErrUnknownOperation = errors.New("unknown operation")
	ErrMissingValue     = errors.New("value is required")
	ErrInvalidPointer   = errors.New("invalid json pointer")
	ErrPathNotFound     = errors.New("path not found")
	ErrTypeMismatch     = errors.New("type mismatch")
	ErrTestFailed       = errors.New("test failed")
)

// Operation is one RFC 6902 edit instruction.
type Operation struct {
	Op    OperationType   `json:"op"`
	Path  string          `json:"path"`
	From  string          `json:"from,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Add builds an add operation. Values that cannot be encoded leave Value empty, which Apply rejects.
func Add(path string, value any) Operation {
	return Operation{Op: OperationAdd, Path: path, Value: encodeValue(value)}
}

// Replace builds a replace operation.
func Replace(path string, value any) Operation {
	return Operation{Op: OperationReplace, Path: path, Value: encodeValue(value)}
}

// Test builds a test operation.
func Test(path string, value any) Operation {
	return Operation{Op: OperationTest, Path: path, Value: encodeValue(value)}
}

// Remove builds a remove operation.
func Remove(path string) Operation {
	return Operation{Op: OperationRemove, Path: path}
}

// Move builds a move operation.
func Move(from, path string) Operation {
	return Operation{Op: OperationMove, From: from, Path: path}
}

// Copy builds a copy operation.
func Copy(from, path string) Operation {
	return Operation{Op: OperationCopy, From: from, Path: path}
}

func encodeValue(value any) json.RawMessage {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	return encoded
}

// Error describes the operation that made an application fail.
// Index is -1 when the patched tree no longer fits the entity shape.
type Error struct {
	Index int
	Op    OperationType
	Path  string
	Err   error
}

func (e *Error) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("patch: result does not fit entity: %v", e.Err)
	}
	return fmt.Sprintf("patch: operation %d (%s %s): %v", e.Index, e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports every patch Error as ErrStructural.
func (e *Error) Is(target error) bool {
	return target == ErrStructural
}
