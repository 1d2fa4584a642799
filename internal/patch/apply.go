package patch

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Apply runs the operations in order against a tree view of entity and decodes the result into a new T.
// Either every operation applies or an *Error is returned; entity itself is never modified.
func Apply[T any](entity T, operations []Operation) (T, error) {
	var zero T

	encoded, err := json.Marshal(entity)
	if err != nil {
		return zero, &Error{Index: -1, Err: fmt.Errorf("%w: %v", ErrTypeMismatch, err)}
	}
	document, err := decodeTree(encoded)
	if err != nil {
		return zero, &Error{Index: -1, Err: fmt.Errorf("%w: %v", ErrTypeMismatch, err)}
	}

	for index, operation := range operations {
		document, err = applyOperation(document, operation)
		if err != nil {
			return zero, &Error{Index: index, Op: operation.Op, Path: operation.Path, Err: err}
		}
	}

	patchedJSON, err := json.Marshal(document)
	if err != nil {
		return zero, &Error{Index: -1, Err: fmt.Errorf("%w: %v", ErrTypeMismatch, err)}
	}
	var patched T
	decoder := json.NewDecoder(bytes.NewReader(patchedJSON))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&patched); err != nil {
		return zero, &Error{Index: -1, Err: fmt.Errorf("%w: %v", ErrTypeMismatch, err)}
	}
	return patched, nil
}

func decodeTree(raw []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var tree any
	if err := decoder.Decode(&tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func applyOperation(document any, operation Operation) (any, error) {
	path, err := parsePointer(operation.Path)
	if err != nil {
		return nil, err
	}

	switch operation.Op {
	case OperationAdd, OperationReplace, OperationTest:
		if len(operation.Value) == 0 {
			return nil, ErrMissingValue
		}
		value, err := decodeTree(operation.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMissingValue, err)
		}
		switch operation.Op {
		case OperationAdd:
			return addValue(document, path, value)
		case OperationReplace:
			return replaceValue(document, path, value)
		default:
			current, err := getValue(document, path)
			if err != nil {
				return nil, err
			}
			if !equalValues(current, value) {
				return nil, fmt.Errorf("%w: value at %s differs", ErrTestFailed, operation.Path)
			}
			return document, nil
		}
	case OperationRemove:
		updated, _, err := removeValue(document, path)
		return updated, err
	case OperationMove, OperationCopy:
		from, err := parsePointer(operation.From)
		if err != nil {
			return nil, err
		}
		value, err := getValue(document, from)
		if err != nil {
			return nil, err
		}
		if operation.Op == OperationCopy {
			return addValue(document, path, deepCopy(value))
		}
		if isProperPrefix(from, path) {
			return nil, fmt.Errorf("%w: cannot move %s into its own child", ErrInvalidPointer, operation.From)
		}
		document, _, err = removeValue(document, from)
		if err != nil {
			return nil, err
		}
		return addValue(document, path, value)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, operation.Op)
	}
}

// parsePointer splits an RFC 6901 pointer into unescaped reference tokens.
func parsePointer(pointer string) ([]string, error) {
	if pointer == "" {
		return nil, nil
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, fmt.Errorf("%w: %q must start with /", ErrInvalidPointer, pointer)
	}
	tokens := strings.Split(pointer[1:], "/")
	for index, token := range tokens {
		tokens[index] = strings.ReplaceAll(strings.ReplaceAll(token, "~1", "/"), "~0", "~")
	}
	return tokens, nil
}

func isProperPrefix(prefix, path []string) bool {
	if len(prefix) >= len(path) {
		return false
	}
	for index := range prefix {
		if prefix[index] != path[index] {
			return false
		}
	}
	return true
}

func arrayIndex(token string, length int, allowEnd bool) (int, error) {
	if token == "-" {
		if allowEnd {
			return length, nil
		}
		return 0, fmt.Errorf("%w: index - is only valid for add", ErrPathNotFound)
	}
	if token == "" || (len(token) > 1 && token[0] == '0') {
		return 0, fmt.Errorf("%w: bad array index %q", ErrInvalidPointer, token)
	}
	index, err := strconv.Atoi(token)
	if err != nil || index < 0 {
		return 0, fmt.Errorf("%w: bad array index %q", ErrInvalidPointer, token)
	}
	limit := length - 1
	if allowEnd {
		limit = length
	}
	if index > limit {
		return 0, fmt.Errorf("%w: index %d out of range", ErrPathNotFound, index)
	}
	return index, nil
}

func getValue(node any, path []string) (any, error) {
	for _, token := range path {
		switch container := node.(type) {
		case map[string]any:
			child, ok := container[token]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrPathNotFound, token)
			}
			node = child
		case []any:
			index, err := arrayIndex(token, len(container), false)
			if err != nil {
				return nil, err
			}
			node = container[index]
		default:
			return nil, fmt.Errorf("%w: cannot descend into %q", ErrTypeMismatch, token)
		}
	}
	return node, nil
}

func addValue(node any, path []string, value any) (any, error) {
	if len(path) == 0 {
		return value, nil
	}
	token, rest := path[0], path[1:]
	switch container := node.(type) {
	case map[string]any:
		if len(rest) == 0 {
			container[token] = value
			return container, nil
		}
		child, ok := container[token]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrPathNotFound, token)
		}
		updated, err := addValue(child, rest, value)
		if err != nil {
			return nil, err
		}
		container[token] = updated
		return container, nil
	case []any:
		if len(rest) == 0 {
			index, err := arrayIndex(token, len(container), true)
			if err != nil {
				return nil, err
			}
			expanded := make([]any, 0, len(container)+1)
			expanded = append(expanded, container[:index]...)
			expanded = append(expanded, value)
			expanded = append(expanded, container[index:]...)
			return expanded, nil
		}
		index, err := arrayIndex(token, len(container), false)
		if err != nil {
			return nil, err
		}
		updated, err := addValue(container[index], rest, value)
		if err != nil {
			return nil, err
		}
		container[index] = updated
		return container, nil
	default:
		return nil, fmt.Errorf("%w: cannot descend into %q", ErrTypeMismatch, token)
	}
}

func replaceValue(node any, path []string, value any) (any, error) {
	if len(path) == 0 {
		return value, nil
	}
	token, rest := path[0], path[1:]
	switch container := node.(type) {
	case map[string]any:
		child, ok := container[token]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrPathNotFound, token)
		}
		updated, err := replaceValue(child, rest, value)
		if err != nil {
			return nil, err
		}
		container[token] = updated
		return container, nil
	case []any:
		index, err := arrayIndex(token, len(container), false)
		if err != nil {
			return nil, err
		}
		updated, err := replaceValue(container[index], rest, value)
		if err != nil {
			return nil, err
		}
		container[index] = updated
		return container, nil
	default:
		return nil, fmt.Errorf("%w: cannot descend into %q", ErrTypeMismatch, token)
	}
}

func removeValue(node any, path []string) (any, any, error) {
	if len(path) == 0 {
		return nil, nil, fmt.Errorf("%w: cannot remove the document root", ErrInvalidPointer)
	}
	token, rest := path[0], path[1:]
	switch container := node.(type) {
	case map[string]any:
		child, ok := container[token]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q", ErrPathNotFound, token)
		}
		if len(rest) == 0 {
			delete(container, token)
			return container, child, nil
		}
		updated, removed, err := removeValue(child, rest)
		if err != nil {
			return nil, nil, err
		}
		container[token] = updated
		return container, removed, nil
	case []any:
		index, err := arrayIndex(token, len(container), false)
		if err != nil {
			return nil, nil, err
		}
		if len(rest) == 0 {
			removed := container[index]
			shrunk := make([]any, 0, len(container)-1)
			shrunk = append(shrunk, container[:index]...)
			shrunk = append(shrunk, container[index+1:]...)
			return shrunk, removed, nil
		}
		updated, removed, err := removeValue(container[index], rest)
		if err != nil {
			return nil, nil, err
		}
		container[index] = updated
		return container, removed, nil
	default:
		return nil, nil, fmt.Errorf("%w: cannot descend into %q", ErrTypeMismatch, token)
	}
}

func deepCopy(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		copied := make(map[string]any, len(typed))
		for key, child := range typed {
			copied[key] = deepCopy(child)
		}
		return copied
	case []any:
		copied := make([]any, len(typed))
		for index, child := range typed {
			copied[index] = deepCopy(child)
		}
		return copied
	default:
		return value
	}
}

func equalValues(left, right any) bool {
	switch typedLeft := left.(type) {
	case map[string]any:
		typedRight, ok := right.(map[string]any)
		if !ok || len(typedLeft) != len(typedRight) {
			return false
		}
		for key, child := range typedLeft {
			other, ok := typedRight[key]
			if !ok || !equalValues(child, other) {
				return false
			}
		}
		return true
	case []any:
		typedRight, ok := right.([]any)
		if !ok || len(typedLeft) != len(typedRight) {
			return false
		}
		for index := range typedLeft {
			if !equalValues(typedLeft[index], typedRight[index]) {
				return false
			}
		}
		return true
	case json.Number:
		typedRight, ok := right.(json.Number)
		if !ok {
			return false
		}
		if typedLeft == typedRight {
			return true
		}
		leftFloat, leftErr := typedLeft.Float64()
		rightFloat, rightErr := typedRight.Float64()
		return leftErr == nil && rightErr == nil && leftFloat == rightFloat
	default:
		return left == right
	}
}
