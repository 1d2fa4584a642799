package patch

import "strings"

// Policy is a per-entity deny-list of JSON pointer prefixes.
type Policy struct {
	prefixes []string
}

// NewPolicy builds a Policy. Prefixes are normalized to a leading slash without a trailing one.
func NewPolicy(prefixes ...string) Policy {
	normalized := make([]string, 0, len(prefixes))
	for _, prefix := range prefixes {
		trimmed := strings.TrimRight(strings.TrimSpace(prefix), "/")
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "/") {
			trimmed = "/" + trimmed
		}
		normalized = append(normalized, trimmed)
	}
	return Policy{prefixes: normalized}
}

// Prefixes returns a copy of the denied pointer prefixes.
func (p Policy) Prefixes() []string {
	return append([]string(nil), p.prefixes...)
}

// Denies reports whether path overlaps a denied prefix, either at or beneath it or as its ancestor.
// The root pointer is an ancestor of every prefix. Matching ignores case because typed decoding
// matches object keys case-insensitively.
func (p Policy) Denies(path string) bool {
	path = strings.ToLower(path)
	for _, prefix := range p.prefixes {
		prefix = strings.ToLower(prefix)
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(prefix, path+"/") {
			return true
		}
	}
	return false
}

// Filter splits operations into the allowed sequence, in original order, and the dropped ones.
// An operation is dropped when its path or, for move and copy, its from pointer touches a denied prefix.
func (p Policy) Filter(operations []Operation) (allowed []Operation, dropped []Operation) {
	allowed = make([]Operation, 0, len(operations))
	for _, operation := range operations {
		if p.Denies(operation.Path) || (readsFrom(operation.Op) && p.Denies(operation.From)) {
			dropped = append(dropped, operation)
			continue
		}
		allowed = append(allowed, operation)
	}
	return allowed, dropped
}

func readsFrom(op OperationType) bool {
	return op == OperationMove || op == OperationCopy
}
