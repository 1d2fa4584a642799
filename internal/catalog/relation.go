package catalog

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// RelationKind distinguishes cast identities from crew identities.
type RelationKind string

const (
	RelationKindCast RelationKind = "cast"
	RelationKindCrew RelationKind = "crew"
)

// RelationIdentity derives the identity of a movie relation entry from its semantic key.
// Each field is length-prefixed so that ("ab","c") and ("a","bc") never share an encoding.
// The first four bytes of the sha256 digest are returned as a non-negative integer.
func RelationIdentity(kind RelationKind, personID, personName, role string) int64 {
	var builder strings.Builder
	for _, field := range []string{string(kind), strings.TrimSpace(personID), strings.TrimSpace(personName), strings.TrimSpace(role)} {
		builder.WriteString(strconv.Itoa(len(field)))
		builder.WriteByte(':')
		builder.WriteString(field)
	}
	sum := sha256.Sum256([]byte(builder.String()))
	return int64(binary.BigEndian.Uint32(sum[:4]))
}

// Identity computes the relation identity of the cast entry from its content.
func (c Cast) Identity() int64 {
	return RelationIdentity(RelationKindCast, c.ID, c.Name, c.Character)
}

// StoredIdentity returns the identity assigned when the entry was last written.
func (c Cast) StoredIdentity() int64 {
	return c.RelationID
}

// WithIdentity returns a copy whose RelationID matches its current content.
func (c Cast) WithIdentity() Cast {
	c.RelationID = c.Identity()
	return c
}

// Identity computes the relation identity of the crew entry from its content.
func (c Crew) Identity() int64 {
	return RelationIdentity(RelationKindCrew, c.ID, c.Name, c.Job)
}

// StoredIdentity returns the identity assigned when the entry was last written.
func (c Crew) StoredIdentity() int64 {
	return c.RelationID
}

// WithIdentity returns a copy whose RelationID matches its current content.
func (c Crew) WithIdentity() Crew {
	c.RelationID = c.Identity()
	return c
}

// Relation is implemented by embedded movie relation entries.
type Relation[T any] interface {
	Identity() int64
	StoredIdentity() int64
	WithIdentity() T
}

// FindRelation returns the index of the entry stored under relationID, or -1.
func FindRelation[T Relation[T]](entries []T, relationID int64) int {
	for index, entry := range entries {
		if entry.StoredIdentity() == relationID {
			return index
		}
	}
	return -1
}

// AddRelation appends the entry with a freshly derived identity.
// The input slice is never modified.
func AddRelation[T Relation[T]](entries []T, entry T) ([]T, T, error) {
	stamped := entry.WithIdentity()
	identity := stamped.StoredIdentity()
	if FindRelation(entries, identity) >= 0 {
		return nil, stamped, fmt.Errorf("%w: relation %d already present", ErrConflict, identity)
	}
	updated := make([]T, 0, len(entries)+1)
	updated = append(updated, entries...)
	updated = append(updated, stamped)
	return updated, stamped, nil
}

// ReplaceRelation swaps the entry stored under relationID for patched, re-deriving its identity.
// A recomputed identity equal to the entry's own is allowed; equal to any other entry is a conflict.
func ReplaceRelation[T Relation[T]](entries []T, relationID int64, patched T) ([]T, T, error) {
	position := FindRelation(entries, relationID)
	if position < 0 {
		return nil, patched, fmt.Errorf("%w: relation %d", ErrNotFound, relationID)
	}
	stamped := patched.WithIdentity()
	identity := stamped.StoredIdentity()
	for index, entry := range entries {
		if index != position && entry.StoredIdentity() == identity {
			return nil, stamped, fmt.Errorf("%w: relation %d already present", ErrConflict, identity)
		}
	}
	updated := make([]T, len(entries))
	copy(updated, entries)
	updated[position] = stamped
	return updated, stamped, nil
}

// RemoveRelation drops the entry stored under relationID.
func RemoveRelation[T Relation[T]](entries []T, relationID int64) ([]T, T, error) {
	var removed T
	position := FindRelation(entries, relationID)
	if position < 0 {
		return nil, removed, fmt.Errorf("%w: relation %d", ErrNotFound, relationID)
	}
	removed = entries[position]
	updated := make([]T, 0, len(entries)-1)
	updated = append(updated, entries[:position]...)
	updated = append(updated, entries[position+1:]...)
	return updated, removed, nil
}
