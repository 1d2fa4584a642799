package catalog

import (
	"fmt"

	"github.com/google/uuid"
)

// IDProvider issues identifiers for newly created movies, people, and assessments.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider returns an IDProvider issuing time-ordered UUIDv7 strings.
func NewUUIDProvider() IDProvider {
	return uuidProvider{}
}

func (uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("catalog: generate id: %w", err)
	}
	return value.String(), nil
}

// SequenceProvider issues prefixed sequential identifiers. It is not safe for concurrent use.
type SequenceProvider struct {
	Prefix string
	next   int
}

func (p *SequenceProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("%s%d", p.Prefix, p.next), nil
}
