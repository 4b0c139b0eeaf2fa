// Package uuid allocates run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator issues time-ordered (v7) run IDs so run history sorts by start.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewRawID returns a fresh v7 run ID.
func (Generator) NewRawID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}

// NewID returns a fresh run ID in string form.
func (g Generator) NewID() (string, error) {
	id, err := g.NewRawID()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Parse validates a run ID supplied by a caller.
func Parse(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse run id %q: %w", s, err)
	}
	return id, nil
}
