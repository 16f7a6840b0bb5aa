// Package uuid generates identifiers for records created while offline.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces a new identifier string.
type Generator func() string

// New generates a time-ordered UUID v7. Records created on the device get
// ids that sort by creation time, which keeps remote primary-key indexes compact.
// Falls back to v4 if the v7 clock sequence cannot be read.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// NewV4 generates a random UUID v4.
func NewV4() string {
	return uuid.New().String()
}

// Parse validates s as a canonical, dashed UUID of any version.
func Parse(s string) (uuid.UUID, error) {
	if len(s) != 36 {
		return uuid.Nil, fmt.Errorf("invalid UUID length %d: %q", len(s), s)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID: %w", err)
	}
	return id, nil
}

// IsValid reports whether s is a canonical, dashed UUID.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}
