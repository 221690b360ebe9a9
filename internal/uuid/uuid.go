// Package uuid generates identifiers for outbox entries, log entries and records.
package uuid

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// canonical 8-4-4-4-12 lowercase/uppercase hex form, any version
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[1-8][0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New generates a random (v4) UUID.
func New() string {
	return uuid.New().String()
}

// NewOrdered generates a time-ordered (v7) UUID. IDs generated by one
// process sort in creation order, which the capped sync log relies on
// to break created_at ties.
func NewOrdered() string {
	id, err := uuid.NewV7()
	if err != nil {
		return New()
	}
	return id.String()
}

// IsValid checks if s is a canonical UUID string.
func IsValid(s string) bool {
	return uuidRegex.MatchString(s)
}

// Validate returns an error if s is not a canonical UUID string.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID format: %q", s)
	}
	return nil
}
