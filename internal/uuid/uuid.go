// Package uuid provides UUID v4 generation and validation utilities.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// IsValid checks if a string is a valid UUID.
func IsValid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// Validate returns an error if the string is not a valid UUID.
// HTTP handlers use this to reject malformed recording ids before
// they reach the ledger.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID format: %q", s)
	}
	return nil
}
