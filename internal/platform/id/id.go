// Package id generates unique identifiers for commands and domain records.
package id

import "github.com/google/uuid"

// New returns a new random identifier string.
func New() string {
	return uuid.NewString()
}
