// Package id mints job identifiers.
package id

import "github.com/google/uuid"

// New returns a time-ordered UUIDv7, falling back to v4 if the clock source
// fails.
func New() string {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return u.String()
}

// Valid reports whether s looks like an id minted by New.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
