package id

import "github.com/google/uuid"

// New returns a random (version 4) UUID string used as a job identifier.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
