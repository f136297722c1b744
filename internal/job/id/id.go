// Package id provides unique identifier generation for jobs.
package id

import "github.com/google/uuid"

// Generate creates a new unique job ID as a random (v4) UUID string.
// Example: 3f0c6a52-8d0e-4b8e-9b8f-1b1d3c2f7a10
func Generate() string {
	return uuid.NewString()
}

// Valid reports whether s has the shape of a generated job ID.
func Valid(s string) bool {
	return uuid.Validate(s) == nil
}
