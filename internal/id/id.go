package id

import "github.com/google/uuid"

func New() string {
	return uuid.NewString()
}

// Short returns the first 12 characters of a fresh id, for file names.
func Short() string {
	return New()[:12]
}
