package utils

import (
	"github.com/google/uuid"
)

// GenerateID generates a unique ID for a fit run
func GenerateID() string {
	return uuid.NewString()
}

// ShortID returns the first 8 characters of a new ID, for log lines and file names.
func ShortID() string {
	return GenerateID()[:8]
}
