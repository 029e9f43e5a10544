package database

import "github.com/google/uuid"

// GenerateID returns a random UUID v4 for a new scan.
func GenerateID() string {
	return uuid.NewString()
}
