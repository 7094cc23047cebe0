package repos

import (
	"strings"
)

// IsUniqueViolation reports whether err came from a unique-constraint
// violation, which the Reporter's dedupe path treats as an expected outcome.
// Matching by message keeps both Postgres and the sqlite dev driver covered
// without importing a driver-specific error type.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
