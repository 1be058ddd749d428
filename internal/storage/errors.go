package storage

import (
	"errors"
	"strings"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrValidation marks readings that are missing required fields.
	ErrValidation = errors.New("storage: invalid reading")
	// ErrSchema marks failures to inspect or create the readings table.
	ErrSchema = errors.New("storage: schema unavailable")
	// ErrBackendUnavailable marks query failures against the backend.
	ErrBackendUnavailable = errors.New("storage: backend unavailable")
	// ErrNoData is returned by Latest when nothing falls inside the lookback.
	ErrNoData = errors.New("storage: no data")
)

// ValidationError lists the missing or malformed ingestion fields.
type ValidationError struct {
	Missing []string
	Reason  string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return "missing required fields: " + strings.Join(e.Missing, ", ")
	}
	return "invalid reading: " + e.Reason
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
